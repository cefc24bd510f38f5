package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// Limits caps the number of linked accounts. Negative values mean unlimited.
type Limits struct {
	MaxAccounts    int
	MaxPerInstance int
}

// LoginResult describes a completed login.
type LoginResult struct {
	Account   model.Account
	Refreshed bool // An existing link got a new token.
}

// AccountService manages the lifecycle of linked accounts: login, logout
// and reacting to conversations being abandoned.
type AccountService struct {
	accounts driven.AccountStore
	contacts driven.ContactChatStore
	pending  driven.PendingLoginStore
	sessions *SessionFactory
	chat     driven.ChatTransport
	limits   Limits
	avatar   *model.MediaFile
	now      func() time.Time
}

// NewAccountService creates an AccountService. avatar, when set, becomes
// the image of newly created home and notification conversations.
func NewAccountService(
	accounts driven.AccountStore,
	contacts driven.ContactChatStore,
	pending driven.PendingLoginStore,
	sessions *SessionFactory,
	chat driven.ChatTransport,
	limits Limits,
	avatar *model.MediaFile,
) *AccountService {
	return &AccountService{
		accounts: accounts,
		contacts: contacts,
		pending:  pending,
		sessions: sessions,
		chat:     chat,
		limits:   limits,
		avatar:   avatar,
		now:      time.Now,
	}
}

// Login links addr to a remote account using a username and password.
// Logging in again to the same remote account refreshes the stored token.
func (s *AccountService) Login(ctx context.Context, addr, rawInstance, username, password string) (LoginResult, error) {
	instance, err := NormalizeInstanceURL(rawInstance)
	if err != nil {
		return LoginResult{}, err
	}

	existing, err := s.admit(ctx, addr, instance)
	if err != nil {
		return LoginResult{}, err
	}

	sess, err := s.sessions.PasswordLogin(ctx, instance, username, password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("log in to %s: %w", instance, err)
	}

	return s.link(ctx, addr, sess, existing)
}

// BeginAuthorization starts an authorization-code login and returns the URL
// the user must visit. The code shown there is redeemed with
// CompleteAuthorization.
func (s *AccountService) BeginAuthorization(ctx context.Context, addr, rawInstance string) (string, error) {
	instance, err := NormalizeInstanceURL(rawInstance)
	if err != nil {
		return "", err
	}

	if _, err := s.admit(ctx, addr, instance); err != nil {
		return "", err
	}

	state := uuid.NewString()
	authURL, cred, err := s.sessions.AuthorizationURL(ctx, instance, state)
	if err != nil {
		return "", fmt.Errorf("authorize with %s: %w", instance, err)
	}

	err = s.pending.Put(ctx, model.PendingLogin{
		Addr:         addr,
		Instance:     instance,
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		State:        state,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("save pending login: %w", err)
	}

	return authURL, nil
}

// CompleteAuthorization redeems the code of a login started with
// BeginAuthorization.
func (s *AccountService) CompleteAuthorization(ctx context.Context, addr, code string) (LoginResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return LoginResult{}, ErrWrongUsage
	}

	p, err := s.pending.Get(ctx, addr)
	if errors.Is(err, driven.ErrPendingLoginNotFound) {
		return LoginResult{}, ErrNoPendingLogin
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("load pending login: %w", err)
	}

	existing, err := s.admit(ctx, addr, p.Instance)
	if err != nil {
		return LoginResult{}, err
	}

	cred := model.InstanceCredential{Instance: p.Instance, ClientID: p.ClientID, ClientSecret: p.ClientSecret}
	sess, err := s.sessions.ExchangeCode(ctx, cred, code)
	if err != nil {
		return LoginResult{}, fmt.Errorf("redeem authorization code: %w", err)
	}

	if err := s.pending.Delete(ctx, addr); err != nil {
		slog.Warn("delete pending login failed", "addr", addr, "error", err)
	}

	return s.link(ctx, addr, sess, existing)
}

// Logout unlinks addr, leaving every conversation bound to it. It returns
// the removed account, or ErrNotLoggedIn when there was none.
func (s *AccountService) Logout(ctx context.Context, addr string) (model.Account, error) {
	acc, err := s.accounts.Get(ctx, addr)
	if errors.Is(err, driven.ErrAccountNotFound) {
		return model.Account{}, ErrNotLoggedIn
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("load account: %w", err)
	}

	if err := removeAccount(ctx, s.accounts, s.chat, *acc); err != nil {
		if errors.Is(err, driven.ErrAccountNotFound) {
			return model.Account{}, ErrNotLoggedIn
		}
		return model.Account{}, err
	}

	slog.Info("account logged out", "addr", addr, "instance", acc.Instance)
	return *acc, nil
}

// SetMuted toggles delivery of one stream of addr's account.
func (s *AccountService) SetMuted(ctx context.Context, addr string, stream model.Stream, muted bool) error {
	err := s.accounts.SetMuted(ctx, addr, stream, muted)
	if errors.Is(err, driven.ErrAccountNotFound) {
		return ErrNotLoggedIn
	}
	if err != nil {
		return fmt.Errorf("set %s mute: %w", stream, err)
	}
	return nil
}

// HandleMembership reacts to a member leaving a conversation. When the
// bridge was removed, or only the bridge remains, a timeline conversation
// logs its account out and a contact conversation loses its binding.
func (s *AccountService) HandleMembership(ctx context.Context, change model.MembershipChange) error {
	if !change.IsSelf {
		members, err := s.chat.Members(ctx, change.ChatID)
		if err != nil {
			return fmt.Errorf("list members of %s: %w", change.ChatID, err)
		}
		if len(members) > 1 {
			return nil
		}
	}

	acc, err := s.accounts.GetByChat(ctx, change.ChatID)
	switch {
	case err == nil:
		if err := removeAccount(ctx, s.accounts, s.chat, *acc); err != nil && !errors.Is(err, driven.ErrAccountNotFound) {
			return err
		}
		slog.Info("account logged out after leaving conversation", "addr", acc.Addr, "chat", change.ChatID)
		notice := model.OutgoingMessage{Text: "✔️ You logged out from: " + acc.Instance}
		if err := s.chat.SendDirect(ctx, acc.Addr, notice); err != nil {
			slog.Warn("logout notice failed", "addr", acc.Addr, "error", err)
		}
		return nil
	case !errors.Is(err, driven.ErrAccountNotFound):
		return fmt.Errorf("look up account by chat: %w", err)
	}

	cc, err := s.contacts.GetByChat(ctx, change.ChatID)
	if errors.Is(err, driven.ErrContactChatNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up contact chat: %w", err)
	}

	if err := s.contacts.Delete(ctx, cc.ChatID); err != nil && !errors.Is(err, driven.ErrContactChatNotFound) {
		return fmt.Errorf("delete contact chat: %w", err)
	}
	if !change.IsSelf {
		if err := s.chat.Leave(ctx, cc.ChatID); err != nil {
			slog.Warn("leave contact chat failed", "chat", cc.ChatID, "error", err)
		}
	}
	slog.Info("contact chat unbound", "addr", cc.AccountAddr, "contact", cc.Contact)
	return nil
}

// admit checks whether addr may log in to instance. It returns the account
// addr already owns on that same instance, if any.
func (s *AccountService) admit(ctx context.Context, addr, instance string) (*model.Account, error) {
	existing, err := s.accounts.Get(ctx, addr)
	if err == nil {
		if existing.Instance != instance {
			return nil, ErrAlreadyLoggedIn
		}
		return existing, nil
	}
	if !errors.Is(err, driven.ErrAccountNotFound) {
		return nil, fmt.Errorf("load account: %w", err)
	}

	if s.limits.MaxAccounts >= 0 {
		n, err := s.accounts.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count accounts: %w", err)
		}
		if n >= s.limits.MaxAccounts {
			return nil, ErrTooManyAccounts
		}
	}
	if s.limits.MaxPerInstance >= 0 {
		n, err := s.accounts.CountByInstance(ctx, instance)
		if err != nil {
			return nil, fmt.Errorf("count instance accounts: %w", err)
		}
		if n >= s.limits.MaxPerInstance {
			return nil, ErrTooManyInstanceAccounts
		}
	}
	return nil, nil
}

// link stores the authenticated session. An existing account is only
// updated when the session belongs to the same remote user.
func (s *AccountService) link(ctx context.Context, addr string, sess driven.RemoteSession, existing *model.Account) (LoginResult, error) {
	me, err := sess.VerifyCredentials(ctx)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify credentials: %w", err)
	}
	user := strings.ToLower(me.Acct)

	if existing != nil {
		if !strings.EqualFold(existing.User, user) {
			return LoginResult{}, ErrAlreadyLoggedIn
		}
		if err := s.accounts.UpdateCredentials(ctx, addr, user, sess.AccessToken()); err != nil {
			return LoginResult{}, fmt.Errorf("refresh credentials: %w", err)
		}
		existing.User = user
		existing.Token = sess.AccessToken()
		slog.Info("account credentials refreshed", "addr", addr, "instance", existing.Instance)
		return LoginResult{Account: *existing, Refreshed: true}, nil
	}

	lastNotif, err := newestID(sess.Notifications(ctx, model.Page{Limit: 1}))
	if err != nil {
		return LoginResult{}, fmt.Errorf("prime notifications cursor: %w", err)
	}
	lastHome, err := newestStatusID(sess.HomeTimeline(ctx, model.Page{Limit: 1}))
	if err != nil {
		return LoginResult{}, fmt.Errorf("prime home cursor: %w", err)
	}

	host := instanceHost(sess.Instance())
	home, err := s.chat.CreateConversation(ctx, "Home ("+host+")", []string{addr})
	if err != nil {
		return LoginResult{}, fmt.Errorf("create home conversation: %w", err)
	}
	notif, err := s.chat.CreateConversation(ctx, "Notifications ("+host+")", []string{addr})
	if err != nil {
		s.leave(ctx, home)
		return LoginResult{}, fmt.Errorf("create notifications conversation: %w", err)
	}

	acc := model.Account{
		Addr:        addr,
		Instance:    sess.Instance(),
		User:        user,
		Token:       sess.AccessToken(),
		HomeChat:    home,
		NotifChat:   notif,
		LastHomeID:  lastHome,
		LastNotifID: lastNotif,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		s.leave(ctx, home)
		s.leave(ctx, notif)
		if errors.Is(err, driven.ErrAccountAlreadyExists) {
			return LoginResult{}, ErrAlreadyLoggedIn
		}
		return LoginResult{}, fmt.Errorf("create account: %w", err)
	}

	if s.avatar != nil {
		for _, chatID := range []string{home, notif} {
			if err := s.chat.SetAvatar(ctx, chatID, *s.avatar); err != nil {
				slog.Warn("set conversation avatar failed", "chat", chatID, "error", err)
			}
		}
	}

	welcome := model.OutgoingMessage{Text: "ℹ️ Messages sent here will be published in " + acc.Instance}
	if err := s.chat.SendMessage(ctx, home, welcome); err != nil {
		slog.Warn("welcome message failed", "chat", home, "error", err)
	}

	slog.Info("account linked", "addr", addr, "instance", acc.Instance, "user", user)
	return LoginResult{Account: acc}, nil
}

func (s *AccountService) leave(ctx context.Context, chatID string) {
	if err := s.chat.Leave(ctx, chatID); err != nil {
		slog.Warn("leave conversation failed", "chat", chatID, "error", err)
	}
}

// removeAccount deletes acc with its contact bindings and leaves every
// conversation that was bound to it. Leave failures are logged only.
func removeAccount(ctx context.Context, accounts driven.AccountStore, chat driven.ChatTransport, acc model.Account) error {
	contacts, err := accounts.Delete(ctx, acc.Addr)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", acc.Addr, err)
	}

	chats := make([]string, 0, len(contacts)+2)
	for _, cc := range contacts {
		chats = append(chats, cc.ChatID)
	}
	chats = append(chats, acc.HomeChat, acc.NotifChat)

	for _, chatID := range chats {
		if chatID == "" {
			continue
		}
		if err := chat.Leave(ctx, chatID); err != nil {
			slog.Warn("leave conversation failed", "addr", acc.Addr, "chat", chatID, "error", err)
		}
	}
	return nil
}

func newestID(notifs []model.Notification, err error) (string, error) {
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(notifs))
	for _, n := range notifs {
		ids = append(ids, n.ID)
	}
	return model.MaxID(ids...), nil
}

func newestStatusID(sts []model.Status, err error) (string, error) {
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(sts))
	for _, st := range sts {
		ids = append(ids, st.ID)
	}
	return model.MaxID(ids...), nil
}
