package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

const (
	timelineLimit = 20
	profilePosts  = 10
)

const publishHint = "❌ To publish messages you must send them in your Home chat."

// Syncer triggers an out-of-turn sync of one account.
type Syncer interface {
	SyncNow(ctx context.Context, addr string) error
}

// command is one chat command. run returns the reply, which is empty when
// the command has nothing to say.
type command struct {
	usage string
	help  string
	run   func(ctx context.Context, h *CommandHandler, msg model.InboundMessage, payload string) (reply, error)
}

type reply struct {
	chatID string // Defaults to the invoking conversation.
	direct bool   // Send to the sender's private conversation.
	text   string
}

func say(text string) (reply, error) { return reply{text: text}, nil }

// CommandHandler interprets messages local users send to the bridge:
// commands anywhere, posts in home and contact conversations.
type CommandHandler struct {
	accounts  driven.AccountStore
	contacts  driven.ContactChatStore
	lifecycle *AccountService
	sessions  *SessionFactory
	relay     *Relay
	mapper    *ContactMapper
	renderer  *Renderer
	chat      driven.ChatTransport
	syncer    Syncer
	prefix    string
	commands  map[string]command
}

// NewCommandHandler creates a CommandHandler. syncer may be nil, which
// disables the sync command.
func NewCommandHandler(
	accounts driven.AccountStore,
	contacts driven.ContactChatStore,
	lifecycle *AccountService,
	sessions *SessionFactory,
	relay *Relay,
	mapper *ContactMapper,
	renderer *Renderer,
	chat driven.ChatTransport,
	syncer Syncer,
	prefix string,
) *CommandHandler {
	h := &CommandHandler{
		accounts:  accounts,
		contacts:  contacts,
		lifecycle: lifecycle,
		sessions:  sessions,
		relay:     relay,
		mapper:    mapper,
		renderer:  renderer,
		chat:      chat,
		syncer:    syncer,
		prefix:    prefix,
	}
	h.commands = commandTable()
	if syncer == nil {
		delete(h.commands, "sync")
	}
	return h
}

// Handle processes one inbound message and sends the replies. Errors meant
// for the user are turned into replies; the returned error only reports
// replies that could not be delivered.
func (h *CommandHandler) Handle(ctx context.Context, msg model.InboundMessage) error {
	var (
		r   reply
		err error
	)
	if name, payload, ok := h.parse(msg.Text); ok {
		r, err = h.dispatch(ctx, msg, name, payload)
	} else {
		r, err = h.publish(ctx, msg)
	}

	if err != nil {
		r = reply{text: UserMessage(err)}
		if !isUserError(err) {
			slog.Error("command failed", "sender", msg.Sender, "chat", msg.ChatID, "error", err)
		}
	}
	if r.text == "" {
		return nil
	}

	out := model.OutgoingMessage{Text: r.text}
	if r.direct {
		return h.chat.SendDirect(ctx, msg.Sender, out)
	}
	chatID := r.chatID
	if chatID == "" {
		chatID = msg.ChatID
	}
	return h.chat.SendMessage(ctx, chatID, out)
}

// parse splits "/{prefix}name payload". "/name_payload" is read as
// "/name payload" unless name_payload is itself a command.
func (h *CommandHandler) parse(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	lead := "/" + h.prefix
	if !strings.HasPrefix(text, lead) || len(text) == len(lead) {
		return "", "", false
	}

	rest := text[len(lead):]
	token, payload, _ := strings.Cut(rest, " ")
	if i := strings.IndexAny(token, "\n\t"); i >= 0 {
		payload = token[i+1:] + " " + payload
		token = token[:i]
	}
	token = strings.ToLower(token)
	payload = strings.TrimSpace(payload)

	if _, ok := h.commands[token]; ok {
		return token, payload, true
	}
	if name, arg, ok := strings.Cut(token, "_"); ok {
		if _, known := h.commands[name]; known {
			return name, strings.TrimSpace(arg + " " + payload), true
		}
	}
	return token, payload, true
}

func (h *CommandHandler) dispatch(ctx context.Context, msg model.InboundMessage, name, payload string) (reply, error) {
	cmd, ok := h.commands[name]
	if !ok {
		return say(fmt.Sprintf("❌ Unknown command, send %s for help", h.renderer.Command("help", "")))
	}
	return cmd.run(ctx, h, msg, payload)
}

// publish relays a plain message posted in a home or contact conversation.
func (h *CommandHandler) publish(ctx context.Context, msg model.InboundMessage) (reply, error) {
	acc, err := h.accounts.GetByChat(ctx, msg.ChatID)
	switch {
	case err == nil:
		if acc.Addr != msg.Sender {
			return reply{}, nil
		}
		if msg.ChatID != acc.HomeChat {
			return say(publishHint)
		}
		_, err := h.relay.Publish(ctx, *acc, PublishRequest{Text: msg.Text, Media: msg.Media})
		return reply{}, err
	case !errors.Is(err, driven.ErrAccountNotFound):
		return reply{}, fmt.Errorf("look up account by chat: %w", err)
	}

	cc, err := h.contacts.GetByChat(ctx, msg.ChatID)
	if errors.Is(err, driven.ErrContactChatNotFound) {
		return say(publishHint)
	}
	if err != nil {
		return reply{}, fmt.Errorf("look up contact chat: %w", err)
	}
	if cc.AccountAddr != msg.Sender {
		return reply{}, nil
	}

	owner, err := h.account(ctx, msg.Sender)
	if err != nil {
		return reply{}, err
	}
	_, err = h.relay.PublishToContact(ctx, *owner, *cc, PublishRequest{Text: msg.Text, Media: msg.Media})
	return reply{}, err
}

func (h *CommandHandler) account(ctx context.Context, addr string) (*model.Account, error) {
	acc, err := h.accounts.Get(ctx, addr)
	if errors.Is(err, driven.ErrAccountNotFound) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acc, nil
}

func (h *CommandHandler) session(ctx context.Context, addr string) (*model.Account, driven.RemoteSession, error) {
	acc, err := h.account(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	return acc, h.sessions.ForAccount(*acc), nil
}

// resolveUser finds a remote account by numeric id or by handle. A handle
// matches an account whose acct equals it, with or without the domain.
func resolveUser(ctx context.Context, sess driven.RemoteSession, query string) (*model.RemoteAccount, error) {
	query = model.NormalizeHandle(query)
	if query == "" {
		return nil, ErrWrongUsage
	}

	if isNumeric(query) {
		a, err := sess.Account(ctx, query)
		if errors.Is(err, driven.ErrRemoteNotFound) {
			return nil, fmt.Errorf("%s: %w", query, ErrUserNotFound)
		}
		return a, err
	}

	local, _, _ := strings.Cut(query, "@")
	res, err := sess.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", query, err)
	}
	for i := range res.Accounts {
		acct := strings.ToLower(res.Accounts[i].Acct)
		if acct == query || acct == local {
			return &res.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", query, ErrUserNotFound)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// UserMessage renders an error as a chat reply.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		return "❌ You are not logged in"
	case errors.Is(err, ErrAlreadyLoggedIn):
		return "❌ You are already logged in."
	case errors.Is(err, ErrTooManyAccounts):
		return "❌ No more users allowed in this bot."
	case errors.Is(err, ErrTooManyInstanceAccounts):
		return "❌ No more users from this instance allowed in this bot."
	case errors.Is(err, ErrWrongUsage):
		return "❌ Wrong usage"
	case errors.Is(err, ErrUserNotFound):
		return "❌ Account not found"
	case errors.Is(err, ErrNoPendingLogin):
		return "❌ No login in progress, start one with login INSTANCE"
	case errors.Is(err, driven.ErrRemoteNotFound):
		return "❌ Nothing found"
	case errors.Is(err, driven.ErrUnauthorized):
		return "❌ The instance rejected your credentials"
	case errors.Is(err, driven.ErrForbidden):
		return "❌ The instance does not allow this action for your account"
	case errors.Is(err, driven.ErrUnreachable):
		return "❌ The instance is unreachable, try again later"
	case errors.Is(err, driven.ErrRegistrationFailed):
		return "❌ The instance does not allow app registration, log in with login INSTANCE USER PASSWORD"
	case errors.Is(err, driven.ErrUnsupportedMedia):
		return "❌ Unsupported attachment"
	default:
		return "❌ ERROR: " + err.Error()
	}
}

func isUserError(err error) bool {
	for _, target := range []error{
		ErrNotLoggedIn, ErrAlreadyLoggedIn, ErrTooManyAccounts, ErrTooManyInstanceAccounts,
		ErrWrongUsage, ErrUserNotFound, ErrNoPendingLogin, driven.ErrRemoteNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
