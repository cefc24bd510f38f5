package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// MediaFetcher downloads remote media.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, url string) (*model.MediaFile, error)
}

// ContactMapper resolves remote contacts to one-to-one conversations,
// creating them on first contact.
type ContactMapper struct {
	contacts driven.ContactChatStore
	chat     driven.ChatTransport
	media    MediaFetcher
	locks    keyedMutex
}

// NewContactMapper creates a ContactMapper. media may be nil to skip avatars.
func NewContactMapper(contacts driven.ContactChatStore, chat driven.ChatTransport, media MediaFetcher) *ContactMapper {
	return &ContactMapper{contacts: contacts, chat: chat, media: media}
}

// Resolve returns the conversation bound to contact for acc. Handles compare
// case-insensitively. Calls for one account are serialized, and the store's
// unique constraint backs that up across processes.
func (m *ContactMapper) Resolve(ctx context.Context, acc model.Account, contact model.RemoteAccount) (string, bool, error) {
	handle := model.NormalizeHandle(contact.Acct)
	if handle == "" {
		return "", false, fmt.Errorf("resolve contact: %w", ErrUserNotFound)
	}

	unlock := m.locks.Lock(acc.Addr)
	defer unlock()

	existing, err := m.contacts.Get(ctx, acc.Addr, handle)
	if err == nil {
		return existing.ChatID, false, nil
	}
	if !errors.Is(err, driven.ErrContactChatNotFound) {
		return "", false, fmt.Errorf("look up contact chat: %w", err)
	}

	chatID, err := m.chat.CreateConversation(ctx, contact.Acct, []string{acc.Addr})
	if err != nil {
		return "", false, fmt.Errorf("create conversation for %s: %w", handle, err)
	}

	stored, created, err := m.contacts.Create(ctx, model.ContactChat{
		ChatID:      chatID,
		Contact:     handle,
		AccountAddr: acc.Addr,
	})
	if err != nil {
		m.abandon(ctx, chatID)
		return "", false, fmt.Errorf("bind contact chat: %w", err)
	}
	if !created {
		m.abandon(ctx, chatID)
		return stored.ChatID, false, nil
	}

	m.setAvatar(ctx, chatID, contact)

	slog.Info("contact chat created", "account", acc.Addr, "contact", handle, "chat", chatID)
	return chatID, true, nil
}

// setAvatar copies the contact's avatar to the conversation. Failures are
// logged only.
func (m *ContactMapper) setAvatar(ctx context.Context, chatID string, contact model.RemoteAccount) {
	avatar := contact.AvatarStatic
	if avatar == "" {
		avatar = contact.Avatar
	}
	if avatar == "" || m.media == nil {
		return
	}

	img, err := m.media.FetchMedia(ctx, avatar)
	if err != nil {
		slog.Warn("fetch contact avatar failed", "contact", contact.Acct, "error", err)
		return
	}
	if err := m.chat.SetAvatar(ctx, chatID, *img); err != nil {
		slog.Warn("set contact avatar failed", "contact", contact.Acct, "chat", chatID, "error", err)
	}
}

func (m *ContactMapper) abandon(ctx context.Context, chatID string) {
	if err := m.chat.Leave(ctx, chatID); err != nil {
		slog.Warn("leave abandoned conversation failed", "chat", chatID, "error", err)
	}
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
