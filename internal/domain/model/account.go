package model

import (
	"strings"
	"time"
)

// Stream identifies one of the two polled timelines of a linked account.
type Stream string

const (
	StreamHome          Stream = "home"
	StreamNotifications Stream = "notifications"
)

// Account links a local chat user to a remote Mastodon account. A local
// address owns at most one Account.
type Account struct {
	Addr      string // Local chat address, e.g. "@alice:example.org".
	Instance  string // Normalized instance base URL.
	User      string // Remote login name or handle.
	Token     string // Access token; never logged.
	HomeChat  string // Conversation receiving the home timeline.
	NotifChat string // Conversation receiving notifications.

	// Cursors hold the newest id already delivered; empty means the stream
	// was never synced and the next pass only primes it.
	LastHomeID  string
	LastNotifID string

	MutedHome  bool
	MutedNotif bool
	CreatedAt  time.Time
}

// Cursor returns the stored cursor of the given stream.
func (a Account) Cursor(s Stream) string {
	if s == StreamHome {
		return a.LastHomeID
	}
	return a.LastNotifID
}

// Muted reports whether the given stream is muted.
func (a Account) Muted(s Stream) bool {
	if s == StreamHome {
		return a.MutedHome
	}
	return a.MutedNotif
}

// OwnsChat reports whether chatID is one of the account's bound timeline
// conversations.
func (a Account) OwnsChat(chatID string) bool {
	return chatID != "" && (chatID == a.HomeChat || chatID == a.NotifChat)
}

// ContactChat binds a remote correspondent to a private conversation of an
// account. Contact is stored lowercased without a leading "@".
type ContactChat struct {
	ChatID      string
	Contact     string
	AccountAddr string
	CreatedAt   time.Time
}

// NormalizeHandle canonicalizes a remote handle for contact lookups.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
