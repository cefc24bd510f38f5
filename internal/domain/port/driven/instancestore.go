package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// Sentinel errors returned by InstanceStore and PendingLoginStore.
var (
	ErrInstanceNotFound     = errors.New("instance credential not found")
	ErrPendingLoginNotFound = errors.New("pending login not found")
)

// InstanceStore caches per-instance client registrations. Save never
// overwrites an existing row.
type InstanceStore interface {
	Get(ctx context.Context, instance string) (*model.InstanceCredential, error)
	Save(ctx context.Context, cred model.InstanceCredential) error
}

// PendingLoginStore tracks half-finished authorization-code logins, at most
// one per local address.
type PendingLoginStore interface {
	Put(ctx context.Context, p model.PendingLogin) error
	Get(ctx context.Context, addr string) (*model.PendingLogin, error)
	Delete(ctx context.Context, addr string) error
}

// DirectChatStore remembers the private conversation the bridge uses to
// talk to each local user.
type DirectChatStore interface {
	GetDirectChat(ctx context.Context, addr string) (string, error)
	SetDirectChat(ctx context.Context, addr, chatID string) error
}
