package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// Sentinel errors returned by AccountStore implementations.
var (
	// ErrAccountNotFound indicates no account is linked to the address or chat.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountAlreadyExists indicates the local address already owns an account.
	ErrAccountAlreadyExists = errors.New("account already exists")
)

// AccountStore defines the driven port for linked account persistence.
// Delete cascades to the account's contact chats and returns the removed
// bindings so the caller can leave those conversations.
type AccountStore interface {
	Create(ctx context.Context, acc model.Account) error
	Get(ctx context.Context, addr string) (*model.Account, error)
	GetByChat(ctx context.Context, chatID string) (*model.Account, error)
	ListAll(ctx context.Context) ([]model.Account, error)
	Count(ctx context.Context) (int, error)
	CountByInstance(ctx context.Context, instance string) (int, error)
	UpdateCredentials(ctx context.Context, addr, user, token string) error
	SetCursor(ctx context.Context, addr string, stream model.Stream, id string) error
	SetMuted(ctx context.Context, addr string, stream model.Stream, muted bool) error
	Delete(ctx context.Context, addr string) ([]model.ContactChat, error)
}
