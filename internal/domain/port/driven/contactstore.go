package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// ErrContactChatNotFound indicates no contact chat matches the lookup.
var ErrContactChatNotFound = errors.New("contact chat not found")

// ContactChatStore defines the driven port for contact chat bindings.
// Contacts are matched case-insensitively. Create keeps the existing row when
// the (account, contact) pair is already bound and returns it with
// created=false.
type ContactChatStore interface {
	Create(ctx context.Context, cc model.ContactChat) (model.ContactChat, bool, error)
	Get(ctx context.Context, addr, contact string) (*model.ContactChat, error)
	GetByChat(ctx context.Context, chatID string) (*model.ContactChat, error)
	ListByAccount(ctx context.Context, addr string) ([]model.ContactChat, error)
	Delete(ctx context.Context, chatID string) error
}
