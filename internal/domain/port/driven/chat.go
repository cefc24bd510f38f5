package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// ErrUnsupportedMedia is returned by a Transcoder that cannot convert the
// given file.
var ErrUnsupportedMedia = errors.New("unsupported media")

// ChatTransport delivers messages and manages conversations on the local
// chat network.
type ChatTransport interface {
	// CreateConversation opens a group conversation containing the bridge
	// and members, returning its id.
	CreateConversation(ctx context.Context, name string, members []string) (string, error)
	SendMessage(ctx context.Context, chatID string, msg model.OutgoingMessage) error
	// SendDirect messages a local user in their private conversation with
	// the bridge, creating it when needed.
	SendDirect(ctx context.Context, addr string, msg model.OutgoingMessage) error
	Members(ctx context.Context, chatID string) ([]string, error)
	SetAvatar(ctx context.Context, chatID string, image model.MediaFile) error
	Leave(ctx context.Context, chatID string) error
}

// Transcoder converts media the remote does not accept.
type Transcoder interface {
	NeedsTranscode(media model.MediaFile) bool
	Transcode(ctx context.Context, media model.MediaFile) (model.MediaFile, error)
}

// Metrics records bridge activity.
type Metrics interface {
	CycleCompleted(duration time.Duration, accounts int)
	AccountSynced(result string)
	MessagesDelivered(kind string, n int)
	PostPublished()
}
