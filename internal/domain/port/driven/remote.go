package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// Error kinds reported by remote adapters. Adapters wrap transport errors
// with one of these so callers can branch with errors.Is.
var (
	// ErrUnauthorized means the stored credentials were rejected.
	ErrUnauthorized = errors.New("remote rejected credentials")

	// ErrForbidden means the instance refused one action while the
	// credentials themselves remain valid, e.g. a token missing a scope.
	ErrForbidden = errors.New("remote refused the action")

	// ErrUnreachable covers network failures, timeouts, throttling and
	// server errors. The operation may succeed later.
	ErrUnreachable = errors.New("remote unreachable")

	// ErrRegistrationFailed means the instance refused the app registration.
	ErrRegistrationFailed = errors.New("app registration failed")

	// ErrRemoteNotFound means the requested remote object does not exist.
	ErrRemoteNotFound = errors.New("remote object not found")
)

// RemoteClient creates sessions against remote instances.
type RemoteClient interface {
	// RegisterApp registers the bridge as an OAuth client of instance.
	RegisterApp(ctx context.Context, instance string) (model.InstanceCredential, error)

	// Session wraps an existing access token.
	Session(instance, token string) RemoteSession

	// PasswordLogin exchanges user credentials for a session.
	PasswordLogin(ctx context.Context, cred model.InstanceCredential, username, password string) (RemoteSession, error)

	// AuthorizationURL builds the URL a user visits to obtain an
	// authorization code.
	AuthorizationURL(cred model.InstanceCredential, state string) (string, error)

	// ExchangeCode completes an authorization-code login.
	ExchangeCode(ctx context.Context, cred model.InstanceCredential, code string) (RemoteSession, error)

	// FetchMedia downloads a remote media file such as an avatar.
	FetchMedia(ctx context.Context, url string) (*model.MediaFile, error)
}

// RemoteSession is an authenticated connection to one remote account.
type RemoteSession interface {
	Instance() string
	AccessToken() string

	VerifyCredentials(ctx context.Context) (*model.RemoteAccount, error)
	Notifications(ctx context.Context, page model.Page) ([]model.Notification, error)
	HomeTimeline(ctx context.Context, page model.Page) ([]model.Status, error)
	PublicTimeline(ctx context.Context, local bool, limit int) ([]model.Status, error)
	TagTimeline(ctx context.Context, tag string, limit int) ([]model.Status, error)
	AccountStatuses(ctx context.Context, accountID string, limit int) ([]model.Status, error)

	Status(ctx context.Context, id string) (*model.Status, error)
	Ancestors(ctx context.Context, id string) ([]model.Status, error)
	Account(ctx context.Context, id string) (*model.RemoteAccount, error)
	Relationship(ctx context.Context, accountID string) (*model.Relationship, error)
	Search(ctx context.Context, query string) (*model.SearchResults, error)

	Post(ctx context.Context, post model.NewPost) (*model.Status, error)
	UploadMedia(ctx context.Context, media model.MediaFile) (string, error)
	Favourite(ctx context.Context, statusID string) error
	Boost(ctx context.Context, statusID string) error
	ApplyAction(ctx context.Context, action model.AccountAction, accountID string) error
	UpdateProfile(ctx context.Context, update model.ProfileUpdate) error
}
