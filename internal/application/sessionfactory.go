package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// SessionFactory produces remote sessions and owns the per-instance app
// registration cache. Registration is attempted at most once per instance;
// failures are cached too.
type SessionFactory struct {
	client    driven.RemoteClient
	instances driven.InstanceStore

	mu sync.Mutex // Serializes registration so one instance is registered once.
}

// NewSessionFactory creates a SessionFactory.
func NewSessionFactory(client driven.RemoteClient, instances driven.InstanceStore) *SessionFactory {
	return &SessionFactory{client: client, instances: instances}
}

// ForAccount returns a session for a stored account. No request is made;
// rejected tokens surface as ErrUnauthorized on first use.
func (f *SessionFactory) ForAccount(acc model.Account) driven.RemoteSession {
	return f.client.Session(acc.Instance, acc.Token)
}

// Credential returns the cached registration of instance, registering the
// bridge on first contact. A refused registration is cached with empty
// client fields and reported as ErrRegistrationFailed. Unreachable instances
// are not cached so a later attempt can register.
func (f *SessionFactory) Credential(ctx context.Context, instance string) (model.InstanceCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cached, err := f.instances.Get(ctx, instance)
	switch {
	case err == nil:
		if !cached.Registered() {
			return *cached, fmt.Errorf("instance %s: %w", instance, driven.ErrRegistrationFailed)
		}
		return *cached, nil
	case !errors.Is(err, driven.ErrInstanceNotFound):
		return model.InstanceCredential{}, fmt.Errorf("load instance credential: %w", err)
	}

	cred, regErr := f.client.RegisterApp(ctx, instance)
	if regErr != nil {
		if errors.Is(regErr, driven.ErrUnreachable) {
			return model.InstanceCredential{}, regErr
		}
		slog.Warn("app registration refused", "instance", instance, "error", regErr)
		cred = model.InstanceCredential{Instance: instance, RegisteredAt: time.Now().UTC()}
	}

	if err := f.instances.Save(ctx, cred); err != nil {
		return model.InstanceCredential{}, fmt.Errorf("save instance credential: %w", err)
	}

	if regErr != nil {
		return cred, fmt.Errorf("instance %s: %w", instance, driven.ErrRegistrationFailed)
	}
	return cred, nil
}

// PasswordLogin logs in with a username and password. Instances that
// refused app registration are still tried with empty client credentials.
func (f *SessionFactory) PasswordLogin(ctx context.Context, instance, username, password string) (driven.RemoteSession, error) {
	cred, err := f.Credential(ctx, instance)
	if err != nil && !errors.Is(err, driven.ErrRegistrationFailed) {
		return nil, err
	}
	cred.Instance = instance

	return f.client.PasswordLogin(ctx, cred, username, password)
}

// AuthorizationURL starts the out-of-band flow and returns the credential
// used, which must be kept until the code is redeemed.
func (f *SessionFactory) AuthorizationURL(ctx context.Context, instance, state string) (string, model.InstanceCredential, error) {
	cred, err := f.Credential(ctx, instance)
	if err != nil {
		return "", model.InstanceCredential{}, err
	}

	authURL, err := f.client.AuthorizationURL(cred, state)
	if err != nil {
		return "", model.InstanceCredential{}, err
	}
	return authURL, cred, nil
}

// ExchangeCode redeems an authorization code.
func (f *SessionFactory) ExchangeCode(ctx context.Context, cred model.InstanceCredential, code string) (driven.RemoteSession, error) {
	return f.client.ExchangeCode(ctx, cred, code)
}

// FetchMedia downloads remote media such as avatars.
func (f *SessionFactory) FetchMedia(ctx context.Context, url string) (*model.MediaFile, error) {
	return f.client.FetchMedia(ctx, url)
}
