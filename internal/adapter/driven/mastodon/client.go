// Package mastodon implements the RemoteClient port using the go-mastodon
// library.
package mastodon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	gomasto "github.com/mattn/go-mastodon"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.RemoteClient  = (*Client)(nil)
	_ driven.RemoteSession = (*Session)(nil)
)

const (
	// OOBRedirect asks the instance to display the authorization code instead
	// of redirecting.
	OOBRedirect = "urn:ietf:wg:oauth:2.0:oob"
	scopes      = "read write follow"

	maxMediaBytes = 16 << 20
)

// Options configures the transport stack shared by every session.
type Options struct {
	AppName        string
	Website        string
	RequestTimeout time.Duration
	InstanceRate   float64 // Requests per second per instance host.
	InstanceBurst  int
	UserAgent      string
}

// Client implements driven.RemoteClient. All sessions share one http.Client
// with the following transport stack:
//  1. throttle guard (429 becomes an error instead of a library retry)
//  2. httpcache (ETag/Last-Modified conditional requests, avatars included)
//  3. per-host token bucket rate limiting
//  4. http.DefaultTransport
type Client struct {
	http *http.Client
	opts Options
}

// NewClient builds a Client with an in-memory response cache.
func NewClient(opts Options) *Client {
	if opts.InstanceBurst <= 0 {
		opts.InstanceBurst = 5
	}
	if opts.InstanceRate <= 0 {
		opts.InstanceRate = 1
	}

	limited := newRateLimitTransport(http.DefaultTransport, opts.InstanceRate, opts.InstanceBurst)
	cache := httpcache.NewMemoryCache()
	cached := &httpcache.Transport{Transport: limited, Cache: cache, MarkCachedResponses: true}

	return NewClientWithHTTPClient(&http.Client{Transport: cached, Timeout: opts.RequestTimeout}, opts)
}

// NewClientWithHTTPClient creates a Client around a copy of a
// caller-supplied http.Client, with the throttle guard in front of its
// transport. Intended for tests against an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, opts Options) *Client {
	if opts.AppName == "" {
		opts.AppName = "Matrix Bridge"
	}

	hc := *httpClient
	next := hc.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	hc.Transport = &throttleGuard{next: next}
	if opts.RequestTimeout > 0 && hc.Timeout == 0 {
		hc.Timeout = opts.RequestTimeout
	}
	return &Client{http: &hc, opts: opts}
}

// RegisterApp registers the bridge as an OAuth application of instance.
// Refusals and transport failures both map to ErrRegistrationFailed or
// ErrUnreachable so the caller can decide whether to cache the failure.
func (c *Client) RegisterApp(ctx context.Context, instance string) (model.InstanceCredential, error) {
	app, err := gomasto.RegisterApp(ctx, &gomasto.AppConfig{
		Client:       *c.http,
		Server:       instance,
		ClientName:   c.opts.AppName,
		RedirectURIs: OOBRedirect,
		Scopes:       scopes,
		Website:      c.opts.Website,
	})
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, driven.ErrUnreachable) {
			return model.InstanceCredential{}, fmt.Errorf("register app on %s: %w", instance, mapped)
		}
		return model.InstanceCredential{}, fmt.Errorf("register app on %s: %w: %v", instance, driven.ErrRegistrationFailed, err)
	}

	slog.Info("registered app", "instance", instance)

	return model.InstanceCredential{
		Instance:     instance,
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		RegisteredAt: time.Now().UTC(),
	}, nil
}

// Session wraps an existing access token. No request is made.
func (c *Client) Session(instance, token string) driven.RemoteSession {
	return c.session(instance, "", "", token)
}

// PasswordLogin exchanges a username and password for a token. Instances
// without a registered app are tried with empty client credentials.
func (c *Client) PasswordLogin(ctx context.Context, cred model.InstanceCredential, username, password string) (driven.RemoteSession, error) {
	s := c.session(cred.Instance, cred.ClientID, cred.ClientSecret, "")
	if err := s.client.Authenticate(ctx, username, password); err != nil {
		return nil, fmt.Errorf("password login on %s: %w", cred.Instance, mapError(err))
	}
	return s, nil
}

// AuthorizationURL builds the authorize URL for the out-of-band flow.
func (c *Client) AuthorizationURL(cred model.InstanceCredential, state string) (string, error) {
	if !cred.Registered() {
		return "", fmt.Errorf("authorize on %s: %w", cred.Instance, driven.ErrRegistrationFailed)
	}

	u, err := url.Parse(cred.Instance)
	if err != nil {
		return "", fmt.Errorf("parse instance URL %q: %w", cred.Instance, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/oauth/authorize"

	q := url.Values{}
	q.Set("client_id", cred.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", OOBRedirect)
	q.Set("scope", scopes)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ExchangeCode redeems an authorization code for a token.
func (c *Client) ExchangeCode(ctx context.Context, cred model.InstanceCredential, code string) (driven.RemoteSession, error) {
	if !cred.Registered() {
		return nil, fmt.Errorf("exchange code on %s: %w", cred.Instance, driven.ErrRegistrationFailed)
	}

	s := c.session(cred.Instance, cred.ClientID, cred.ClientSecret, "")
	if err := s.client.AuthenticateToken(ctx, strings.TrimSpace(code), OOBRedirect); err != nil {
		return nil, fmt.Errorf("exchange code on %s: %w", cred.Instance, mapError(err))
	}
	return s, nil
}

// FetchMedia downloads a file through the cached transport.
func (c *Client) FetchMedia(ctx context.Context, rawURL string) (*model.MediaFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w: %v", rawURL, driven.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media %s: %w", rawURL, statusError(resp.StatusCode, resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", rawURL, err)
	}

	name := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		name = u.Path
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &model.MediaFile{Name: name, ContentType: contentType, Data: data}, nil
}

func (c *Client) session(instance, clientID, clientSecret, token string) *Session {
	mc := gomasto.NewClient(&gomasto.Config{
		Server:       instance,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AccessToken:  token,
	})
	mc.Client = *c.http
	return &Session{client: mc, instance: instance}
}
