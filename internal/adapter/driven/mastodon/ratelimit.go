package mastodon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimitTransport throttles requests per destination host so one busy
// instance cannot be hammered by many linked accounts.
type rateLimitTransport struct {
	next  http.RoundTripper
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateLimitTransport(next http.RoundTripper, perSecond float64, burst int) *rateLimitTransport {
	return &rateLimitTransport{
		next:     next,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *rateLimitTransport) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[host] = l
	}
	return l
}

// RoundTrip waits for the host's token bucket, honoring request
// cancellation, then forwards the request.
func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter(req.URL.Host).Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", req.URL.Host, err)
	}
	return t.next.RoundTrip(req)
}

// errThrottled reports an HTTP 429 from the instance.
var errThrottled = errors.New("instance throttled the request")

// throttleGuard turns 429 responses into transport errors. go-mastodon
// retries 429 itself with a backoff lasting hours; failing at the
// transport hands the decision back to the sync loop.
type throttleGuard struct {
	next http.RoundTripper
}

func (t *throttleGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	if after := resp.Header.Get("Retry-After"); after != "" {
		return nil, fmt.Errorf("%s: %w (retry after %s)", req.URL.Host, errThrottled, after)
	}
	return nil, fmt.Errorf("%s: %w", req.URL.Host, errThrottled)
}
