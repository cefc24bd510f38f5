package mastodon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	gomasto "github.com/mattn/go-mastodon"

	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

// mapError translates library and transport errors into the port's error
// kinds. Errors that fit no kind are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *gomasto.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr.StatusCode, apiErr.Message)
	}

	if errors.Is(err, errThrottled) {
		return fmt.Errorf("%w: %v", driven.ErrUnreachable, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", driven.ErrUnreachable, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", driven.ErrUnreachable, err)
	}

	return err
}

func statusError(code int, msg string) error {
	switch {
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", driven.ErrUnauthorized, msg)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", driven.ErrForbidden, msg)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", driven.ErrRemoteNotFound, msg)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %d %s", driven.ErrUnreachable, code, msg)
	default:
		return fmt.Errorf("remote returned %d: %s", code, msg)
	}
}
