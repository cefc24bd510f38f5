// Package application contains the bridge's use-case services: classifying
// and rendering remote activity, the sync loop, account lifecycle, the
// outbound relay and the chat command surface.
package application

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Errors surfaced to chat users. Command handlers translate them to replies.
var (
	ErrNotLoggedIn             = errors.New("not logged in")
	ErrAlreadyLoggedIn         = errors.New("already logged in")
	ErrTooManyAccounts         = errors.New("account limit reached")
	ErrTooManyInstanceAccounts = errors.New("account limit reached for this instance")
	ErrWrongUsage              = errors.New("wrong usage")
	ErrUserNotFound            = errors.New("user not found")
	ErrNoPendingLogin          = errors.New("no login in progress")
)

// NormalizeInstanceURL canonicalizes a user-supplied instance address:
// bare hosts and http URLs become https, and trailing slashes are dropped.
func NormalizeInstanceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty instance URL: %w", ErrWrongUsage)
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "https://"):
	case strings.HasPrefix(lower, "http://"):
		raw = "https://" + raw[len("http://"):]
	default:
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid instance URL %q: %w", raw, ErrWrongUsage)
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// instanceHost returns the host part of a normalized instance URL.
func instanceHost(instance string) string {
	if u, err := url.Parse(instance); err == nil && u.Host != "" {
		return u.Host
	}
	return instance
}
