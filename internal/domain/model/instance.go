package model

import "time"

// InstanceCredential is the client registration the bridge holds for one
// remote instance. A failed registration is cached with empty client
// fields so it is not retried.
type InstanceCredential struct {
	Instance     string
	ClientID     string
	ClientSecret string
	RegisteredAt time.Time
}

// Registered reports whether the instance accepted the app registration.
func (c InstanceCredential) Registered() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// PendingLogin tracks an authorization-code login that was started but not
// yet completed.
type PendingLogin struct {
	Addr         string
	Instance     string
	ClientID     string
	ClientSecret string
	State        string
	CreatedAt    time.Time
}
