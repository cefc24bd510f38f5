package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports the state of the sync loop.
type HealthResponse struct {
	Status    string `json:"status"`
	Phase     string `json:"phase"`
	LastCycle string `json:"last_cycle,omitempty"`
	Time      string `json:"time"`
}

// AccountResponse is the JSON representation of a linked account. The
// access token is never included.
type AccountResponse struct {
	Addr        string `json:"addr"`
	Instance    string `json:"instance"`
	User        string `json:"user"`
	HomeChat    string `json:"home_chat"`
	NotifChat   string `json:"notif_chat"`
	LastHomeID  string `json:"last_home_id"`
	LastNotifID string `json:"last_notif_id"`
	MutedHome   bool   `json:"muted_home"`
	MutedNotif  bool   `json:"muted_notif"`
	CreatedAt   string `json:"created_at"`
}

// SyncResponse acknowledges an out-of-turn account sync.
type SyncResponse struct {
	Addr   string `json:"addr"`
	Status string `json:"status"`
}

func toAccountResponse(acc model.Account) AccountResponse {
	return AccountResponse{
		Addr:        acc.Addr,
		Instance:    acc.Instance,
		User:        acc.User,
		HomeChat:    acc.HomeChat,
		NotifChat:   acc.NotifChat,
		LastHomeID:  acc.LastHomeID,
		LastNotifID: acc.LastNotifID,
		MutedHome:   acc.MutedHome,
		MutedNotif:  acc.MutedNotif,
		CreatedAt:   formatTime(acc.CreatedAt),
	}
}

// formatTime renders t as RFC 3339 in UTC, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
