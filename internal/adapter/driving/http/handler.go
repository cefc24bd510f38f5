// Package httphandler serves the admin API: health, metrics and account
// inspection for operators.
package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/application"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

const defaultSyncTimeout = 2 * time.Minute

// SyncController is the part of the sync loop exposed to operators.
type SyncController interface {
	Phase() application.Phase
	LastCycle() time.Time
	SyncNow(ctx context.Context, addr string) error
}

// Handler holds the dependencies of the admin endpoints.
type Handler struct {
	accounts    driven.AccountStore
	sync        SyncController
	metrics     http.Handler
	staleAfter  time.Duration
	syncTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewHandler creates a Handler. A last cycle older than staleAfter turns the
// health check unhealthy; zero disables the check. metrics may be nil.
func NewHandler(
	accounts driven.AccountStore,
	sync SyncController,
	metrics http.Handler,
	staleAfter time.Duration,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		accounts:    accounts,
		sync:        sync,
		metrics:     metrics,
		staleAfter:  staleAfter,
		syncTimeout: defaultSyncTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// NewServeMux creates an http.Handler with all admin routes registered and
// wrapped in logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("POST /api/v1/accounts/{addr}/sync", h.SyncAccount)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	last := h.sync.LastCycle()

	resp := HealthResponse{
		Status:    "ok",
		Phase:     h.sync.Phase().String(),
		LastCycle: formatTime(last),
		Time:      now.UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	switch {
	case last.IsZero():
		resp.Status = "starting"
	case h.staleAfter > 0 && now.Sub(last) > h.staleAfter:
		resp.Status = "stale"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// ListAccounts handles GET /api/v1/accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		resp = append(resp, toAccountResponse(acc))
	}

	writeJSON(w, http.StatusOK, resp)
}

// SyncAccount handles POST /api/v1/accounts/{addr}/sync. It blocks until
// the loop has synced the account.
func (h *Handler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "missing account address")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.syncTimeout)
	defer cancel()

	err := h.sync.SyncNow(ctx, addr)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, SyncResponse{Addr: addr, Status: "synced"})
	case errors.Is(err, application.ErrNotLoggedIn):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "sync loop busy, try again later")
	case errors.Is(err, driven.ErrUnauthorized):
		writeError(w, http.StatusConflict, "instance rejected the account credentials")
	case errors.Is(err, driven.ErrUnreachable):
		writeError(w, http.StatusBadGateway, "instance unreachable")
	default:
		h.logger.Error("failed to sync account", "addr", addr, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
