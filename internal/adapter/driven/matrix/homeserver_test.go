package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
)

// --- Fake homeserver ---

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

type fakeHomeserver struct {
	mu       sync.Mutex
	requests []recordedRequest
	rooms    int
	joined   []string
	// forbidden rejects message sends to rooms whose id contains it.
	forbidden string
}

func newFakeHomeserver(t *testing.T) (*fakeHomeserver, *httptest.Server) {
	t.Helper()
	hs := &fakeHomeserver{joined: []string{"@bridge:test", "@alice:test"}}
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)
	return hs, srv
}

func (hs *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path}
	if len(raw) > 0 && strings.Contains(r.Header.Get("Content-Type"), "json") {
		_ = json.Unmarshal(raw, &rec.Body)
	}

	hs.mu.Lock()
	hs.requests = append(hs.requests, rec)
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(path, "/createRoom"):
		hs.rooms++
		fmt.Fprintf(w, `{"room_id":"!room%d:test"}`, hs.rooms)
	case strings.Contains(path, "/send/m.room.message/"):
		if hs.forbidden != "" && strings.Contains(path, hs.forbidden) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"errcode":"M_FORBIDDEN","error":"not in room"}`)
			break
		}
		fmt.Fprint(w, `{"event_id":"$msg"}`)
	case strings.Contains(path, "/state/m.room.avatar"):
		fmt.Fprint(w, `{"event_id":"$state"}`)
	case strings.HasSuffix(path, "/joined_members"):
		joined := map[string]any{}
		for _, m := range hs.joined {
			joined[m] = map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"joined": joined})
	case strings.HasSuffix(path, "/leave"):
		fmt.Fprint(w, `{}`)
	case strings.HasSuffix(path, "/join"):
		fmt.Fprint(w, `{"room_id":"!joined:test"}`)
	case strings.HasSuffix(path, "/upload"):
		fmt.Fprint(w, `{"content_uri":"mxc://test/media1"}`)
	case strings.Contains(path, "/download/"):
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "filedata")
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errcode":"M_UNRECOGNIZED","error":"unknown endpoint"}`)
	}
	hs.mu.Unlock()
}

// matching returns the recorded requests whose path contains fragment.
func (hs *fakeHomeserver) matching(fragment string) []recordedRequest {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	var out []recordedRequest
	for _, r := range hs.requests {
		if strings.Contains(r.Path, fragment) {
			out = append(out, r)
		}
	}
	return out
}

func (hs *fakeHomeserver) all() []recordedRequest {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]recordedRequest(nil), hs.requests...)
}

func newTestClient(t *testing.T, srv *httptest.Server) *mautrix.Client {
	t.Helper()
	cli, err := NewClient(srv.URL, "@bridge:test", "tok", zerolog.Nop())
	require.NoError(t, err)
	return cli
}

// --- Mock implementations ---

type fakeDirectChats struct {
	mu    sync.Mutex
	chats map[string]string
}

func newFakeDirectChats() *fakeDirectChats {
	return &fakeDirectChats{chats: map[string]string{}}
}

func (f *fakeDirectChats) GetDirectChat(_ context.Context, addr string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats[addr], nil
}

func (f *fakeDirectChats) SetDirectChat(_ context.Context, addr, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[addr] = chatID
	return nil
}

type fakeFetcher struct {
	file *model.MediaFile
	err  error
}

func (f *fakeFetcher) FetchMedia(context.Context, string) (*model.MediaFile, error) {
	return f.file, f.err
}

type fakeMessageHandler struct {
	msgs []model.InboundMessage
}

func (f *fakeMessageHandler) Handle(_ context.Context, msg model.InboundMessage) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeMembershipHandler struct {
	changes []model.MembershipChange
}

func (f *fakeMembershipHandler) HandleMembership(_ context.Context, change model.MembershipChange) error {
	f.changes = append(f.changes, change)
	return nil
}
