package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tonehq/tone-engine/pkg/engine/config"
	"github.com/tonehq/tone-engine/pkg/engine/store"
)

type fakeStore struct {
	agents  map[string]*store.Agent
	configs map[int64]*store.AgentConfig
}

func (f *fakeStore) ActiveAgentConfig(_ context.Context, agentID int64) (*store.AgentConfig, error) {
	return f.configs[agentID], nil
}

func (f *fakeStore) AgentByUUID(_ context.Context, uuid string) (*store.Agent, error) {
	return f.agents[uuid], nil
}

func testServer() *Server {
	cfg := config.Config{
		Addr:                ":0",
		HandshakeTimeout:    time.Second,
		ResolveTimeout:      time.Second,
		WSWriteTimeout:      time.Second,
		ShutdownGracePeriod: time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, logger, &fakeStore{agents: map[string]*store.Agent{}}, nil, nil, nil)
}

func TestHealthz(t *testing.T) {
	srv := testServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyzWhileDraining(t *testing.T) {
	srv := testServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 before draining", rec.Code)
	}

	srv.draining.Store(true)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while draining", rec.Code)
	}
}

func TestDrainingRejectsNewSessions(t *testing.T) {
	srv := testServer()
	srv.draining.Store(true)

	for _, path := range []string{"/ws", "/v1/live"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s status = %d, want 503 while draining", path, rec.Code)
		}
	}
}

func TestLive_UnknownAgentClosesConnection(t *testing.T) {
	srv := testServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/live"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	hello := `{"type":"hello","agent_uuid":"00000000-0000-0000-0000-000000000000"}`
	if err := client.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatal("connection should close for an unknown agent")
	}
}

func TestLive_MalformedHelloClosesConnection(t *testing.T) {
	srv := testServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/live"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"nonsense"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatal("connection should close on a malformed hello")
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	canceled := 0

	unregister := tr.Register("a", func() { canceled++ })
	tr.Register("b", func() { canceled++ })
	if tr.Count() != 2 {
		t.Fatalf("Count = %d", tr.Count())
	}

	// Re-registering an id replaces the old entry without leaking it.
	tr.Register("b", func() { canceled++ })
	if tr.Count() != 2 {
		t.Fatalf("Count after re-register = %d", tr.Count())
	}

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("CancelAll = %d", n)
	}
	if canceled != 2 {
		t.Fatalf("canceled = %d", canceled)
	}

	unregister()
	unregister() // second call is a no-op

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatal("Wait should time out while a session is still registered")
	}
}
