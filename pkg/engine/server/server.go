// Package server exposes the engine over HTTP: the carrier media-stream
// endpoint, the browser live endpoint, and health probes.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/tonehq/tone-engine/pkg/engine/catalog"
	"github.com/tonehq/tone-engine/pkg/engine/config"
	"github.com/tonehq/tone-engine/pkg/engine/resolver"
	"github.com/tonehq/tone-engine/pkg/engine/router"
	"github.com/tonehq/tone-engine/pkg/engine/store"
)

// Store is the read surface the session handlers need. *store.Store
// satisfies it.
type Store interface {
	ActiveAgentConfig(ctx context.Context, agentID int64) (*store.AgentConfig, error)
	AgentByUUID(ctx context.Context, uuid string) (*store.Agent, error)
}

// Server ties the router, resolver, and assembler to the HTTP surface.
type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	store    Store
	resolver *resolver.Resolver
	catalog  *catalog.Catalog
	router   *router.Router
	tracker  *Tracker

	upgrader websocket.Upgrader
	draining atomic.Bool
}

// New creates a server.
func New(cfg config.Config, logger *slog.Logger, st Store, res *resolver.Resolver, cat *catalog.Catalog, rt *router.Router) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		resolver: res,
		catalog:  cat,
		router:   rt,
		tracker:  NewTracker(),
		upgrader: websocket.Upgrader{
			// Carrier and browser clients connect cross-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/ws", s.handleTelephony)
	mux.HandleFunc("/v1/live", s.handleLive)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Run serves until ctx is cancelled, then drains: readiness flips first,
// the listener shuts down, and live sessions are cancelled and awaited
// within the grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.draining.Store(true)
	s.logger.Info("shutting down", "live_sessions", s.tracker.Count())

	graceCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()

	_ = srv.Shutdown(graceCtx)
	s.tracker.CancelAll()
	if !s.tracker.Wait(graceCtx) {
		s.logger.Warn("shutdown grace period expired with sessions still live",
			"remaining", s.tracker.Count())
	}
	return nil
}
