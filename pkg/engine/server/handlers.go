package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tonehq/tone-engine/pkg/engine/pipeline"
	"github.com/tonehq/tone-engine/pkg/engine/router"
	"github.com/tonehq/tone-engine/pkg/engine/transport"
)

// Carrier media streams are mulaw at 8 kHz.
const (
	telephonyEncoding   = "mulaw"
	telephonySampleRate = 8000

	webEncoding   = "pcm_s16le"
	webSampleRate = 16000
)

func (s *Server) handleTelephony(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("telephony upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	logger := s.logger.With("session_id", sessionID, "endpoint", "telephony")
	sess := router.NewSession(sessionID, logger)

	// The handshake must arrive promptly; the deadline is lifted once the
	// media stream is established.
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	res, err := s.router.Route(r.Context(), conn, sess)
	if err != nil {
		logger.Warn("routing failed", "error", err)
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	logger = logger.With("call_id", res.Handshake.CallID)

	agentID := s.cfg.DefaultAgentID
	if res.Agent != nil {
		agentID = res.Agent.ID
	}
	if agentID == 0 {
		logger.Error("no agent for call and no default agent configured",
			"dialed_number", res.DialedNumber)
		sess.Transition(router.StateTerminated)
		_ = conn.Close()
		return
	}

	tr := transport.NewTelephony(conn, res.Handshake.StreamID, s.cfg.WSWriteTimeout, logger)
	opts := pipeline.Options{
		AudioEncoding: telephonyEncoding,
		SampleRate:    telephonySampleRate,
		Logger:        logger,
	}
	fallback := res.Agent == nil
	s.runSession(r.Context(), sess, logger, agentID, fallback, tr, opts)
}

type liveHello struct {
	Type      string `json:"type"`
	AgentUUID string `json:"agent_uuid"`
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("live upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	logger := s.logger.With("session_id", sessionID, "endpoint", "live")
	sess := router.NewSession(sessionID, logger)

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		logger.Warn("no client hello", "error", err)
		_ = conn.Close()
		return
	}
	var hello liveHello
	if err := json.Unmarshal(raw, &hello); err != nil || hello.Type != "hello" || hello.AgentUUID == "" {
		logger.Warn("malformed client hello")
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	sess.Transition(router.StateHandshakeReceived)

	agent, err := s.store.AgentByUUID(r.Context(), hello.AgentUUID)
	if err != nil {
		logger.Error("agent lookup failed", "agent_uuid", hello.AgentUUID, "error", err)
		sess.Transition(router.StateTerminated)
		_ = conn.Close()
		return
	}
	if agent == nil {
		logger.Warn("unknown agent", "agent_uuid", hello.AgentUUID)
		sess.Transition(router.StateTerminated)
		_ = conn.Close()
		return
	}
	sess.Transition(router.StateAgentResolved)

	tr := transport.NewWeb(conn, s.cfg.WSWriteTimeout, s.cfg.WSPingInterval, logger)
	opts := pipeline.Options{
		AudioEncoding: webEncoding,
		SampleRate:    webSampleRate,
		Logger:        logger,
	}
	s.runSession(r.Context(), sess, logger, agent.ID, false, tr, opts)
}

// runSession resolves the agent's capabilities, assembles the pipeline
// over tr, and blocks until the session ends. fallback marks sessions
// routed without a bound agent; they get the configured fallback prompt
// when the agent config has none.
func (s *Server) runSession(ctx context.Context, sess *router.Session, logger *slog.Logger, agentID int64, fallback bool, tr pipeline.Transport, opts pipeline.Options) {
	cfgCtx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	acfg, err := s.store.ActiveAgentConfig(cfgCtx, agentID)
	cancel()
	if err != nil {
		logger.Error("agent config load failed", "agent_id", agentID, "error", err)
		sess.Transition(router.StateTerminated)
		_ = tr.Close()
		return
	}
	if acfg != nil {
		opts.SystemPrompt = acfg.SystemPrompt
		opts.FirstMessage = acfg.FirstMessage
		opts.EndCallMessage = acfg.EndCallMessage
		opts.VoicemailMessage = acfg.VoicemailMessage
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = s.cfg.FallbackSystemPrompt
	}
	if fallback && opts.FirstMessage == "" {
		opts.FirstMessage = s.cfg.FallbackFirstMessage
	}

	set, err := s.resolver.ResolveAll(ctx, agentID)
	if err != nil {
		logger.Error("capability resolution failed", "agent_id", agentID, "error", err)
		sess.Transition(router.StateTerminated)
		_ = tr.Close()
		return
	}

	sess.Transition(router.StatePipelineAssembling)
	rp, err := pipeline.Assemble(ctx, s.catalog, set, tr, opts)
	if err != nil {
		logger.Error("pipeline assembly failed", "agent_id", agentID, "error", err)
		sess.Transition(router.StateTerminated)
		_ = tr.Close()
		return
	}
	sess.Transition(router.StatePipelineRunning)

	unregister := s.tracker.Register(sess.ID(), rp.Cancel)
	defer unregister()

	<-rp.Done()
	sess.Transition(router.StateTerminated)
	logger.Info("session ended", "agent_id", agentID)
}
