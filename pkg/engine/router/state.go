package router

import (
	"log/slog"
	"sync"
)

// State is one step of the inbound session lifecycle.
type State string

const (
	StateNew                State = "new"
	StateHandshakeReceived  State = "handshake_received"
	StateNumberResolved     State = "number_resolved"
	StateAgentResolved      State = "agent_resolved"
	StateAgentUnresolved    State = "agent_unresolved"
	StatePipelineAssembling State = "pipeline_assembling"
	StatePipelineRunning    State = "pipeline_running"
	StateTerminated         State = "terminated"
)

// Session tracks the routing lifecycle of one inbound call. Terminated is
// reachable from every state and is terminal: transitions after it are
// dropped, so a late disconnect never resurrects a session.
type Session struct {
	id     string
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// NewSession creates a session tracker in the new state.
func NewSession(id string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{id: id, logger: logger, state: StateNew}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to a new state.
func (s *Session) Transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return
	}
	s.logger.Debug("session state", "session_id", s.id, "from", s.state, "to", to)
	s.state = to
}
