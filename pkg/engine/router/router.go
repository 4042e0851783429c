// Package router bootstraps inbound telephony sessions: it consumes the
// carrier handshake, finds the dialed number, and attaches the owning
// agent before pipeline assembly begins. Routing degrades rather than
// drops: a failed carrier lookup or an unregistered number still yields a
// session, running against the default fallback agent.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tonehq/tone-engine/pkg/engine/store"
)

// ErrAgentUnresolved classifies a dialed number with no bound agent.
// Route reports this case through a nil Result.Agent rather than an
// error, since the call proceeds on the fallback agent; the sentinel is
// for callers that need to surface the condition themselves.
var ErrAgentUnresolved = errors.New("no agent bound to dialed number")

// CarrierTwilio is the only supported inbound carrier.
const CarrierTwilio = "twilio"

// AgentSource is the binding-lookup surface the router needs.
// *store.Store satisfies it.
type AgentSource interface {
	AgentByPhoneNumber(ctx context.Context, number string) (*store.Agent, error)
}

// CarrierLookup fetches call details from the carrier. Nil disables the
// lookup entirely.
type CarrierLookup interface {
	CallDetail(ctx context.Context, callID string) (*CallDetail, error)
}

// Result is a routed inbound session.
type Result struct {
	Carrier      string
	Handshake    *Handshake
	DialedNumber string
	// Agent is nil when no binding matched; the session then runs the
	// default fallback conversation.
	Agent *store.Agent
}

// Router resolves inbound calls to agents.
type Router struct {
	agents  AgentSource
	carrier CarrierLookup
	logger  *slog.Logger
}

// New creates a router. carrier may be nil when no call-detail API is
// configured.
func New(agents AgentSource, carrier CarrierLookup, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{agents: agents, carrier: carrier, logger: logger}
}

// Normalize canonicalizes a phone number the same way numbers are stored
// at registration time.
func Normalize(number string) string {
	return strings.TrimSpace(number)
}

// Route consumes the handshake from fr and resolves the owning agent,
// advancing sess through the routing states. Only a broken handshake is a
// hard error; every lookup failure past that point degrades.
func (r *Router) Route(ctx context.Context, fr FrameReader, sess *Session) (*Result, error) {
	hs, err := ReadHandshake(fr)
	if err != nil {
		sess.Transition(StateTerminated)
		return nil, err
	}
	sess.Transition(StateHandshakeReceived)

	to := hs.DialedNumber
	if to == "" && r.carrier != nil {
		detail, err := r.carrier.CallDetail(ctx, hs.CallID)
		if err != nil {
			// Best-effort: a slow or broken carrier API must not
			// fail call setup.
			r.logger.Warn("carrier call detail lookup failed",
				"call_id", hs.CallID, "error", err)
		} else {
			to = detail.To
		}
	}
	to = Normalize(to)
	sess.Transition(StateNumberResolved)

	res := &Result{Carrier: CarrierTwilio, Handshake: hs, DialedNumber: to}
	if to == "" {
		sess.Transition(StateAgentUnresolved)
		r.logger.Warn("inbound call without dialed number, using fallback agent",
			"call_id", hs.CallID)
		return res, nil
	}

	agent, err := r.agents.AgentByPhoneNumber(ctx, to)
	if err != nil {
		sess.Transition(StateAgentUnresolved)
		r.logger.Error("phone number lookup failed, using fallback agent",
			"call_id", hs.CallID, "number", to, "error", err)
		return res, nil
	}
	if agent == nil {
		sess.Transition(StateAgentUnresolved)
		r.logger.Info("no agent bound to number, using fallback agent",
			"call_id", hs.CallID, "number", to)
		return res, nil
	}

	sess.Transition(StateAgentResolved)
	res.Agent = agent
	return res, nil
}
