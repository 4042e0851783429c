// Package llm defines the language-model adapter surface and the vendor
// adapters the catalog can construct.
package llm

import "context"

// Message is one conversation turn.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// Options configures a single generation.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Delta is a streamed response fragment. Done is set on the terminal delta;
// Err, when non-nil, is also terminal.
type Delta struct {
	Text string
	Done bool
	Err  error
}

// Provider is a constructed language-model adapter. Once constructed it is
// opaque to the engine: frames in, frames out.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Stream generates a response for the conversation and emits it
	// incrementally. The channel is closed after the terminal delta.
	// Cancelling ctx aborts the in-flight request.
	Stream(ctx context.Context, msgs []Message, opts Options) (<-chan Delta, error)

	// Close releases any held resources.
	Close() error
}
