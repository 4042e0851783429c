// Package stt defines the speech-to-text adapter surface and the vendor
// adapters the catalog can construct.
package stt

import "context"

// Options configures a streaming transcription session.
type Options struct {
	Model      string
	Language   string
	Encoding   string // audio encoding hint, e.g. "pcm_s16le" or "mulaw"
	SampleRate int
}

// Result is a streamed transcript update. Err reports a transcription
// failure; consumers may keep reading, and the channel is closed when
// the session ends.
type Result struct {
	Text  string
	Final bool
	Err   error
}

// Session is one live transcription stream. Audio frames go in, transcript
// results come out; utterance segmentation is the provider's concern.
type Session interface {
	// SendAudio submits an audio frame.
	SendAudio(data []byte) error

	// Results returns the channel of transcript updates. It is closed
	// when the session ends.
	Results() <-chan Result

	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Provider is a constructed speech-to-text adapter.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewSession opens a streaming transcription session. Cancelling ctx
	// ends the session.
	NewSession(ctx context.Context, opts Options) (Session, error)

	// Close releases any held resources.
	Close() error
}
