// Package tts defines the text-to-speech adapter surface and the vendor
// adapters the catalog can construct.
package tts

import (
	"context"
	"sync"
)

// Options configures a synthesis stream.
type Options struct {
	Voice      string
	Model      string
	Language   string
	Format     string // "pcm", "mulaw", "mp3", "wav"
	SampleRate int
	Speed      float64
}

// Stream is one live synthesis stream. Text chunks go in, audio frames
// come out.
type Stream interface {
	// SendText submits a text chunk. Set final on the last chunk of an
	// utterance so the provider flushes remaining audio.
	SendText(text string, final bool) error

	// Audio returns the channel of synthesized audio frames. It is
	// closed when the stream ends.
	Audio() <-chan []byte

	// Close tears the stream down. Safe to call more than once.
	Close() error
}

// Provider is a constructed text-to-speech adapter.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens a synthesis stream. Cancelling ctx ends it.
	NewStream(ctx context.Context, opts Options) (Stream, error)

	// Close releases any held resources.
	Close() error
}

// bufferedStream is a channel-backed Stream used by HTTP providers that
// synthesize one utterance per request.
type bufferedStream struct {
	audio chan []byte
	done  chan struct{}
	once  sync.Once

	sendFn func(text string, final bool) error
}

func newBufferedStream(send func(text string, final bool) error) *bufferedStream {
	return &bufferedStream{
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),
		sendFn: send,
	}
}

func (s *bufferedStream) SendText(text string, final bool) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	return s.sendFn(text, final)
}

func (s *bufferedStream) Audio() <-chan []byte { return s.audio }

func (s *bufferedStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// push delivers an audio frame unless the stream is closed.
func (s *bufferedStream) push(chunk []byte) bool {
	select {
	case s.audio <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// ErrStreamClosed is returned when sending to a closed stream.
var ErrStreamClosed = &streamClosedError{}

type streamClosedError struct{}

func (e *streamClosedError) Error() string { return "tts stream closed" }
