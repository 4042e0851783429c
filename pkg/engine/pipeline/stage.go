package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tonehq/tone-engine/pkg/voice/llm"
	"github.com/tonehq/tone-engine/pkg/voice/stt"
	"github.com/tonehq/tone-engine/pkg/voice/tts"
)

// Stage is one processing step in the chain. A stage may absorb a frame,
// pass it through, or emit any number of derived frames downstream via
// emit. Stages run on the single pipeline goroutine; work that blocks
// (network calls, generation) happens in goroutines owned by the stage,
// which re-enter the chain through the pipeline's inject queue.
type Stage interface {
	Name() string
	Process(ctx context.Context, f Frame, emit func(Frame)) error
}

// observerStage counts traffic and gates inbound audio until the client
// has signalled ready.
type observerStage struct {
	ready    *atomic.Bool
	audioIn  atomic.Int64
	audioOut atomic.Int64
	texts    atomic.Int64
}

func newObserverStage(ready *atomic.Bool) *observerStage {
	return &observerStage{ready: ready}
}

func (s *observerStage) Name() string { return "observer" }

func (s *observerStage) Process(_ context.Context, f Frame, emit func(Frame)) error {
	switch f.Kind {
	case KindAudioIn:
		if !s.ready.Load() {
			return nil
		}
		s.audioIn.Add(1)
	case KindAudioOut:
		s.audioOut.Add(1)
	case KindText:
		s.texts.Add(1)
	}
	emit(f)
	return nil
}

// sttStage feeds inbound audio to the transcription session. Transcripts
// come back asynchronously through the session's results channel and are
// injected after this stage.
type sttStage struct {
	session stt.Session
}

func (s *sttStage) Name() string { return "stt" }

func (s *sttStage) Process(_ context.Context, f Frame, emit func(Frame)) error {
	if f.Kind != KindAudioIn {
		emit(f)
		return nil
	}
	return s.session.SendAudio(f.Audio)
}

// userAggregatorStage turns final transcripts into recorded user turns.
// Interim transcripts are absorbed.
type userAggregatorStage struct {
	history *History
}

func (s *userAggregatorStage) Name() string { return "aggregate-user" }

func (s *userAggregatorStage) Process(_ context.Context, f Frame, emit func(Frame)) error {
	if f.Kind != KindText || f.Role != "user" {
		emit(f)
		return nil
	}
	text := strings.TrimSpace(f.Text)
	if !f.Final || text == "" {
		return nil
	}
	s.history.AppendUser(text)
	emit(Frame{Kind: KindTurn, Role: "user", Text: text})
	return nil
}

// llmStage starts a generation for each completed user turn. Deltas are
// injected downstream as assistant text frames; a new turn interrupts any
// generation still in flight.
type llmStage struct {
	provider llm.Provider
	opts     llm.Options
	history  *History
	inject   func(Frame)
	logger   *slog.Logger

	mu         sync.Mutex
	cancelPrev context.CancelFunc
}

func (s *llmStage) Name() string { return "llm" }

func (s *llmStage) Process(ctx context.Context, f Frame, emit func(Frame)) error {
	if f.Kind != KindTurn || f.Role != "user" {
		emit(f)
		return nil
	}

	genCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancelPrev != nil {
		s.cancelPrev()
	}
	s.cancelPrev = cancel
	s.mu.Unlock()

	// Stream dials the provider and can stall on a slow vendor. It must
	// not run on the processing goroutine: a hung dial there would block
	// event handling, including disconnect cancellation.
	msgs := s.history.Messages()
	go func() {
		defer cancel()
		deltas, err := s.provider.Stream(genCtx, msgs, s.opts)
		if err != nil {
			if genCtx.Err() == nil {
				s.logger.Warn("generation failed", "provider", s.provider.Name(), "error", err)
			}
			return
		}
		for d := range deltas {
			if d.Err != nil {
				s.logger.Warn("generation failed", "provider", s.provider.Name(), "error", d.Err)
				return
			}
			if d.Text != "" {
				s.inject(Frame{Kind: KindText, Role: "assistant", Text: d.Text})
			}
			if d.Done {
				s.inject(Frame{Kind: KindText, Role: "assistant", Final: true})
				return
			}
		}
	}()
	return nil
}

func (s *llmStage) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelPrev != nil {
		s.cancelPrev()
		s.cancelPrev = nil
	}
}

// textProcessorStage strips formatting the model tends to emit that reads
// badly when spoken aloud.
type textProcessorStage struct{}

var speechSanitizer = strings.NewReplacer("**", "", "*", "", "#", "", "`", "", "_", " ")

func (s *textProcessorStage) Name() string { return "text-processor" }

func (s *textProcessorStage) Process(_ context.Context, f Frame, emit func(Frame)) error {
	if f.Kind == KindText && f.Role == "assistant" && f.Text != "" {
		f.Text = speechSanitizer.Replace(f.Text)
	}
	emit(f)
	return nil
}

// ttsStage feeds assistant text to the synthesis stream. Audio comes back
// asynchronously and is injected at the output stage. Text frames continue
// downstream so the assistant aggregator sees them.
type ttsStage struct {
	stream tts.Stream
}

func (s *ttsStage) Name() string { return "tts" }

func (s *ttsStage) Process(_ context.Context, f Frame, emit func(Frame)) error {
	if f.Kind != KindText || f.Role != "assistant" {
		emit(f)
		return nil
	}
	if err := s.stream.SendText(f.Text, f.Final); err != nil {
		return err
	}
	emit(f)
	return nil
}

// outputStage writes synthesized audio to the transport.
type outputStage struct {
	transport Transport
}

func (s *outputStage) Name() string { return "transport-out" }

func (s *outputStage) Process(ctx context.Context, f Frame, emit func(Frame)) error {
	if f.Kind != KindAudioOut {
		emit(f)
		return nil
	}
	return s.transport.Send(ctx, f)
}

// assistantAggregatorStage accumulates assistant fragments and records the
// completed turn.
type assistantAggregatorStage struct {
	history *History
	buf     strings.Builder
}

func (s *assistantAggregatorStage) Name() string { return "aggregate-assistant" }

func (s *assistantAggregatorStage) Process(_ context.Context, f Frame, _ func(Frame)) error {
	if f.Kind != KindText || f.Role != "assistant" {
		return nil
	}
	s.buf.WriteString(f.Text)
	if f.Final {
		if text := strings.TrimSpace(s.buf.String()); text != "" {
			s.history.AppendAssistant(text)
		}
		s.buf.Reset()
	}
	return nil
}
