// Package pipeline assembles resolved capabilities into an ordered stage
// chain and runs it for the lifetime of one session.
//
// Frames flow transport-in -> observer -> stt -> user aggregation -> llm
// -> text processing -> tts -> transport-out -> assistant aggregation.
// Adapter callbacks (transcripts, deltas, audio) re-enter the chain at the
// stage after the one that produced them, so ordering within a turn is
// preserved even though the adapters work asynchronously.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tonehq/tone-engine/pkg/engine/catalog"
	"github.com/tonehq/tone-engine/pkg/engine/resolver"
	"github.com/tonehq/tone-engine/pkg/voice/llm"
	"github.com/tonehq/tone-engine/pkg/voice/stt"
	"github.com/tonehq/tone-engine/pkg/voice/tts"
)

// Stage positions in the chain. Injected frames enter at the stage after
// their producer.
const (
	idxObserver = iota
	idxSTT
	idxUserAgg
	idxLLM
	idxTextProc
	idxTTS
	idxOut
	idxAssistantAgg
)

// Options carries the session parameters that are not part of capability
// resolution.
type Options struct {
	SystemPrompt     string
	FirstMessage     string
	EndCallMessage   string
	VoicemailMessage string

	// AudioEncoding and SampleRate describe the transport's media. The
	// telephony transport uses mulaw at 8 kHz.
	AudioEncoding string
	SampleRate    int

	Logger *slog.Logger
}

func (o *Options) fill() {
	if o.AudioEncoding == "" {
		o.AudioEncoding = "mulaw"
	}
	if o.SampleRate == 0 {
		o.SampleRate = 8000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// RunningPipeline is a live session: the stage chain, its adapters, and
// the goroutines pumping them. Cancel is the only teardown path and is
// safe to call any number of times.
type RunningPipeline struct {
	logger    *slog.Logger
	transport Transport
	stages    []Stage
	history   *History

	llmProvider llm.Provider
	sttProvider stt.Provider
	ttsProvider tts.Provider
	sttSession  stt.Session
	ttsStream   tts.Stream
	llmSt       *llmStage

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan injected

	ready      atomic.Bool
	greetOnce  sync.Once
	cancelOnce sync.Once
	done       chan struct{}

	firstMessage     string
	endCallMessage   string
	voicemailMessage string
}

type injected struct {
	idx   int
	frame Frame
}

// Assemble constructs every adapter in the resolved set, wires the stage
// chain, and starts processing. Any missing capability aborts assembly
// before anything is constructed; a construction or connection failure
// tears down whatever was already built.
func Assemble(ctx context.Context, cat *catalog.Catalog, set resolver.Set, transport Transport, opts Options) (*RunningPipeline, error) {
	opts.fill()

	if missing := set.Missing(); len(missing) > 0 {
		return nil, &UnconfiguredError{Missing: missing}
	}

	llmProvider, err := buildLLM(cat, set.LLM)
	if err != nil {
		return nil, err
	}
	sttProvider, err := buildSTT(cat, set.STT)
	if err != nil {
		llmProvider.Close()
		return nil, err
	}
	ttsProvider, err := buildTTS(cat, set.TTS)
	if err != nil {
		llmProvider.Close()
		sttProvider.Close()
		return nil, err
	}

	// The pipeline outlives the assembly call; its lifetime is governed
	// by Cancel, not by the caller's request context.
	pctx, pcancel := context.WithCancel(context.WithoutCancel(ctx))

	sttSession, err := sttProvider.NewSession(pctx, stt.Options{
		Model:      set.STT.Config.String("model", ""),
		Language:   set.STT.Config.String("language", "en"),
		Encoding:   opts.AudioEncoding,
		SampleRate: opts.SampleRate,
	})
	if err != nil {
		pcancel()
		llmProvider.Close()
		sttProvider.Close()
		ttsProvider.Close()
		return nil, &CapabilityError{Capability: catalog.CapabilitySTT, Provider: set.STT.Provider, Err: err}
	}

	ttsStream, err := ttsProvider.NewStream(pctx, tts.Options{
		Voice:      set.TTS.Config.String("voice_id", ""),
		Model:      set.TTS.Config.String("model", ""),
		Language:   set.TTS.Config.String("language", ""),
		Format:     opts.AudioEncoding,
		SampleRate: opts.SampleRate,
		Speed:      set.TTS.Config.Float("speed", 0),
	})
	if err != nil {
		pcancel()
		sttSession.Close()
		llmProvider.Close()
		sttProvider.Close()
		ttsProvider.Close()
		return nil, &CapabilityError{Capability: catalog.CapabilityTTS, Provider: set.TTS.Provider, Err: err}
	}

	llmOpts := llm.Options{
		Model:       set.LLM.Config.String("model", ""),
		Temperature: set.LLM.Config.Float("temperature", 0.7),
		MaxTokens:   set.LLM.Config.Int("max_tokens", 0),
	}
	ad := adapters{
		llm:     llmProvider,
		stt:     sttProvider,
		tts:     ttsProvider,
		session: sttSession,
		stream:  ttsStream,
	}
	p := start(pctx, pcancel, transport, ad, llmOpts, opts)

	opts.Logger.Info("pipeline assembled",
		"llm", set.LLM.Provider, "stt", set.STT.Provider, "tts", set.TTS.Provider)
	return p, nil
}

// adapters bundles the constructed capability instances for one session.
type adapters struct {
	llm     llm.Provider
	stt     stt.Provider
	tts     tts.Provider
	session stt.Session
	stream  tts.Stream
}

// start wires the stage chain over already-constructed adapters and kicks
// off the session goroutines.
func start(ctx context.Context, cancel context.CancelFunc, transport Transport, ad adapters, llmOpts llm.Options, opts Options) *RunningPipeline {
	p := &RunningPipeline{
		logger:           opts.Logger,
		transport:        transport,
		history:          NewHistory(opts.SystemPrompt, opts.FirstMessage),
		llmProvider:      ad.llm,
		sttProvider:      ad.stt,
		ttsProvider:      ad.tts,
		sttSession:       ad.session,
		ttsStream:        ad.stream,
		ctx:              ctx,
		cancel:           cancel,
		queue:            make(chan injected, 256),
		done:             make(chan struct{}),
		firstMessage:     opts.FirstMessage,
		endCallMessage:   opts.EndCallMessage,
		voicemailMessage: opts.VoicemailMessage,
	}

	p.llmSt = &llmStage{
		provider: ad.llm,
		opts:     llmOpts,
		history:  p.history,
		inject:   func(f Frame) { p.inject(idxTextProc, f) },
		logger:   opts.Logger,
	}
	p.stages = []Stage{
		newObserverStage(&p.ready),
		&sttStage{session: ad.session},
		&userAggregatorStage{history: p.history},
		p.llmSt,
		&textProcessorStage{},
		&ttsStage{stream: ad.stream},
		&outputStage{transport: transport},
		&assistantAggregatorStage{history: p.history},
	}

	go p.pumpTranscripts()
	go p.pumpAudio()
	go p.run()
	return p
}

func buildLLM(cat *catalog.Catalog, svc *resolver.ResolvedService) (llm.Provider, error) {
	a, err := cat.AdapterFor(catalog.CapabilityLLM, svc.Provider, svc.Credential, svc.Config)
	if err != nil {
		return nil, &CapabilityError{Capability: catalog.CapabilityLLM, Provider: svc.Provider, Err: err}
	}
	p, ok := a.(llm.Provider)
	if !ok {
		a.Close()
		return nil, &CapabilityError{Capability: catalog.CapabilityLLM, Provider: svc.Provider,
			Err: fmt.Errorf("adapter %T does not implement llm.Provider", a)}
	}
	return p, nil
}

func buildSTT(cat *catalog.Catalog, svc *resolver.ResolvedService) (stt.Provider, error) {
	a, err := cat.AdapterFor(catalog.CapabilitySTT, svc.Provider, svc.Credential, svc.Config)
	if err != nil {
		return nil, &CapabilityError{Capability: catalog.CapabilitySTT, Provider: svc.Provider, Err: err}
	}
	p, ok := a.(stt.Provider)
	if !ok {
		a.Close()
		return nil, &CapabilityError{Capability: catalog.CapabilitySTT, Provider: svc.Provider,
			Err: fmt.Errorf("adapter %T does not implement stt.Provider", a)}
	}
	return p, nil
}

func buildTTS(cat *catalog.Catalog, svc *resolver.ResolvedService) (tts.Provider, error) {
	a, err := cat.AdapterFor(catalog.CapabilityTTS, svc.Provider, svc.Credential, svc.Config)
	if err != nil {
		return nil, &CapabilityError{Capability: catalog.CapabilityTTS, Provider: svc.Provider, Err: err}
	}
	p, ok := a.(tts.Provider)
	if !ok {
		a.Close()
		return nil, &CapabilityError{Capability: catalog.CapabilityTTS, Provider: svc.Provider,
			Err: fmt.Errorf("adapter %T does not implement tts.Provider", a)}
	}
	return p, nil
}

// run is the single processing goroutine. Transport input enters at the
// head of the chain, injected frames at their recorded position.
func (p *RunningPipeline) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-p.transport.Events():
			if !ok {
				p.Cancel()
				return
			}
			p.handleEvent(ev)
		case f, ok := <-p.transport.Input():
			if !ok {
				p.Cancel()
				return
			}
			p.process(idxObserver, f)
		case inj := <-p.queue:
			p.process(inj.idx, inj.frame)
		}
	}
}

func (p *RunningPipeline) handleEvent(ev EventKind) {
	switch ev {
	case EventClientConnected:
		p.logger.Info("client connected")
	case EventClientReady:
		p.ready.Store(true)
		p.greetOnce.Do(func() {
			if p.firstMessage == "" {
				return
			}
			// The greeting is already seeded in history; it only needs
			// to be spoken, so it goes straight to synthesis.
			if err := p.ttsStream.SendText(p.firstMessage, true); err != nil {
				p.logger.Warn("greeting synthesis failed", "error", err)
			}
		})
	case EventClientDisconnected:
		p.logger.Info("client disconnected")
		p.Cancel()
	}
}

func (p *RunningPipeline) process(idx int, f Frame) {
	if idx >= len(p.stages) {
		return
	}
	st := p.stages[idx]
	if err := st.Process(p.ctx, f, func(out Frame) { p.process(idx+1, out) }); err != nil {
		p.logger.Warn("stage error", "stage", st.Name(), "error", err)
	}
}

// inject queues a frame produced by an adapter callback to enter the chain
// at idx on the processing goroutine.
func (p *RunningPipeline) inject(idx int, f Frame) {
	select {
	case p.queue <- injected{idx: idx, frame: f}:
	case <-p.ctx.Done():
	}
}

func (p *RunningPipeline) pumpTranscripts() {
	for res := range p.sttSession.Results() {
		if res.Err != nil {
			p.logger.Warn("transcription error", "error", res.Err)
			continue
		}
		p.inject(idxUserAgg, Frame{Kind: KindText, Role: "user", Text: res.Text, Final: res.Final})
	}
}

func (p *RunningPipeline) pumpAudio() {
	for chunk := range p.ttsStream.Audio() {
		p.inject(idxOut, Frame{Kind: KindAudioOut, Audio: chunk})
	}
}

// Cancel tears the session down: it stops the processing goroutine,
// closes every adapter, and closes the transport. Subsequent calls are
// no-ops; a second disconnect signal or an idle-timeout race never
// double-frees anything.
func (p *RunningPipeline) Cancel() {
	p.cancelOnce.Do(func() {
		p.logger.Info("pipeline cancelled", "turns", p.history.Len())
		p.cancel()
		p.llmSt.interrupt()
		if err := p.sttSession.Close(); err != nil {
			p.logger.Debug("stt session close", "error", err)
		}
		if err := p.ttsStream.Close(); err != nil {
			p.logger.Debug("tts stream close", "error", err)
		}
		p.llmProvider.Close()
		p.sttProvider.Close()
		p.ttsProvider.Close()
		if err := p.transport.Close(); err != nil {
			p.logger.Debug("transport close", "error", err)
		}
		close(p.done)
	})
}

// Done is closed after Cancel finishes tearing the session down.
func (p *RunningPipeline) Done() <-chan struct{} { return p.done }

// History exposes the conversation context, mainly for inspection after
// the session ends.
func (p *RunningPipeline) History() *History { return p.history }

// EndCallMessage is the configured farewell line, empty when unset.
func (p *RunningPipeline) EndCallMessage() string { return p.endCallMessage }

// VoicemailMessage is the configured voicemail line, empty when unset.
func (p *RunningPipeline) VoicemailMessage() string { return p.voicemailMessage }
