package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	openaiTranscriptionsURL = "https://api.openai.com/v1/audio/transcriptions"
	groqTranscriptionsURL   = "https://api.groq.com/openai/v1/audio/transcriptions"

	whisperDefaultModel = "whisper-1"
	groqDefaultModel    = "whisper-large-v3"

	// whisperFlushInterval batches buffered audio into transcription
	// requests; the endpoint has no streaming mode.
	whisperFlushInterval = 2 * time.Second
)

// WhisperProvider implements STT over the OpenAI-style HTTP transcription
// endpoint, which both OpenAI and Groq expose. The endpoint is not a true
// streaming API: the session buffers audio and transcribes it in batches.
type WhisperProvider struct {
	name         string
	apiKey       string
	endpoint     string
	defaultModel string
	httpClient   *http.Client
}

// NewOpenAI creates an OpenAI Whisper transcription adapter.
func NewOpenAI(apiKey string) *WhisperProvider {
	return &WhisperProvider{name: "openai", apiKey: apiKey, endpoint: openaiTranscriptionsURL, defaultModel: whisperDefaultModel, httpClient: &http.Client{}}
}

// NewGroq creates a Groq Whisper transcription adapter.
func NewGroq(apiKey string) *WhisperProvider {
	return &WhisperProvider{name: "groq", apiKey: apiKey, endpoint: groqTranscriptionsURL, defaultModel: groqDefaultModel, httpClient: &http.Client{}}
}

// WithEndpoint overrides the transcription endpoint. Used in tests.
func (p *WhisperProvider) WithEndpoint(u string) *WhisperProvider {
	p.endpoint = u
	return p
}

// WithHTTPClient overrides the HTTP client.
func (p *WhisperProvider) WithHTTPClient(client *http.Client) *WhisperProvider {
	p.httpClient = client
	return p
}

func (p *WhisperProvider) Name() string { return p.name }

func (p *WhisperProvider) Close() error { return nil }

type whisperSession struct {
	provider *WhisperProvider
	ctx      context.Context
	opts     Options
	results  chan Result
	done     chan struct{}

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// NewSession opens a buffering session. Audio accumulates and is flushed
// to the transcription endpoint on a fixed interval.
func (p *WhisperProvider) NewSession(ctx context.Context, opts Options) (Session, error) {
	if opts.Model == "" {
		opts.Model = p.defaultModel
	}
	s := &whisperSession{
		provider: p,
		ctx:      ctx,
		opts:     opts,
		results:  make(chan Result, 4),
		done:     make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

func (s *whisperSession) flushLoop() {
	ticker := time.NewTicker(whisperFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.flush()
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *whisperSession) SendAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	_, err := s.buf.Write(data)
	return err
}

func (s *whisperSession) flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	audio := make([]byte, s.buf.Len())
	copy(audio, s.buf.Bytes())
	s.buf.Reset()
	s.mu.Unlock()

	if len(audio) == 0 {
		return nil
	}

	text, err := s.provider.transcribe(s.ctx, audio, s.opts)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err != nil {
		s.results <- Result{Err: err}
		return err
	}
	if strings.TrimSpace(text) != "" {
		s.results <- Result{Text: text, Final: true}
	}
	return nil
}

func (s *whisperSession) Results() <-chan Result { return s.results }

func (s *whisperSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.results)
	return nil
}

func (p *WhisperProvider) transcribe(ctx context.Context, audio []byte, opts Options) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	_ = mw.WriteField("model", opts.Model)
	if opts.Language != "" {
		_ = mw.WriteField("language", opts.Language)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s transcription: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return decoded.Text, nil
}
