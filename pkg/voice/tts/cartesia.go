package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaTTSWSURL = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion  = "2025-04-16"
	cartesiaModel    = "sonic-3"
)

// CartesiaProvider implements streaming TTS over Cartesia's websocket API.
type CartesiaProvider struct {
	apiKey string
	wsURL  string
}

// NewCartesia creates a Cartesia TTS provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{apiKey: apiKey, wsURL: cartesiaTTSWSURL}
}

// WithWSURL overrides the websocket endpoint. Used in tests.
func (p *CartesiaProvider) WithWSURL(u string) *CartesiaProvider {
	p.wsURL = u
	return p
}

func (p *CartesiaProvider) Name() string { return "cartesia" }

func (p *CartesiaProvider) Close() error { return nil }

type cartesiaStream struct {
	conn    *websocket.Conn
	opts    Options
	model   string
	ctxID   string
	audio   chan []byte
	done    chan struct{}
	once    sync.Once
	writeMu sync.Mutex
}

type cartesiaTTSRequest struct {
	ModelID      string             `json:"model_id"`
	Transcript   string             `json:"transcript"`
	Voice        cartesiaVoiceSpec  `json:"voice"`
	OutputFormat cartesiaFormatSpec `json:"output_format"`
	Language     string             `json:"language,omitempty"`
	ContextID    string             `json:"context_id"`
	Continue     bool               `json:"continue"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaFormatSpec struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaTTSMessage struct {
	Type  string `json:"type"` // "chunk", "done", "error"
	Data  string `json:"data"`
	Error string `json:"error"`
}

// NewStream dials the TTS websocket. Text is sent as continuation chunks
// under one context id so prosody carries across chunks.
func (p *CartesiaProvider) NewStream(ctx context.Context, opts Options) (Stream, error) {
	header := http.Header{}
	header.Set("X-API-Key", p.apiKey)
	header.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, p.wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("cartesia dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("cartesia dial: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = cartesiaModel
	}
	s := &cartesiaStream{
		conn:  conn,
		opts:  opts,
		model: model,
		ctxID: fmt.Sprintf("ctx-%d", time.Now().UnixNano()),
		audio: make(chan []byte, 32),
		done:  make(chan struct{}),
	}
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *cartesiaStream) readLoop() {
	defer close(s.audio)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg cartesiaTTSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "chunk" || msg.Data == "" {
			continue
		}
		chunk, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			continue
		}
		select {
		case s.audio <- chunk:
		case <-s.done:
			return
		}
	}
}

func (s *cartesiaStream) SendText(text string, final bool) error {
	sampleRate := s.opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	encoding := "pcm_s16le"
	if s.opts.Format == "mulaw" {
		encoding = "pcm_mulaw"
	}
	req := cartesiaTTSRequest{
		ModelID:    s.model,
		Transcript: text,
		Voice:      cartesiaVoiceSpec{Mode: "id", ID: s.opts.Voice},
		OutputFormat: cartesiaFormatSpec{
			Container:  "raw",
			Encoding:   encoding,
			SampleRate: sampleRate,
		},
		Language:  s.opts.Language,
		ContextID: s.ctxID,
		Continue:  !final,
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(req)
}

func (s *cartesiaStream) Audio() <-chan []byte { return s.audio }

func (s *cartesiaStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
