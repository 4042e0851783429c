package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	elevenLabsWSBase       = "wss://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_turbo_v2_5"
)

// ElevenLabsProvider implements streaming TTS over the ElevenLabs
// stream-input websocket API.
type ElevenLabsProvider struct {
	apiKey string
	wsBase string
}

// NewElevenLabs creates an ElevenLabs TTS provider.
func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{apiKey: apiKey, wsBase: elevenLabsWSBase}
}

// WithWSBase overrides the websocket base URL. Used in tests.
func (p *ElevenLabsProvider) WithWSBase(base string) *ElevenLabsProvider {
	p.wsBase = base
	return p
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

func (p *ElevenLabsProvider) Close() error { return nil }

type elevenLabsStream struct {
	conn    *websocket.Conn
	audio   chan []byte
	done    chan struct{}
	once    sync.Once
	writeMu sync.Mutex
}

type elevenLabsFrame struct {
	Text  string `json:"text"`
	Flush bool   `json:"flush,omitempty"`
}

type elevenLabsAudioMsg struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
}

// NewStream dials the stream-input endpoint for the configured voice.
func (p *ElevenLabsProvider) NewStream(ctx context.Context, opts Options) (Stream, error) {
	if opts.Voice == "" {
		return nil, fmt.Errorf("elevenlabs: voice id is required")
	}
	model := opts.Model
	if model == "" {
		model = elevenLabsDefaultModel
	}

	q := url.Values{}
	q.Set("model_id", model)
	if opts.Format == "mulaw" {
		q.Set("output_format", "ulaw_8000")
	} else if opts.SampleRate > 0 {
		q.Set("output_format", fmt.Sprintf("pcm_%d", opts.SampleRate))
	}
	wsURL := fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.wsBase, url.PathEscape(opts.Voice), q.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, map[string][]string{"xi-api-key": {p.apiKey}})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("elevenlabs dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("elevenlabs dial: %w", err)
	}

	// The protocol requires a leading space frame to open the stream.
	if err := conn.WriteJSON(elevenLabsFrame{Text: " "}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("elevenlabs hello: %w", err)
	}

	s := &elevenLabsStream{
		conn:  conn,
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

func (s *elevenLabsStream) readLoop() {
	defer close(s.audio)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg elevenLabsAudioMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Audio == "" {
			continue
		}
		chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
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

func (s *elevenLabsStream) SendText(text string, final bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if text != "" {
		if err := s.conn.WriteJSON(elevenLabsFrame{Text: text + " "}); err != nil {
			return err
		}
	}
	if final {
		return s.conn.WriteJSON(elevenLabsFrame{Text: "", Flush: true})
	}
	return nil
}

func (s *elevenLabsStream) Audio() <-chan []byte { return s.audio }

func (s *elevenLabsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
