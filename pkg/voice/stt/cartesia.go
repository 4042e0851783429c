package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaSTTWSURL  = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion   = "2025-04-16"
	cartesiaSTTModel  = "ink-whisper"
	cartesiaSTTSample = 16000
)

// CartesiaProvider implements streaming STT over Cartesia's websocket API.
type CartesiaProvider struct {
	apiKey string
	wsURL  string
}

// NewCartesia creates a Cartesia STT provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{apiKey: apiKey, wsURL: cartesiaSTTWSURL}
}

// WithWSURL overrides the websocket endpoint. Used in tests.
func (p *CartesiaProvider) WithWSURL(u string) *CartesiaProvider {
	p.wsURL = u
	return p
}

func (p *CartesiaProvider) Name() string { return "cartesia" }

func (p *CartesiaProvider) Close() error { return nil }

type cartesiaSession struct {
	conn    *websocket.Conn
	results chan Result
	done    chan struct{}
	once    sync.Once
	writeMu sync.Mutex
}

type cartesiaSTTMessage struct {
	Type    string `json:"type"` // "transcript", "flush_done", "done", "error"
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

// NewSession dials the STT websocket with session parameters in the query
// string, per Cartesia's live API.
func (p *CartesiaProvider) NewSession(ctx context.Context, opts Options) (Session, error) {
	u, err := url.Parse(p.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	model := opts.Model
	if model == "" {
		model = cartesiaSTTModel
	}
	q.Set("model", model)
	language := opts.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	q.Set("encoding", encoding)
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = cartesiaSTTSample
	}
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("X-API-Key", p.apiKey)
	header.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("cartesia dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("cartesia dial: %w", err)
	}

	s := &cartesiaSession{
		conn:    conn,
		results: make(chan Result, 32),
		done:    make(chan struct{}),
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

func (s *cartesiaSession) readLoop() {
	defer close(s.results)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.results <- Result{Err: fmt.Errorf("cartesia read: %w", err)}
			}
			return
		}
		var msg cartesiaSTTMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "transcript":
			if msg.Text == "" {
				continue
			}
			select {
			case s.results <- Result{Text: msg.Text, Final: msg.IsFinal}:
			case <-s.done:
				return
			}
		case "error":
			s.results <- Result{Err: fmt.Errorf("cartesia: %s", msg.Error)}
			return
		case "done":
			return
		}
	}
}

func (s *cartesiaSession) SendAudio(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *cartesiaSession) Results() <-chan Result { return s.results }

func (s *cartesiaSession) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
