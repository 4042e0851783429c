package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider implements streaming STT over Deepgram's websocket API.
type DeepgramProvider struct {
	apiKey string
	wsURL  string
}

// NewDeepgram creates a Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, wsURL: deepgramWSURL}
}

// WithWSURL overrides the websocket endpoint. Used in tests.
func (p *DeepgramProvider) WithWSURL(u string) *DeepgramProvider {
	p.wsURL = u
	return p
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

func (p *DeepgramProvider) Close() error { return nil }

type deepgramSession struct {
	conn    *websocket.Conn
	results chan Result
	done    chan struct{}
	once    sync.Once
	writeMu sync.Mutex
}

type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// NewSession dials the listen endpoint with the session parameters encoded
// in the query string, per Deepgram's live API.
func (p *DeepgramProvider) NewSession(ctx context.Context, opts Options) (Session, error) {
	q := url.Values{}
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if opts.Encoding != "" {
		q.Set("encoding", deepgramEncoding(opts.Encoding))
	}
	if opts.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	}
	q.Set("interim_results", "true")

	header := http.Header{}
	header.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, p.wsURL+"?"+q.Encode(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}

	s := &deepgramSession{
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

func (s *deepgramSession) readLoop() {
	defer close(s.results)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.results <- Result{Err: fmt.Errorf("deepgram read: %w", err)}
			}
			return
		}
		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		text := msg.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}
		select {
		case s.results <- Result{Text: text, Final: msg.IsFinal}:
		case <-s.done:
			return
		}
	}
}

func (s *deepgramSession) SendAudio(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *deepgramSession) Results() <-chan Result { return s.results }

func (s *deepgramSession) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func deepgramEncoding(encoding string) string {
	switch encoding {
	case "pcm_s16le":
		return "linear16"
	case "mulaw":
		return "mulaw"
	default:
		return encoding
	}
}
