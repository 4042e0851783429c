package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	playhtStreamURL    = "https://api.play.ht/api/v2/tts/stream"
	playhtDefaultVoice = "s3://voice-cloning-zero-shot/d9ff78ba-d016-47f6-b0ef-dd630f59414e/female-cs/manifest.json"
)

// PlayHTProvider implements TTS over PlayHT's HTTP streaming endpoint.
// PlayHT authenticates with an API key plus a user id; the user id arrives
// through catalog/agent metadata rather than the credential vault.
type PlayHTProvider struct {
	apiKey     string
	userID     string
	endpoint   string
	httpClient *http.Client
}

// NewPlayHT creates a PlayHT TTS provider.
func NewPlayHT(apiKey, userID string) *PlayHTProvider {
	return &PlayHTProvider{apiKey: apiKey, userID: userID, endpoint: playhtStreamURL, httpClient: &http.Client{}}
}

// WithEndpoint overrides the stream endpoint. Used in tests.
func (p *PlayHTProvider) WithEndpoint(u string) *PlayHTProvider {
	p.endpoint = u
	return p
}

func (p *PlayHTProvider) Name() string { return "playht" }

func (p *PlayHTProvider) Close() error { return nil }

type playhtRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	OutputFmt  string `json:"output_format"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// NewStream returns a buffering stream: one synthesis request per
// finalized utterance, audio relayed in fixed-size frames.
func (p *PlayHTProvider) NewStream(ctx context.Context, opts Options) (Stream, error) {
	voice := opts.Voice
	if voice == "" {
		voice = playhtDefaultVoice
	}

	var pending strings.Builder
	var s *bufferedStream
	s = newBufferedStream(func(text string, final bool) error {
		pending.WriteString(text)
		if !final {
			return nil
		}
		input := strings.TrimSpace(pending.String())
		pending.Reset()
		if input == "" {
			return nil
		}
		go p.synthesize(ctx, s, input, voice, opts)
		return nil
	})
	return s, nil
}

func (p *PlayHTProvider) synthesize(ctx context.Context, s *bufferedStream, input, voice string, opts Options) {
	format := opts.Format
	if format == "" || format == "pcm" {
		format = "raw"
	}
	body, err := json.Marshal(playhtRequest{
		Text:       input,
		Voice:      voice,
		OutputFmt:  format,
		SampleRate: opts.SampleRate,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("X-User-Id", p.userID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.push(chunk) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
