package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	openaiSpeechURL     = "https://api.openai.com/v1/audio/speech"
	openaiDefaultTTS    = "gpt-4o-mini-tts"
	openaiDefaultVoice  = "alloy"
	openaiSpeechBufSize = 4096
)

// OpenAIProvider implements TTS over OpenAI's HTTP speech endpoint. The
// endpoint synthesizes one utterance per request, so the stream buffers
// text until final and then issues a single request.
type OpenAIProvider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI TTS provider.
func NewOpenAI(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{apiKey: apiKey, endpoint: openaiSpeechURL, httpClient: &http.Client{}}
}

// WithEndpoint overrides the speech endpoint. Used in tests.
func (p *OpenAIProvider) WithEndpoint(u string) *OpenAIProvider {
	p.endpoint = u
	return p
}

// WithHTTPClient overrides the HTTP client.
func (p *OpenAIProvider) WithHTTPClient(client *http.Client) *OpenAIProvider {
	p.httpClient = client
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Close() error { return nil }

type openaiSpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// NewStream returns a buffering stream: text accumulates until the final
// chunk, then one speech request streams audio back in fixed-size frames.
func (p *OpenAIProvider) NewStream(ctx context.Context, opts Options) (Stream, error) {
	model := opts.Model
	if model == "" {
		model = openaiDefaultTTS
	}
	voice := opts.Voice
	if voice == "" {
		voice = openaiDefaultVoice
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
		go p.synthesize(ctx, s, input, model, voice, opts)
		return nil
	})
	return s, nil
}

func (p *OpenAIProvider) synthesize(ctx context.Context, s *bufferedStream, input, model, voice string, opts Options) {
	reqBody := openaiSpeechRequest{
		Model: model,
		Input: input,
		Voice: voice,
		Speed: opts.Speed,
	}
	switch opts.Format {
	case "", "pcm":
		reqBody.ResponseFormat = "pcm"
	default:
		reqBody.ResponseFormat = opts.Format
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	buf := make([]byte, openaiSpeechBufSize)
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
