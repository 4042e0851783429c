package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openaiBaseURL     = "https://api.openai.com/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	openrouterBaseURL = "https://openrouter.ai/api/v1"

	streamHeaderTimeout = 30 * time.Second
)

// streamClient bounds connection setup and the wait for response headers
// without capping the stream itself; generations may legitimately run
// long.
func streamClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: streamHeaderTimeout,
		},
	}
}

// ChatProvider speaks the OpenAI chat-completions wire format. OpenAI, Groq,
// and OpenRouter all expose this surface; only the base URL and provider
// name differ.
type ChatProvider struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI chat adapter.
func NewOpenAI(apiKey string) *ChatProvider {
	return &ChatProvider{name: "openai", apiKey: apiKey, baseURL: openaiBaseURL, httpClient: streamClient()}
}

// NewGroq creates a Groq chat adapter.
func NewGroq(apiKey string) *ChatProvider {
	return &ChatProvider{name: "groq", apiKey: apiKey, baseURL: groqBaseURL, httpClient: streamClient()}
}

// NewOpenRouter creates an OpenRouter chat adapter.
func NewOpenRouter(apiKey string) *ChatProvider {
	return &ChatProvider{name: "openrouter", apiKey: apiKey, baseURL: openrouterBaseURL, httpClient: streamClient()}
}

// WithBaseURL overrides the API base URL. Used for self-hosted gateways and
// in tests.
func (p *ChatProvider) WithBaseURL(base string) *ChatProvider {
	p.baseURL = strings.TrimRight(base, "/")
	return p
}

// WithHTTPClient overrides the HTTP client.
func (p *ChatProvider) WithHTTPClient(client *http.Client) *ChatProvider {
	p.httpClient = client
	return p
}

func (p *ChatProvider) Name() string { return p.name }

func (p *ChatProvider) Close() error { return nil }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream issues a streaming chat-completions request and relays content
// deltas until the server sends [DONE].
func (p *ChatProvider) Stream(ctx context.Context, msgs []Message, opts Options) (<-chan Delta, error) {
	reqBody := chatRequest{
		Model:     opts.Model,
		Messages:  make([]chatMessage, 0, len(msgs)),
		Stream:    true,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature != 0 {
		temp := opts.Temperature
		reqBody.Temperature = &temp
	}
	for _, m := range msgs {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	out := make(chan Delta, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				out <- Delta{Done: true}
				return
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					select {
					case out <- Delta{Text: choice.Delta.Content}:
					case <-ctx.Done():
						out <- Delta{Done: true, Err: ctx.Err()}
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- Delta{Done: true, Err: fmt.Errorf("read stream: %w", err)}
			return
		}
		out <- Delta{Done: true, Err: ctx.Err()}
	}()
	return out, nil
}
