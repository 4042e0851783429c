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
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	anthropicDefaultMaxTokens = 1024
)

// AnthropicProvider implements the LLM adapter over the Anthropic
// messages API.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropic creates an Anthropic messages adapter.
func NewAnthropic(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{apiKey: apiKey, baseURL: anthropicBaseURL, httpClient: streamClient()}
}

// WithBaseURL overrides the API base URL.
func (p *AnthropicProvider) WithBaseURL(base string) *AnthropicProvider {
	p.baseURL = strings.TrimRight(base, "/")
	return p
}

// WithHTTPClient overrides the HTTP client.
func (p *AnthropicProvider) WithHTTPClient(client *http.Client) *AnthropicProvider {
	p.httpClient = client
	return p
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Close() error { return nil }

type anthropicRequest struct {
	Model     string            `json:"model"`
	System    string            `json:"system,omitempty"`
	Messages  []anthropicTurn   `json:"messages"`
	MaxTokens int               `json:"max_tokens"`
	Stream    bool              `json:"stream"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type anthropicTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// Stream issues a streaming messages request. System messages are lifted
// into the top-level system field per the Anthropic wire contract.
func (p *AnthropicProvider) Stream(ctx context.Context, msgs []Message, opts Options) (<-chan Delta, error) {
	reqBody := anthropicRequest{
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
		Stream:    true,
	}
	if reqBody.MaxTokens <= 0 {
		reqBody.MaxTokens = anthropicDefaultMaxTokens
	}
	for _, m := range msgs {
		if m.Role == "system" {
			if reqBody.System != "" {
				reqBody.System += "\n\n"
			}
			reqBody.System += m.Content
			continue
		}
		reqBody.Messages = append(reqBody.Messages, anthropicTurn{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
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
			var ev anthropicEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Text != "" {
					select {
					case out <- Delta{Text: ev.Delta.Text}:
					case <-ctx.Done():
						out <- Delta{Done: true, Err: ctx.Err()}
						return
					}
				}
			case "message_stop":
				out <- Delta{Done: true}
				return
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
