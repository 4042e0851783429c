package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider implements the LLM adapter on the official genai SDK.
type GeminiProvider struct {
	client *genai.Client
}

// NewGemini creates a Gemini adapter. The SDK client is constructed once
// and reused across generations.
func NewGemini(apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Close() error { return nil }

// Stream generates a response and relays SDK chunks as deltas.
func (p *GeminiProvider) Stream(ctx context.Context, msgs []Message, opts Options) (<-chan Delta, error) {
	cfg := &genai.GenerateContentConfig{}
	if opts.Temperature != 0 {
		temp := float32(opts.Temperature)
		cfg.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			}
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
			})
		}
	}

	out := make(chan Delta, 16)
	go func() {
		defer close(out)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, opts.Model, contents, cfg) {
			if err != nil {
				out <- Delta{Done: true, Err: fmt.Errorf("gemini stream: %w", err)}
				return
			}
			if text := resp.Text(); text != "" {
				select {
				case out <- Delta{Text: text}:
				case <-ctx.Done():
					out <- Delta{Done: true, Err: ctx.Err()}
					return
				}
			}
		}
		out <- Delta{Done: true, Err: ctx.Err()}
	}()
	return out, nil
}
