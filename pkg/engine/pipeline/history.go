package pipeline

import (
	"sync"

	"github.com/tonehq/tone-engine/pkg/voice/llm"
)

// History is the conversation context shared by the aggregation stages and
// the language-model stage. Aggregators write turns, the model stage reads
// a snapshot per generation.
type History struct {
	mu   sync.Mutex
	msgs []llm.Message
}

// NewHistory seeds the context with the agent's system prompt and, when
// set, the greeting as an opening assistant turn. Seeding the greeting
// keeps later generations consistent with what the caller actually heard.
func NewHistory(systemPrompt, firstMessage string) *History {
	h := &History{}
	if systemPrompt != "" {
		h.msgs = append(h.msgs, llm.Message{Role: "system", Content: systemPrompt})
	}
	if firstMessage != "" {
		h.msgs = append(h.msgs, llm.Message{Role: "assistant", Content: firstMessage})
	}
	return h
}

// AppendUser records a completed user turn.
func (h *History) AppendUser(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, llm.Message{Role: "user", Content: text})
}

// AppendAssistant records a completed assistant turn.
func (h *History) AppendAssistant(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, llm.Message{Role: "assistant", Content: text})
}

// Messages returns a snapshot of the conversation so far.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len reports the number of recorded messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}
