// Package catalog maps declared provider names to adapter constructors.
//
// The table is static and populated at process start, so an unsupported
// provider is an ordinary lookup miss rather than control flow through
// error handling. Callers must treat ErrUnsupportedProvider and adapter
// construction failure identically: both mean "this capability cannot be
// served right now".
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tonehq/tone-engine/pkg/engine/metadata"
	"github.com/tonehq/tone-engine/pkg/voice/llm"
	"github.com/tonehq/tone-engine/pkg/voice/stt"
	"github.com/tonehq/tone-engine/pkg/voice/tts"
)

// Capability is one of the three conversational functions.
type Capability string

const (
	CapabilityLLM Capability = "llm"
	CapabilitySTT Capability = "stt"
	CapabilityTTS Capability = "tts"
)

// Capabilities lists all capabilities in resolution order.
var Capabilities = []Capability{CapabilityLLM, CapabilitySTT, CapabilityTTS}

// Adapter is a constructed provider instance. The engine treats adapters
// as opaque once constructed.
type Adapter interface {
	Name() string
	Close() error
}

// ErrUnsupportedProvider is returned when no adapter is registered for a
// (capability, provider) pair.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// BuildFunc constructs an adapter from a decrypted credential and the
// merged provider configuration.
type BuildFunc func(credential string, cfg metadata.Map) (Adapter, error)

type entry struct {
	defaults metadata.Map
	build    BuildFunc
}

type key struct {
	capability Capability
	provider   string
}

// Catalog is the static registration table.
type Catalog struct {
	entries map[key]entry
}

// New returns a catalog populated with every supported provider.
func New() *Catalog {
	c := &Catalog{entries: make(map[key]entry)}

	c.register(CapabilityLLM, "openai", metadata.Map{"model": "gpt-4o"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		p := llm.NewOpenAI(cred)
		if base := cfg.String("base_url", ""); base != "" {
			p.WithBaseURL(base)
		}
		return p, nil
	})
	c.register(CapabilityLLM, "anthropic", metadata.Map{"model": "claude-sonnet-4-5"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		p := llm.NewAnthropic(cred)
		if base := cfg.String("base_url", ""); base != "" {
			p.WithBaseURL(base)
		}
		return p, nil
	})
	c.register(CapabilityLLM, "groq", metadata.Map{"model": "llama-3.3-70b-versatile"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		p := llm.NewGroq(cred)
		if base := cfg.String("base_url", ""); base != "" {
			p.WithBaseURL(base)
		}
		return p, nil
	})
	c.register(CapabilityLLM, "openrouter", metadata.Map{"model": "openai/gpt-4o"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		p := llm.NewOpenRouter(cred)
		if base := cfg.String("base_url", ""); base != "" {
			p.WithBaseURL(base)
		}
		return p, nil
	})
	c.register(CapabilityLLM, "gemini", metadata.Map{"model": "gemini-2.0-flash"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		return llm.NewGemini(cred)
	})

	c.register(CapabilitySTT, "deepgram", metadata.Map{"model": "nova-3"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		return stt.NewDeepgram(cred), nil
	})
	c.register(CapabilitySTT, "openai", metadata.Map{"model": "whisper-1"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		return stt.NewOpenAI(cred), nil
	})
	c.register(CapabilitySTT, "groq", metadata.Map{"model": "whisper-large-v3"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		return stt.NewGroq(cred), nil
	})
	c.register(CapabilitySTT, "cartesia", metadata.Map{"model": "ink-whisper"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		return stt.NewCartesia(cred), nil
	})

	c.register(CapabilityTTS, "cartesia", metadata.Map{"model": "sonic-3", "voice_id": "71a7ad14-091c-4e8e-a314-022ece01c121"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		return tts.NewCartesia(cred), nil
	})
	c.register(CapabilityTTS, "elevenlabs", metadata.Map{"model": "eleven_turbo_v2_5"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		return tts.NewElevenLabs(cred), nil
	})
	c.register(CapabilityTTS, "openai", metadata.Map{"model": "gpt-4o-mini-tts", "voice_id": "alloy"}, func(cred string, cfg metadata.Map) (Adapter, error) {
		return tts.NewOpenAI(cred), nil
	})
	c.register(CapabilityTTS, "playht", metadata.Map{}, func(cred string, cfg metadata.Map) (Adapter, error) {
		userID := cfg.String("user_id", "")
		if userID == "" {
			return nil, fmt.Errorf("playht requires user_id in provider config")
		}
		return tts.NewPlayHT(cred, userID), nil
	})

	return c
}

func (c *Catalog) register(cap Capability, provider string, defaults metadata.Map, build BuildFunc) {
	c.entries[key{cap, provider}] = entry{defaults: defaults, build: build}
}

// Defaults returns the registered default configuration for a provider, or
// nil when the pair is unknown.
func (c *Catalog) Defaults(cap Capability, provider string) metadata.Map {
	e, ok := c.entries[key{cap, normalize(provider)}]
	if !ok {
		return nil
	}
	return e.defaults
}

// Supports reports whether an adapter is registered for the pair.
func (c *Catalog) Supports(cap Capability, provider string) bool {
	_, ok := c.entries[key{cap, normalize(provider)}]
	return ok
}

// AdapterFor constructs the adapter for a provider. The registered
// defaults fill any keys missing from cfg before construction. Unknown
// pairs return ErrUnsupportedProvider; construction failures are wrapped
// with the capability and provider name. Callers handle both identically.
func (c *Catalog) AdapterFor(cap Capability, provider, credential string, cfg metadata.Map) (Adapter, error) {
	name := normalize(provider)
	e, ok := c.entries[key{cap, name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedProvider, cap, name)
	}
	adapter, err := e.build(credential, metadata.Merge(e.defaults, cfg))
	if err != nil {
		return nil, fmt.Errorf("construct %s/%s adapter: %w", cap, name, err)
	}
	return adapter, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
