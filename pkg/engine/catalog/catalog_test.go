package catalog

import (
	"errors"
	"testing"

	"github.com/tonehq/tone-engine/pkg/engine/metadata"
)

func TestAdapterFor_UnknownPair(t *testing.T) {
	c := New()

	cases := []struct {
		cap      Capability
		provider string
	}{
		{CapabilityLLM, "nosuchvendor"},
		{CapabilitySTT, "anthropic"}, // known vendor, wrong capability
		{CapabilityTTS, ""},
		{Capability("video"), "openai"},
	}
	for _, tc := range cases {
		_, err := c.AdapterFor(tc.cap, tc.provider, "key", nil)
		if !errors.Is(err, ErrUnsupportedProvider) {
			t.Fatalf("AdapterFor(%s, %q) err = %v, want ErrUnsupportedProvider", tc.cap, tc.provider, err)
		}
	}
}

func TestAdapterFor_NormalizesProviderName(t *testing.T) {
	c := New()

	a, err := c.AdapterFor(CapabilityLLM, "  OpenAI  ", "key", nil)
	if err != nil {
		t.Fatalf("AdapterFor: %v", err)
	}
	if a.Name() != "openai" {
		t.Fatalf("Name() = %q, want openai", a.Name())
	}
}

func TestAdapterFor_ConstructionFailureIsNotUnsupported(t *testing.T) {
	c := New()

	// playht requires user_id; without it construction fails but the
	// provider is still a supported one.
	_, err := c.AdapterFor(CapabilityTTS, "playht", "key", nil)
	if err == nil {
		t.Fatal("expected construction failure")
	}
	if errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("construction failure should not be ErrUnsupportedProvider: %v", err)
	}
}

func TestAdapterFor_ConstructionUsesMergedConfig(t *testing.T) {
	c := New()

	a, err := c.AdapterFor(CapabilityTTS, "playht", "key", metadata.Map{"user_id": "u-123"})
	if err != nil {
		t.Fatalf("AdapterFor: %v", err)
	}
	if a.Name() != "playht" {
		t.Fatalf("Name() = %q", a.Name())
	}
}

func TestDefaults(t *testing.T) {
	c := New()

	d := c.Defaults(CapabilityTTS, "Cartesia")
	if d == nil {
		t.Fatal("Defaults returned nil for a registered provider")
	}
	if d.String("voice_id", "") == "" {
		t.Fatal("cartesia tts should carry a default voice_id")
	}
	if c.Defaults(CapabilityLLM, "nosuchvendor") != nil {
		t.Fatal("Defaults for unknown provider should be nil")
	}
}

func TestSupports_AllRegisteredPairs(t *testing.T) {
	c := New()

	want := map[Capability][]string{
		CapabilityLLM: {"openai", "anthropic", "groq", "openrouter", "gemini"},
		CapabilitySTT: {"deepgram", "openai", "groq", "cartesia"},
		CapabilityTTS: {"cartesia", "elevenlabs", "openai", "playht"},
	}
	for cap, providers := range want {
		for _, p := range providers {
			if !c.Supports(cap, p) {
				t.Fatalf("Supports(%s, %s) = false", cap, p)
			}
		}
	}
}
