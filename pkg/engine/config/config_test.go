package config

import (
	"strings"
	"testing"
	"time"
)

var engineEnvKeys = []string{
	"TONE_ENGINE_ADDR",
	"TONE_ENGINE_DATABASE_URL",
	"TONE_ENGINE_MIGRATE_ON_START",
	"TONE_ENGINE_VAULT_SECRET",
	"TONE_ENGINE_TWILIO_ACCOUNT_SID",
	"TONE_ENGINE_TWILIO_AUTH_TOKEN",
	"TONE_ENGINE_DEFAULT_AGENT_ID",
	"TONE_ENGINE_FALLBACK_SYSTEM_PROMPT",
	"TONE_ENGINE_FALLBACK_FIRST_MESSAGE",
	"TONE_ENGINE_CARRIER_LOOKUP_TIMEOUT",
	"TONE_ENGINE_RESOLVE_TIMEOUT",
	"TONE_ENGINE_HANDSHAKE_TIMEOUT",
	"TONE_ENGINE_WS_WRITE_TIMEOUT",
	"TONE_ENGINE_WS_PING_INTERVAL",
	"TONE_ENGINE_READ_HEADER_TIMEOUT",
	"TONE_ENGINE_SHUTDOWN_GRACE_PERIOD",
}

func clearEngineEnv(t *testing.T) {
	t.Helper()
	for _, key := range engineEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("TONE_ENGINE_DATABASE_URL", "postgres://localhost/tone")
	t.Setenv("TONE_ENGINE_VAULT_SECRET", "s3cret")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8085" {
		t.Fatalf("Addr = %q, want :8085", cfg.Addr)
	}
	if cfg.MigrateOnStart {
		t.Fatal("MigrateOnStart should default to false")
	}
	if cfg.DefaultAgentID != 0 {
		t.Fatalf("DefaultAgentID = %d, want 0", cfg.DefaultAgentID)
	}
	if cfg.CarrierLookupEnabled() {
		t.Fatal("carrier lookup should be disabled without credentials")
	}
	if cfg.FallbackSystemPrompt == "" || cfg.FallbackFirstMessage == "" {
		t.Fatal("fallback conversation defaults must be non-empty")
	}
	if cfg.CarrierLookupTimeout != 3*time.Second {
		t.Fatalf("CarrierLookupTimeout = %v, want 3s", cfg.CarrierLookupTimeout)
	}
	if cfg.ResolveTimeout != 5*time.Second {
		t.Fatalf("ResolveTimeout = %v, want 5s", cfg.ResolveTimeout)
	}
	if cfg.HandshakeTimeout != 5*time.Second {
		t.Fatalf("HandshakeTimeout = %v, want 5s", cfg.HandshakeTimeout)
	}
	if cfg.WSWriteTimeout != 5*time.Second || cfg.WSPingInterval != 20*time.Second {
		t.Fatalf("ws timeouts = %v/%v", cfg.WSWriteTimeout, cfg.WSPingInterval)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("TONE_ENGINE_ADDR", ":9000")
	t.Setenv("TONE_ENGINE_DATABASE_URL", "postgres://db.internal/tone")
	t.Setenv("TONE_ENGINE_MIGRATE_ON_START", "true")
	t.Setenv("TONE_ENGINE_VAULT_SECRET", "s3cret")
	t.Setenv("TONE_ENGINE_TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TONE_ENGINE_TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TONE_ENGINE_DEFAULT_AGENT_ID", "42")
	t.Setenv("TONE_ENGINE_CARRIER_LOOKUP_TIMEOUT", "1500ms")
	t.Setenv("TONE_ENGINE_RESOLVE_TIMEOUT", "7s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9000" || !cfg.MigrateOnStart {
		t.Fatalf("Addr/MigrateOnStart = %q/%v", cfg.Addr, cfg.MigrateOnStart)
	}
	if !cfg.CarrierLookupEnabled() {
		t.Fatal("carrier lookup should be enabled")
	}
	if cfg.DefaultAgentID != 42 {
		t.Fatalf("DefaultAgentID = %d, want 42", cfg.DefaultAgentID)
	}
	if cfg.CarrierLookupTimeout != 1500*time.Millisecond || cfg.ResolveTimeout != 7*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.CarrierLookupTimeout, cfg.ResolveTimeout)
	}
}

func TestLoadFromEnv_RequiredValues(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "missing database url",
			env:       map[string]string{"TONE_ENGINE_VAULT_SECRET": "s"},
			errSubstr: "TONE_ENGINE_DATABASE_URL",
		},
		{
			name:      "missing vault secret",
			env:       map[string]string{"TONE_ENGINE_DATABASE_URL": "postgres://x/y"},
			errSubstr: "TONE_ENGINE_VAULT_SECRET",
		},
		{
			name: "twilio sid without token",
			env: map[string]string{
				"TONE_ENGINE_DATABASE_URL":       "postgres://x/y",
				"TONE_ENGINE_VAULT_SECRET":       "s",
				"TONE_ENGINE_TWILIO_ACCOUNT_SID": "AC123",
			},
			errSubstr: "must be set together",
		},
		{
			name: "negative default agent id",
			env: map[string]string{
				"TONE_ENGINE_DATABASE_URL":     "postgres://x/y",
				"TONE_ENGINE_VAULT_SECRET":     "s",
				"TONE_ENGINE_DEFAULT_AGENT_ID": "-1",
			},
			errSubstr: "TONE_ENGINE_DEFAULT_AGENT_ID",
		},
		{
			name: "zero resolve timeout",
			env: map[string]string{
				"TONE_ENGINE_DATABASE_URL":    "postgres://x/y",
				"TONE_ENGINE_VAULT_SECRET":    "s",
				"TONE_ENGINE_RESOLVE_TIMEOUT": "0s",
			},
			errSubstr: "TONE_ENGINE_RESOLVE_TIMEOUT",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEngineEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}
