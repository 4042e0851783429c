// Package config loads the engine's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// DatabaseURL is the shared Postgres the CRUD backend writes to.
	DatabaseURL    string
	MigrateOnStart bool

	// VaultSecret derives the credential-vault key at process start.
	// Never logged.
	VaultSecret string

	// Carrier call-detail API credentials. Both empty disables the
	// lookup; routing then relies on handshake parameters alone.
	TwilioAccountSID string
	TwilioAuthToken  string

	// Fallback conversation used when no agent is bound to the dialed
	// number. DefaultAgentID = 0 means no fallback agent is configured;
	// calls to unregistered numbers are then closed, since there is no
	// agent to resolve providers from.
	DefaultAgentID       int64
	FallbackSystemPrompt string
	FallbackFirstMessage string

	CarrierLookupTimeout time.Duration
	ResolveTimeout       time.Duration
	HandshakeTimeout     time.Duration

	WSWriteTimeout time.Duration
	WSPingInterval time.Duration

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("TONE_ENGINE_ADDR", ":8085"),
		DatabaseURL:          envOr("TONE_ENGINE_DATABASE_URL", ""),
		MigrateOnStart:       envBoolOr("TONE_ENGINE_MIGRATE_ON_START", false),
		VaultSecret:          envOr("TONE_ENGINE_VAULT_SECRET", ""),
		TwilioAccountSID:     envOr("TONE_ENGINE_TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      envOr("TONE_ENGINE_TWILIO_AUTH_TOKEN", ""),
		DefaultAgentID:       envInt64Or("TONE_ENGINE_DEFAULT_AGENT_ID", 0),
		FallbackSystemPrompt: envOr("TONE_ENGINE_FALLBACK_SYSTEM_PROMPT", "You are a helpful voice assistant. Keep your responses short and conversational."),
		FallbackFirstMessage: envOr("TONE_ENGINE_FALLBACK_FIRST_MESSAGE", "Hello! How can I help you today?"),
		CarrierLookupTimeout: envDurationOr("TONE_ENGINE_CARRIER_LOOKUP_TIMEOUT", 3*time.Second),
		ResolveTimeout:       envDurationOr("TONE_ENGINE_RESOLVE_TIMEOUT", 5*time.Second),
		HandshakeTimeout:     envDurationOr("TONE_ENGINE_HANDSHAKE_TIMEOUT", 5*time.Second),
		WSWriteTimeout:       envDurationOr("TONE_ENGINE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:       envDurationOr("TONE_ENGINE_WS_PING_INTERVAL", 20*time.Second),
		ReadHeaderTimeout:    envDurationOr("TONE_ENGINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("TONE_ENGINE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("TONE_ENGINE_DATABASE_URL must be set")
	}
	if cfg.VaultSecret == "" {
		return Config{}, fmt.Errorf("TONE_ENGINE_VAULT_SECRET must be set")
	}
	if (cfg.TwilioAccountSID == "") != (cfg.TwilioAuthToken == "") {
		return Config{}, fmt.Errorf("TONE_ENGINE_TWILIO_ACCOUNT_SID and TONE_ENGINE_TWILIO_AUTH_TOKEN must be set together")
	}
	if cfg.DefaultAgentID < 0 {
		return Config{}, fmt.Errorf("TONE_ENGINE_DEFAULT_AGENT_ID must be >= 0")
	}
	if cfg.CarrierLookupTimeout <= 0 {
		return Config{}, fmt.Errorf("TONE_ENGINE_CARRIER_LOOKUP_TIMEOUT must be > 0")
	}
	if cfg.ResolveTimeout <= 0 {
		return Config{}, fmt.Errorf("TONE_ENGINE_RESOLVE_TIMEOUT must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("TONE_ENGINE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("TONE_ENGINE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("TONE_ENGINE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("TONE_ENGINE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("TONE_ENGINE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// CarrierLookupEnabled reports whether call-detail API credentials are
// configured.
func (c Config) CarrierLookupEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
