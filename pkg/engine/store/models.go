package store

// Row types mirror the tables owned by the CRUD backend. This subsystem
// reads them and, best-effort, bumps usage counters; it never creates or
// deletes rows.

// Agent is a named bot.
type Agent struct {
	ID        int64
	UUID      string
	Name      string
	Status    string
	AgentType string
	Tags      []byte // JSONB
	Metadata  []byte // JSONB
}

// AgentConfig is the resolved personality of an agent. At most one row per
// agent is active at a time.
type AgentConfig struct {
	ID               int64
	AgentID          int64
	LLMServiceID     *int64 // service_providers.id
	STTServiceID     *int64
	TTSServiceID     *int64
	SystemPrompt     string
	FirstMessage     string
	EndCallMessage   string
	VoicemailMessage string
	Status           string
	LLMMetadata      []byte // JSONB
	STTMetadata      []byte
	TTSMetadata      []byte
}

// ServiceProvider is a vendor identity plus its declared capability type.
type ServiceProvider struct {
	ID           int64
	Name         string
	DisplayName  string
	ProviderType string // "llm" | "stt" | "tts"
	AuthType     string
	BaseURL      string
	Status       string
}

// CatalogEntry is one configured offering under a provider for one
// capability type (the "services" table).
type CatalogEntry struct {
	ID                int64
	UUID              string
	ServiceProviderID int64
	APIKeyID          *int64
	Name              string
	ServiceType       string
	Config            []byte // JSONB defaults (model, voice_id, ...)
	Status            string
	IsDefault         *bool
	UsageCount        int64
	LastUsedAt        *int64
}

// APIKey is an encrypted provider secret with a non-secret display hint.
type APIKey struct {
	ID                int64
	ServiceProviderID int64
	Name              string
	EncryptedKey      string
	Hint              string
	Status            string
	UsageCount        int64
	LastUsedAt        *int64
}

// PhoneNumber binds a normalized number to an owning agent. The legacy
// direct agent binding is the canonical routing path; channel-owned
// numbers are retained in the schema but deprecated for routing.
type PhoneNumber struct {
	ID          int64
	AgentID     int64
	Number      string
	NumberSID   string
	CarrierName string
	Status      string
}
