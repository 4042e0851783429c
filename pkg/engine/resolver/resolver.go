// Package resolver turns an agent's persisted configuration into concrete
// provider selections: for each capability it finds the active catalog
// entry, decrypts its credential, and merges the configuration layers.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonehq/tone-engine/pkg/engine/catalog"
	"github.com/tonehq/tone-engine/pkg/engine/metadata"
	"github.com/tonehq/tone-engine/pkg/engine/store"
)

const (
	defaultQueryTimeout = 5 * time.Second
	touchTimeout        = 2 * time.Second
)

// Store is the read surface the resolver needs. *store.Store satisfies it;
// tests use an in-memory fake.
type Store interface {
	ActiveAgentConfig(ctx context.Context, agentID int64) (*store.AgentConfig, error)
	ActiveCatalogEntry(ctx context.Context, providerID int64, serviceType string) (*store.CatalogEntry, *store.ServiceProvider, error)
	APIKeyByID(ctx context.Context, id int64) (*store.APIKey, error)
	TouchCatalogEntry(ctx context.Context, id int64) error
	TouchAPIKey(ctx context.Context, id int64) error
}

// Decrypter decrypts stored credentials. *vault.Vault satisfies it.
type Decrypter interface {
	Decrypt(token string) (string, error)
}

// ResolvedService is the output of resolution: provider identity,
// decrypted credential, and merged configuration. The credential is held
// only for adapter construction and must never be logged.
type ResolvedService struct {
	Capability catalog.Capability
	Provider   string // lowercase provider name
	Credential string
	KeyHint    string // non-secret display hint, safe to log
	Config     metadata.Map
}

// Set holds the three capability resolutions for one agent. A nil field
// means that capability is unconfigured.
type Set struct {
	LLM *ResolvedService
	STT *ResolvedService
	TTS *ResolvedService
}

// Missing lists the unconfigured capabilities in resolution order.
func (s Set) Missing() []catalog.Capability {
	var out []catalog.Capability
	if s.LLM == nil {
		out = append(out, catalog.CapabilityLLM)
	}
	if s.STT == nil {
		out = append(out, catalog.CapabilitySTT)
	}
	if s.TTS == nil {
		out = append(out, catalog.CapabilityTTS)
	}
	return out
}

// Get returns the resolution for one capability.
func (s Set) Get(cap catalog.Capability) *ResolvedService {
	switch cap {
	case catalog.CapabilityLLM:
		return s.LLM
	case catalog.CapabilitySTT:
		return s.STT
	case catalog.CapabilityTTS:
		return s.TTS
	}
	return nil
}

// Resolver resolves agent capabilities against the shared database.
type Resolver struct {
	store        Store
	vault        Decrypter
	logger       *slog.Logger
	queryTimeout time.Duration
}

// New creates a resolver.
func New(st Store, vault Decrypter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: st, vault: vault, logger: logger, queryTimeout: defaultQueryTimeout}
}

// WithQueryTimeout overrides the per-query timeout.
func (r *Resolver) WithQueryTimeout(d time.Duration) *Resolver {
	r.queryTimeout = d
	return r
}

// Resolve finds the concrete provider selection for one capability of one
// agent. A (nil, nil) return means the capability is unconfigured: no
// active config, a null service reference, no active catalog entry, no
// linked key, or a credential that cannot be decrypted. Only database
// failures surface as errors.
func (r *Resolver) Resolve(ctx context.Context, agentID int64, cap catalog.Capability) (*ResolvedService, error) {
	qctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	cfg, err := r.store.ActiveAgentConfig(qctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent config: %w", err)
	}
	if cfg == nil {
		return nil, nil
	}
	providerID := serviceIDFor(cfg, cap)
	if providerID == nil {
		return nil, nil
	}

	entry, provider, err := r.store.ActiveCatalogEntry(qctx, *providerID, string(cap))
	if err != nil {
		return nil, fmt.Errorf("load catalog entry: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	if entry.APIKeyID == nil {
		r.logger.Warn("catalog entry has no linked api key",
			"agent_id", agentID, "capability", cap, "entry_id", entry.ID)
		return nil, nil
	}

	key, err := r.store.APIKeyByID(qctx, *entry.APIKeyID)
	if err != nil {
		return nil, fmt.Errorf("load api key: %w", err)
	}
	if key == nil || key.EncryptedKey == "" {
		return nil, nil
	}

	// A broken credential for one capability must not abort resolution
	// of the other two, so decrypt failure degrades to unconfigured.
	credential, err := r.vault.Decrypt(key.EncryptedKey)
	if err != nil {
		r.logger.Warn("credential decrypt failed",
			"agent_id", agentID, "capability", cap, "key_id", key.ID, "key_hint", key.Hint)
		return nil, nil
	}

	base, err := metadata.FromJSON(entry.Config)
	if err != nil {
		return nil, fmt.Errorf("decode catalog config: %w", err)
	}
	overlay, err := metadata.FromJSON(metadataFor(cfg, cap))
	if err != nil {
		return nil, fmt.Errorf("decode agent metadata: %w", err)
	}

	r.touch(entry.ID, key.ID)

	return &ResolvedService{
		Capability: cap,
		Provider:   provider.Name,
		Credential: credential,
		KeyHint:    key.Hint,
		Config:     metadata.Merge(base, overlay),
	}, nil
}

// ResolveAll resolves the three capabilities concurrently. There is no
// ordering dependency between them; all three complete (or definitively
// fail) before this returns, so assembly never starts with a partially
// resolved set. The first database error wins.
func (r *Resolver) ResolveAll(ctx context.Context, agentID int64) (Set, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		set      Set
		firstErr error
	)
	for _, cap := range catalog.Capabilities {
		wg.Add(1)
		go func(cap catalog.Capability) {
			defer wg.Done()
			svc, err := r.Resolve(ctx, agentID, cap)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("resolve %s: %w", cap, err)
				}
				return
			}
			switch cap {
			case catalog.CapabilityLLM:
				set.LLM = svc
			case catalog.CapabilitySTT:
				set.STT = svc
			case catalog.CapabilityTTS:
				set.TTS = svc
			}
		}(cap)
	}
	wg.Wait()
	if firstErr != nil {
		return Set{}, firstErr
	}
	return set, nil
}

// touch bumps usage counters in a detached, bounded goroutine. Bookkeeping
// must never block or fail the session.
func (r *Resolver) touch(entryID, keyID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := r.store.TouchCatalogEntry(ctx, entryID); err != nil {
			r.logger.Debug("touch catalog entry failed", "entry_id", entryID, "error", err)
		}
		if err := r.store.TouchAPIKey(ctx, keyID); err != nil {
			r.logger.Debug("touch api key failed", "key_id", keyID, "error", err)
		}
	}()
}

func serviceIDFor(cfg *store.AgentConfig, cap catalog.Capability) *int64 {
	switch cap {
	case catalog.CapabilityLLM:
		return cfg.LLMServiceID
	case catalog.CapabilitySTT:
		return cfg.STTServiceID
	case catalog.CapabilityTTS:
		return cfg.TTSServiceID
	}
	return nil
}

func metadataFor(cfg *store.AgentConfig, cap catalog.Capability) []byte {
	switch cap {
	case catalog.CapabilityLLM:
		return cfg.LLMMetadata
	case catalog.CapabilitySTT:
		return cfg.STTMetadata
	case catalog.CapabilityTTS:
		return cfg.TTSMetadata
	}
	return nil
}
