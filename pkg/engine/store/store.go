// Package store is the read-mostly database layer shared with the CRUD
// backend. All queries carry the caller's context; the resolution path
// never holds a transaction open across a network suspension point.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the shared connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pool to the given database URL.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool. Used in tests.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ActiveAgentConfig returns the active config row for an agent, or nil
// when the agent has none.
func (s *Store) ActiveAgentConfig(ctx context.Context, agentID int64) (*AgentConfig, error) {
	const q = `
		SELECT id, agent_id, llm_service_id, stt_service_id, tts_service_id,
		       COALESCE(system_prompt, ''), COALESCE(first_message, ''),
		       COALESCE(end_call_message, ''), COALESCE(voicemail_message, ''),
		       COALESCE(status, ''), llm_metadata, stt_metadata, tts_metadata
		FROM agent_configs
		WHERE agent_id = $1 AND status = 'active'
		ORDER BY id
		LIMIT 1`

	var c AgentConfig
	err := s.pool.QueryRow(ctx, q, agentID).Scan(
		&c.ID, &c.AgentID, &c.LLMServiceID, &c.STTServiceID, &c.TTSServiceID,
		&c.SystemPrompt, &c.FirstMessage, &c.EndCallMessage, &c.VoicemailMessage,
		&c.Status, &c.LLMMetadata, &c.STTMetadata, &c.TTSMetadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query agent config: %w", err)
	}
	return &c, nil
}

// ActiveCatalogEntry returns the active catalog entry for a provider and
// capability, together with the owning provider row, or nil when none
// matches. Selection over the active rows is deterministic: the entry
// flagged default wins, then lowest insertion order.
func (s *Store) ActiveCatalogEntry(ctx context.Context, providerID int64, serviceType string) (*CatalogEntry, *ServiceProvider, error) {
	const q = `
		SELECT svc.id, svc.uuid, svc.service_provider_id, svc.api_key_id,
		       svc.name, svc.service_type, svc.config, COALESCE(svc.status, ''),
		       svc.is_default, COALESCE(svc.usage_count, 0), svc.last_used_at,
		       sp.id, sp.name, COALESCE(sp.display_name, ''), sp.provider_type,
		       COALESCE(sp.auth_type, ''), COALESCE(sp.base_url, ''), COALESCE(sp.status, '')
		FROM services svc
		JOIN service_providers sp ON sp.id = svc.service_provider_id
		WHERE svc.service_provider_id = $1
		  AND svc.service_type = $2
		  AND svc.status = 'active'
		ORDER BY svc.id ASC`

	rows, err := s.pool.Query(ctx, q, providerID, serviceType)
	if err != nil {
		return nil, nil, fmt.Errorf("query catalog entries: %w", err)
	}
	defer rows.Close()

	var candidates []catalogRow
	for rows.Next() {
		var r catalogRow
		if err := rows.Scan(
			&r.entry.ID, &r.entry.UUID, &r.entry.ServiceProviderID, &r.entry.APIKeyID,
			&r.entry.Name, &r.entry.ServiceType, &r.entry.Config, &r.entry.Status,
			&r.entry.IsDefault, &r.entry.UsageCount, &r.entry.LastUsedAt,
			&r.provider.ID, &r.provider.Name, &r.provider.DisplayName, &r.provider.ProviderType,
			&r.provider.AuthType, &r.provider.BaseURL, &r.provider.Status,
		); err != nil {
			return nil, nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("query catalog entries: %w", err)
	}

	picked := pickCatalogEntry(candidates)
	if picked == nil {
		return nil, nil, nil
	}
	return &picked.entry, &picked.provider, nil
}

type catalogRow struct {
	entry    CatalogEntry
	provider ServiceProvider
}

// pickCatalogEntry selects one row from the active candidates: an entry
// flagged default beats one that is not (a null flag counts as not
// flagged), ties break on lowest id. The same input always yields the
// same row.
func pickCatalogEntry(rows []catalogRow) *catalogRow {
	var best *catalogRow
	for i := range rows {
		r := &rows[i]
		if best == nil || catalogRowBefore(r, best) {
			best = r
		}
	}
	return best
}

func catalogRowBefore(a, b *catalogRow) bool {
	aDefault := a.entry.IsDefault != nil && *a.entry.IsDefault
	bDefault := b.entry.IsDefault != nil && *b.entry.IsDefault
	if aDefault != bDefault {
		return aDefault
	}
	return a.entry.ID < b.entry.ID
}

// APIKeyByID returns the key row, or nil when absent.
func (s *Store) APIKeyByID(ctx context.Context, id int64) (*APIKey, error) {
	const q = `
		SELECT id, service_provider_id, COALESCE(name, ''),
		       api_key_encrypted, COALESCE(api_key_hint, ''),
		       COALESCE(status, ''), COALESCE(usage_count, 0), last_used_at
		FROM api_keys
		WHERE id = $1`

	var k APIKey
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&k.ID, &k.ServiceProviderID, &k.Name,
		&k.EncryptedKey, &k.Hint,
		&k.Status, &k.UsageCount, &k.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query api key: %w", err)
	}
	return &k, nil
}

// AgentByID returns the agent row, or nil when absent.
func (s *Store) AgentByID(ctx context.Context, id int64) (*Agent, error) {
	const q = `
		SELECT id, uuid, name, COALESCE(status, ''), COALESCE(agent_type, ''), tags, meta_data
		FROM agents
		WHERE id = $1`
	return s.scanAgent(s.pool.QueryRow(ctx, q, id))
}

// AgentByUUID returns the agent row, or nil when absent. Web live sessions
// address agents by uuid.
func (s *Store) AgentByUUID(ctx context.Context, uuid string) (*Agent, error) {
	const q = `
		SELECT id, uuid, name, COALESCE(status, ''), COALESCE(agent_type, ''), tags, meta_data
		FROM agents
		WHERE uuid = $1`
	return s.scanAgent(s.pool.QueryRow(ctx, q, uuid))
}

// AgentByPhoneNumber resolves the agent owning a normalized dialed number
// through the canonical direct binding, or nil when the number is
// unregistered.
func (s *Store) AgentByPhoneNumber(ctx context.Context, number string) (*Agent, error) {
	const q = `
		SELECT a.id, a.uuid, a.name, COALESCE(a.status, ''), COALESCE(a.agent_type, ''), a.tags, a.meta_data
		FROM agent_phone_numbers apn
		JOIN agents a ON a.id = apn.agent_id
		WHERE apn.phone_number = $1 AND apn.status = 'active'
		ORDER BY apn.id
		LIMIT 1`
	return s.scanAgent(s.pool.QueryRow(ctx, q, number))
}

func (s *Store) scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.UUID, &a.Name, &a.Status, &a.AgentType, &a.Tags, &a.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	return &a, nil
}

// TouchCatalogEntry bumps the usage counter on a catalog entry.
// Best-effort bookkeeping: callers run it detached with a short timeout
// and ignore the error.
func (s *Store) TouchCatalogEntry(ctx context.Context, id int64) error {
	const q = `
		UPDATE services
		SET usage_count = COALESCE(usage_count, 0) + 1, last_used_at = $2
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, time.Now().Unix())
	return err
}

// TouchAPIKey bumps the usage counter on an api key. Best-effort, like
// TouchCatalogEntry.
func (s *Store) TouchAPIKey(ctx context.Context, id int64) error {
	const q = `
		UPDATE api_keys
		SET usage_count = COALESCE(usage_count, 0) + 1, last_used_at = $2
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, time.Now().Unix())
	return err
}
