// Package metadata holds the loosely-typed provider configuration blobs
// carried by catalog entries and agent configs, and the single merge rule
// that layers them.
package metadata

import (
	"encoding/json"
	"maps"
)

// Map is a provider-specific configuration blob (model id, voice id,
// region, base_url, ...). Values come from JSONB columns and are therefore
// strings, float64s, bools, or nested maps.
type Map map[string]any

// Merge layers overlay on top of base and returns a new Map. Keys present
// in overlay win; neither input is mutated. This is the only place config
// precedence is decided: catalog defaults form the base, agent overrides
// form the overlay.
func Merge(base, overlay Map) Map {
	out := make(Map, len(base)+len(overlay))
	maps.Copy(out, base)
	maps.Copy(out, overlay)
	return out
}

// FromJSON decodes a JSONB column value. A nil or empty input yields an
// empty Map rather than an error so absent blobs behave like {}.
func FromJSON(raw []byte) (Map, error) {
	if len(raw) == 0 {
		return Map{}, nil
	}
	var m Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}

// String returns the string value for key, or def when the key is absent
// or not a string.
func (m Map) String(key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Float returns the numeric value for key, or def. JSON numbers decode as
// float64; integer values stored by callers are accepted too.
func (m Map) Float(key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// Int returns the integer value for key, or def.
func (m Map) Int(key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// Bool returns the boolean value for key, or def.
func (m Map) Bool(key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}
