package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Well-known metadata keys
const (
	KeyToEmail     = "to_email"
	KeyLLMRequest  = "llm_request"
	KeyLLMResponse = "llm_response"
	KeyMX          = "mx"
	KeyRoute       = "route"
	KeyReason      = "reason"
	KeyMessageID   = "message_id"
	KeyManual      = "manual"
)

// Metadata is the open key-value map stored with each outreach message as JSON text.
// Updates go through Merge so earlier keys survive later writes.
type Metadata map[string]any

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	*m = out
	return nil
}

// Merge folds patch into m. Nested objects are merged key by key, a nil value
// removes the key and any other value replaces.
func (m Metadata) Merge(patch Metadata) Metadata {
	if m == nil {
		m = Metadata{}
	}
	for k, v := range patch {
		if v == nil {
			delete(m, k)
			continue
		}
		next, ok := asMap(v)
		if !ok {
			m[k] = cloneValue(v)
			continue
		}
		prev, ok := asMap(m[k])
		if !ok {
			m[k] = map[string]any(Metadata{}.Merge(next))
			continue
		}
		m[k] = map[string]any(Metadata(prev).Merge(next))
	}
	return m
}

// Clone returns a deep copy
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// String returns the string stored under key, or ""
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Map returns the nested object stored under key
func (m Metadata) Map(key string) map[string]any {
	v, _ := asMap(m[key])
	return v
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Metadata:
		return map[string]any(t), true
	}
	return nil, false
}

func cloneValue(v any) any {
	if mv, ok := asMap(v); ok {
		return map[string]any(Metadata(mv).Clone())
	}
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
