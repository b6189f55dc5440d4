package gateway

import (
	"encoding/json"
	"time"
)

// --- Credentials ---

// Credential is one authentication identity against one upstream account.
// Secret schema depends on the provider: {"api_key": ...} for static keys,
// {"access_token", "refresh_token", "expiry"} for OAuth providers,
// {"service_account_json", "project", "location"} for Vertex.
type Credential struct {
	ID         int64           `json:"id"`
	ProviderID int64           `json:"provider_id"`
	Name       string          `json:"name,omitempty"`
	Secret     json.RawMessage `json:"secret,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"` // e.g. {"base_url": ...}
	Weight     int             `json:"weight"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SecretString returns a string field from the secret blob, or "".
func (c *Credential) SecretString(key string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(c.Secret, &m); err != nil {
		return ""
	}
	var s string
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// MetaString returns a string field from the meta blob, or "".
func (c *Credential) MetaString(key string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(c.Meta, &m); err != nil {
		return ""
	}
	var s string
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// --- Disallow overlay ---

// DisallowScope is the axis at which a health mark applies: all models of a
// credential, or one named model. The zero value is AllModels.
type DisallowScope struct {
	Model string // "" = all models
}

// ScopeAllModels covers every model on a credential.
func ScopeAllModels() DisallowScope { return DisallowScope{} }

// ScopeModel covers a single model.
func ScopeModel(name string) DisallowScope { return DisallowScope{Model: name} }

// AllModels reports whether the scope covers every model.
func (s DisallowScope) AllModels() bool { return s.Model == "" }

func (s DisallowScope) String() string {
	if s.Model == "" {
		return "all_models"
	}
	return "model:" + s.Model
}

// DisallowLevel grades a health mark.
type DisallowLevel int

const (
	// LevelCooldown is a timed backoff, typically from a 429. Until is required.
	LevelCooldown DisallowLevel = iota
	// LevelTransient is a short retryable outage. Missing Until means a 30s
	// TTL counted from UpdatedAt.
	LevelTransient
	// LevelDead persists until an admin clears it.
	LevelDead
)

func (l DisallowLevel) String() string {
	switch l {
	case LevelCooldown:
		return "cooldown"
	case LevelTransient:
		return "transient"
	case LevelDead:
		return "dead"
	}
	return "unknown"
}

// ParseDisallowLevel converts a stored level string back to a DisallowLevel.
func ParseDisallowLevel(s string) (DisallowLevel, bool) {
	switch s {
	case "cooldown":
		return LevelCooldown, true
	case "transient":
		return LevelTransient, true
	case "dead":
		return LevelDead, true
	}
	return 0, false
}

// TransientTTL is the lifetime of a Transient mark that carries no Until.
const TransientTTL = 30 * time.Second

// DisallowEntry is one health mark on a (credential, scope).
type DisallowEntry struct {
	Level     DisallowLevel
	Until     *time.Time // nil on Dead; nil on Transient means UpdatedAt+TransientTTL
	Reason    string
	UpdatedAt time.Time
}

// Expired reports whether the entry no longer blocks eligibility at now.
// Dead entries never expire.
func (e *DisallowEntry) Expired(now time.Time) bool {
	switch e.Level {
	case LevelDead:
		return false
	case LevelTransient:
		if e.Until == nil {
			return now.After(e.UpdatedAt.Add(TransientTTL))
		}
	}
	if e.Until == nil {
		return false
	}
	return now.After(*e.Until)
}

// Mark is an outcome signal from an upstream attempt, applied to the pool.
type Mark struct {
	Scope      DisallowScope
	Level      DisallowLevel
	RetryAfter time.Duration // Cooldown only
	Reason     string
}

// --- State events ---

// StateEvent is a credential health transition published to the state sink.
type StateEvent struct {
	CredentialID int64
	Scope        DisallowScope
	Cleared      bool // true = entry removed (success or expiry)
	Level        DisallowLevel
	Until        *time.Time
	Reason       string
	At           time.Time
}

// StateSink receives credential state transitions. Publishing must not block
// the request path beyond a short bounded wait; events are never dropped.
type StateSink interface {
	PublishState(ev StateEvent)
}
