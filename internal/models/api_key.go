package models

import (
	"regexp"
	"time"
)

// Scope constants define all valid API key scopes
const (
	ScopeUsersRead     = "users.read"
	ScopeUsersWrite    = "users.write"
	ScopeSessionsRead  = "sessions.read"
	ScopeSessionsWrite = "sessions.write"
	ScopeKeysRead      = "api_keys.read"
	ScopeKeysCreate    = "api_keys.create"
	ScopeKeysRevoke    = "api_keys.revoke"
)

// AllValidScopes is the whitelist of all allowed scopes
var AllValidScopes = map[string]bool{
	ScopeUsersRead:     true,
	ScopeUsersWrite:    true,
	ScopeSessionsRead:  true,
	ScopeSessionsWrite: true,
	ScopeKeysRead:      true,
	ScopeKeysCreate:    true,
	ScopeKeysRevoke:    true,
}

var scopeFormat = regexp.MustCompile(`^[a-z_]+\.(read|write|create|revoke)$`)

// APIKey represents a long-lived machine credential owned by a user
type APIKey struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	KeyHash   string     `json:"-"` // Never exposed
	KeyPrefix string     `json:"key_prefix"`
	Label     string     `json:"label"`
	Scopes    []string   `json:"scopes"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// GeneratedAPIKey carries the plaintext key, shown only at creation and rotation
type GeneratedAPIKey struct {
	PlainKey string  `json:"key"`
	APIKey   *APIKey `json:"api_key"`
}

// IsActive returns true if the key is still valid for use
func (k *APIKey) IsActive() bool {
	return k.RevokedAt == nil
}

// HasScope returns true if the key carries the given scope
func (k *APIKey) HasScope(scope string) bool {
	return HasScope(k.Scopes, scope)
}

// HasScope reports whether the scope set contains the given scope
func HasScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidateScopes rejects empty scope sets, unknown scopes, and
// malformed "resource.action" strings.
func ValidateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return ErrBadRequest
	}
	for _, scope := range scopes {
		if !AllValidScopes[scope] {
			return ErrBadRequest
		}
		if !scopeFormat.MatchString(scope) {
			return ErrBadRequest
		}
	}
	return nil
}
