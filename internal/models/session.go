package models

import (
	"time"
)

// Session represents one logged-in device/browser, identified by the hash
// of its opaque refresh token. The raw token is returned to the caller
// exactly once at creation and never persisted.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"-"` // Never exposed
	DeviceInfo string     `json:"device_info"`
	IPAddress  string     `json:"ip_address"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// IsUsable reports whether the session can still mint access tokens:
// not revoked and not past its expiry.
func (s *Session) IsUsable() bool {
	return s.RevokedAt == nil && time.Now().Before(s.ExpiresAt)
}

// IsExpired reports whether the session is past its expiry.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionSummary is the per-device view returned by ListSessions.
type SessionSummary struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"device_info"`
	IPAddress  string    `json:"ip_address"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsCurrent  bool      `json:"is_current"`
}
