package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Credential types carried in AccessTokenClaims.Type. API key claims are
// synthesized by the auth middleware, never signed into a JWT.
const (
	TokenTypeAccess = "access"
	TokenTypeAPIKey = "api_key"
)

// AccessTokenClaims are the claims embedded in short-lived signed access
// tokens. Verification is stateless: signature plus expiry, no revocation
// list. The compromise window is bounded by the token TTL.
//
// The same struct carries API key identity through the request context:
// Type is TokenTypeAPIKey and Scopes holds the key's scope whitelist.
type AccessTokenClaims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Type   string   `json:"type,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}
