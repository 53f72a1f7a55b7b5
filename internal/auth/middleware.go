package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/calebmorton/helix/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing access token claims in context
	UserContextKey contextKey = "user"
)

// APIKeyAuthenticator resolves a plaintext API key to its active record
type APIKeyAuthenticator interface {
	ValidateAPIKey(ctx context.Context, plainKey string) (*models.APIKey, error)
}

// Middleware validates bearer access tokens and injects the claims into
// the request context. Access tokens are stateless: there is no revocation
// lookup here, only signature and expiry checks.
func Middleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return MiddlewareWithAPIKeys(tm, nil)
}

// MiddlewareWithAPIKeys additionally accepts API keys as bearer
// credentials. Keys are recognized by their prefix, validated against the
// store, and surfaced as claims with Type api_key so scope middleware can
// distinguish them from user tokens.
func MiddlewareWithAPIKeys(tm *TokenManager, keys APIKeyAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			var claims *models.AccessTokenClaims
			if keys != nil && strings.HasPrefix(parts[1], APIKeyPrefix) {
				apiKey, err := keys.ValidateAPIKey(r.Context(), parts[1])
				if err != nil {
					http.Error(w, "invalid or revoked API key", http.StatusUnauthorized)
					return
				}
				claims = &models.AccessTokenClaims{
					UserID: apiKey.UserID,
					Type:   models.TokenTypeAPIKey,
					Scopes: apiKey.Scopes,
				}
			} else {
				validated, err := tm.ValidateAccessToken(parts[1])
				if err != nil {
					http.Error(w, "invalid or expired token", http.StatusUnauthorized)
					return
				}
				claims = validated
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext extracts access token claims previously injected by
// Middleware. Returns nil if the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *models.AccessTokenClaims {
	claims, _ := ctx.Value(UserContextKey).(*models.AccessTokenClaims)
	return claims
}
