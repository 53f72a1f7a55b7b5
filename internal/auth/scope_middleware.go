package auth

import (
	"net/http"

	"github.com/calebmorton/helix/internal/models"
	pkghttp "github.com/calebmorton/helix/pkg/http"
)

// RequireScope enforces a scope requirement for API key callers. User
// access tokens (Type != api_key) bypass the check: they already carry
// the full authority of the logged-in user.
func RequireScope(requiredScope string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if claims.Type != models.TokenTypeAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			if !models.HasScope(claims.Scopes, requiredScope) {
				pkghttp.WriteForbidden(w, "insufficient scope")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyScope allows access when the API key carries at least one of
// the given scopes. User access tokens bypass the check.
func RequireAnyScope(requiredScopes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if claims.Type != models.TokenTypeAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			for _, scope := range requiredScopes {
				if models.HasScope(claims.Scopes, scope) {
					next.ServeHTTP(w, r)
					return
				}
			}

			pkghttp.WriteForbidden(w, "insufficient scope")
		})
	}
}
