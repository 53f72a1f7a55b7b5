package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/handlers"
	"github.com/calebmorton/helix/internal/middleware"
	"github.com/calebmorton/helix/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	sessionsHandler *handlers.SessionsHandler,
	usersHandler *handlers.UsersHandler,
	deletionHandler *handlers.DeletionHandler,
	apiKeyHandler *handlers.APIKeyHandler,
	tokenManager *auth.TokenManager,
	apiKeys auth.APIKeyAuthenticator,
) {
	authLimit := middleware.RateLimitByIP(middleware.DefaultAuthRateLimit())
	emailLimit := middleware.RateLimitByIP(middleware.DefaultEmailRateLimit())

	// Public routes
	router.With(emailLimit).Post("/auth/register", authHandler.Register)
	router.With(authLimit).Post("/auth/login", authHandler.Login)
	router.With(authLimit).Post("/auth/oauth", authHandler.OAuthLogin)
	router.With(authLimit).Post("/auth/refresh", authHandler.Refresh)
	router.Post("/auth/logout", authHandler.Logout)
	router.With(authLimit).Post("/auth/verify-email", authHandler.VerifyEmail)
	router.With(emailLimit).Post("/auth/resend-verification", authHandler.ResendVerification)
	router.With(emailLimit).Post("/auth/password-reset", authHandler.RequestPasswordReset)
	router.With(authLimit).Post("/auth/password-reset/complete", authHandler.ResetPassword)

	// Deletion workflow runs on email proof, not login, so a user who
	// lost their password can still get their account removed
	router.With(emailLimit).Post("/account/deletion/request", deletionHandler.Request)
	router.With(authLimit).Post("/account/deletion/confirm", deletionHandler.Confirm)
	router.With(emailLimit).Post("/account/deletion/cancel", deletionHandler.Cancel)
	router.With(authLimit).Get("/account/deletion/status", deletionHandler.Status)

	// Protected routes accept user access tokens or API keys. Keys are
	// additionally gated per route by their scope whitelist.
	router.Group(func(r chi.Router) {
		r.Use(auth.MiddlewareWithAPIKeys(tokenManager, apiKeys))

		r.With(auth.RequireScope(models.ScopeUsersRead)).Get("/users/me", usersHandler.Me)
		r.With(auth.RequireScope(models.ScopeUsersWrite)).Post("/users/change-password", usersHandler.ChangePassword)
		r.With(auth.RequireScope(models.ScopeUsersWrite)).Post("/users/totp/enroll", usersHandler.EnrollTOTP)
		r.With(auth.RequireScope(models.ScopeUsersWrite)).Post("/users/totp/activate", usersHandler.ActivateTOTP)
		r.With(auth.RequireScope(models.ScopeUsersWrite)).Post("/users/totp/disable", usersHandler.DisableTOTP)

		r.With(auth.RequireScope(models.ScopeSessionsRead)).Get("/sessions", sessionsHandler.List)
		r.With(auth.RequireScope(models.ScopeSessionsWrite)).Delete("/sessions/{sessionID}", sessionsHandler.Revoke)
		r.With(auth.RequireScope(models.ScopeSessionsWrite)).Post("/sessions/revoke-all", sessionsHandler.RevokeAll)

		r.With(auth.RequireScope(models.ScopeKeysCreate)).Post("/api-keys", apiKeyHandler.Create)
		r.With(auth.RequireScope(models.ScopeKeysRead)).Get("/api-keys", apiKeyHandler.List)
		r.With(auth.RequireScope(models.ScopeKeysRead)).Get("/api-keys/{keyID}", apiKeyHandler.Get)
		r.With(auth.RequireScope(models.ScopeKeysCreate)).Post("/api-keys/{keyID}/rotate", apiKeyHandler.Rotate)
		r.With(auth.RequireScope(models.ScopeKeysRevoke)).Delete("/api-keys/{keyID}", apiKeyHandler.Deactivate)
	})
}
