package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	"github.com/calebmorton/helix/internal/services"
	pkgauth "github.com/calebmorton/helix/pkg/auth"
	pkghttp "github.com/calebmorton/helix/pkg/http"
)

// SessionServiceInterface defines the session operations the handler needs
type SessionServiceInterface interface {
	LoginWithPassword(ctx context.Context, email, password, totpCode string, device services.DeviceContext) (*services.AuthResponse, error)
	LoginWithOAuth(ctx context.Context, provider, idToken string, device services.DeviceContext) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshTokenRaw string, device services.DeviceContext) (*services.AuthResponse, error)
	Logout(ctx context.Context, refreshTokenRaw string) error
}

// UserServiceInterface defines the account operations the handler needs
type UserServiceInterface interface {
	Register(ctx context.Context, email, username, password string) (*services.UserResponse, error)
	VerifyEmail(ctx context.Context, plainToken string) error
	ResendVerification(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, plainToken, newPassword string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	sessions     SessionServiceInterface
	users        UserServiceInterface
	cookieConfig auth.CookieConfig
	cookieMaxAge int
	ipConfig     *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(sessions SessionServiceInterface, users UserServiceInterface, cookieConfig auth.CookieConfig, cookieMaxAge int, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		sessions:     sessions,
		users:        users,
		cookieConfig: cookieConfig,
		cookieMaxAge: cookieMaxAge,
		ipConfig:     ipConfig,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code,omitempty"`
}

// OAuthLoginRequest represents the request body for OAuth login
type OAuthLoginRequest struct {
	Provider string `json:"provider" validate:"required,oneof=google apple"`
	IDToken  string `json:"id_token" validate:"required"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// EmailRequest represents request bodies carrying only an email address
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for completing a password reset
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

func (h *AuthHandler) deviceContext(r *http.Request) services.DeviceContext {
	return services.DeviceContext{
		DeviceInfo: pkghttp.DeviceInfo(r.Header.Get("User-Agent")),
		IPAddress:  pkghttp.ExtractClientIP(r, h.ipConfig),
	}
}

// writeAuthResponse sets the refresh-token cookie and strips the raw token
// from the JSON body; the cookie is its only delivery channel
func (h *AuthHandler) writeAuthResponse(w http.ResponseWriter, resp *services.AuthResponse, status int) {
	if resp.RefreshToken != "" {
		auth.SetRefreshTokenCookie(w, resp.RefreshToken, h.cookieMaxAge, h.cookieConfig)
		resp.RefreshToken = ""
	}
	pkghttp.WriteJSON(w, status, resp)
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_, err := h.users.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		var validationErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &validationErr):
			pkghttp.WriteBadRequest(w, validationErr.Error())
		case errors.Is(err, models.ErrEmailTaken):
			pkghttp.WriteConflict(w, "Email address is already registered")
		case errors.Is(err, models.ErrUsernameTaken):
			pkghttp.WriteConflict(w, "Username is already taken")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Account already exists")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid registration details")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]string{
		"message": "Registration received. Check your email to verify your account.",
	})
}

// Login handles password login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.sessions.LoginWithPassword(r.Context(), req.Email, req.Password, req.TOTPCode, h.deviceContext(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidTOTPCode):
			pkghttp.WriteUnauthorized(w, "A valid authenticator code is required")
		case errors.Is(err, models.ErrPasswordAuthDisabled),
			errors.Is(err, models.ErrEmailNotVerified),
			errors.Is(err, models.ErrInvalidCredentials),
			errors.Is(err, models.ErrUnauthorized):
			// OAuth-only accounts fail the same way as bad passwords so
			// the response cannot reveal how an email is registered
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.writeAuthResponse(w, resp, http.StatusOK)
}

// OAuthLogin handles login with a provider-issued ID token
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req OAuthLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.sessions.LoginWithOAuth(r.Context(), req.Provider, req.IDToken, h.deviceContext(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnsupportedProvider):
			pkghttp.WriteBadRequest(w, "Unsupported identity provider")
		case errors.Is(err, models.ErrProviderUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Identity provider is unavailable. Try again.")
		case errors.Is(err, models.ErrEmailTaken):
			pkghttp.WriteConflict(w, "Email address is already registered")
		case errors.Is(err, models.ErrInvalidOAuthToken),
			errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.writeAuthResponse(w, resp, http.StatusOK)
}

// Refresh exchanges the refresh-token cookie for a new access token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := auth.GetRefreshTokenCookie(r)
	if err != nil || refreshToken == "" {
		pkghttp.WriteUnauthorized(w, "Authentication failed")
		return
	}

	resp, err := h.sessions.Refresh(r.Context(), refreshToken, h.deviceContext(r))
	if err != nil {
		if errors.Is(err, models.ErrInvalidRefreshToken) {
			auth.ClearRefreshTokenCookie(w, h.cookieConfig)
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.writeAuthResponse(w, resp, http.StatusOK)
}

// Logout revokes the current session; repeating it is harmless
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := auth.GetRefreshTokenCookie(r)
	if err == nil && refreshToken != "" {
		if err := h.sessions.Logout(r.Context(), refreshToken); err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	auth.ClearRefreshTokenCookie(w, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail handles email verification with a token
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, models.ErrInvalidOrExpiredToken) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired verification token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully. Please log in.",
	})
}

// ResendVerification handles resending of the verification email.
// Always answers 202 to keep registered addresses unguessable.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.users.ResendVerification(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists with this email, a verification email will be sent.",
	})
}

// RequestPasswordReset dispatches a reset token. Same 202 contract as
// ResendVerification.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.users.RequestPasswordReset(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists with this email, a password reset email will be sent.",
	})
}

// ResetPassword completes a password reset with an emailed token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		var validationErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &validationErr):
			pkghttp.WriteBadRequest(w, validationErr.Error())
		case errors.Is(err, models.ErrInvalidOrExpiredToken):
			pkghttp.WriteUnauthorized(w, "Invalid or expired reset token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully. Please log in.",
	})
}
