package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	"github.com/calebmorton/helix/internal/services"
	pkgauth "github.com/calebmorton/helix/pkg/auth"
	pkghttp "github.com/calebmorton/helix/pkg/http"
)

// AccountServiceInterface defines the logged-in account operations
type AccountServiceInterface interface {
	GetUser(ctx context.Context, userID string) (*services.UserResponse, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword, currentRefreshTokenRaw string) error
	EnrollTOTP(ctx context.Context, userID string) (*services.TOTPEnrollment, error)
	ActivateTOTP(ctx context.Context, userID, code string) error
	DisableTOTP(ctx context.Context, userID, password string) error
}

// UsersHandler handles profile and credential requests for logged-in users
type UsersHandler struct {
	service AccountServiceInterface
}

// NewUsersHandler creates a new UsersHandler
func NewUsersHandler(service AccountServiceInterface) *UsersHandler {
	return &UsersHandler{service: service}
}

// ChangePasswordRequest represents the request body for changing a password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// ActivateTOTPRequest represents the request body for confirming TOTP enrollment
type ActivateTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// DisableTOTPRequest represents the request body for disabling TOTP
type DisableTOTPRequest struct {
	Password string `json:"password" validate:"required"`
}

// Me returns the authenticated user's profile
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.service.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// ChangePassword changes the caller's password
func (h *UsersHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// The current session survives; everything else gets revoked
	currentToken, _ := auth.GetRefreshTokenCookie(r)

	err := h.service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword, currentToken)
	if err != nil {
		var validationErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &validationErr):
			pkghttp.WriteBadRequest(w, validationErr.Error())
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Current password is incorrect")
		case errors.Is(err, models.ErrPasswordAuthDisabled):
			pkghttp.WriteBadRequest(w, "This account signs in with an identity provider")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Password changed successfully.",
	})
}

// EnrollTOTP starts authenticator enrollment and returns the QR code
func (h *UsersHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	enrollment, err := h.service.EnrollTOTP(r.Context(), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "An authenticator is already enabled")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Authenticator enrollment is not available")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// ActivateTOTP confirms enrollment with a code from the authenticator
func (h *UsersHandler) ActivateTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ActivateTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ActivateTOTP(r.Context(), claims.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidTOTPCode):
			pkghttp.WriteBadRequest(w, "Invalid authenticator code")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "An authenticator is already enabled")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "No pending authenticator enrollment")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Authenticator enabled.",
	})
}

// DisableTOTP turns the second factor off
func (h *UsersHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req DisableTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.DisableTOTP(r.Context(), claims.UserID, req.Password); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Password is incorrect")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "No authenticator is enabled")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Authenticator disabled.",
	})
}
