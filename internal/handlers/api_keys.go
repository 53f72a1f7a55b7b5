package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	pkghttp "github.com/calebmorton/helix/pkg/http"
)

// APIKeyServiceInterface defines the API key operations
type APIKeyServiceInterface interface {
	CreateAPIKey(ctx context.Context, userID, label string, scopes []string) (*models.GeneratedAPIKey, error)
	RotateAPIKey(ctx context.Context, userID, keyID string) (*models.GeneratedAPIKey, error)
	DeactivateAPIKey(ctx context.Context, userID, keyID string) error
	ListUserKeys(ctx context.Context, userID string) ([]*models.APIKey, error)
	GetAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error)
}

// APIKeyHandler handles API key management requests
type APIKeyHandler struct {
	service APIKeyServiceInterface
}

// NewAPIKeyHandler creates a new APIKeyHandler
func NewAPIKeyHandler(service APIKeyServiceInterface) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// CreateAPIKeyRequest represents the request body for creating an API key
type CreateAPIKeyRequest struct {
	Label  string   `json:"label" validate:"required,min=1,max=64"`
	Scopes []string `json:"scopes" validate:"required,min=1"`
}

// Create issues a new API key. The plaintext key appears only in this
// response.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	generated, err := h.service.CreateAPIKey(r.Context(), claims.UserID, req.Label, req.Scopes)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid label or scopes")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, generated)
}

// List returns the caller's API keys, without key material
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keys, err := h.service.ListUserKeys(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"api_keys": keys,
	})
}

// Get returns one of the caller's API keys
func (h *APIKeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "keyID")
	key, err := h.service.GetAPIKey(r.Context(), claims.UserID, keyID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "API key not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid key id")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, key)
}

// Rotate replaces the key material; the old plaintext stops working
// immediately
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "keyID")
	generated, err := h.service.RotateAPIKey(r.Context(), claims.UserID, keyID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "API key not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid key id")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, generated)
}

// Deactivate revokes an API key
func (h *APIKeyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "keyID")
	if err := h.service.DeactivateAPIKey(r.Context(), claims.UserID, keyID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "API key not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid key id")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
