package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/calebmorton/helix/internal/models"
	pkghttp "github.com/calebmorton/helix/pkg/http"
)

// DeletionServiceInterface defines the account deletion workflow operations
type DeletionServiceInterface interface {
	RequestDeletion(ctx context.Context, email string) error
	ConfirmDeletion(ctx context.Context, plainToken string) (*models.DeletionStatus, error)
	CancelDeletion(ctx context.Context, email string) error
	GetDeletionStatus(ctx context.Context, email string) (*models.DeletionStatus, error)
}

// DeletionHandler handles account deletion workflow requests
type DeletionHandler struct {
	service DeletionServiceInterface
}

// NewDeletionHandler creates a new DeletionHandler
func NewDeletionHandler(service DeletionServiceInterface) *DeletionHandler {
	return &DeletionHandler{service: service}
}

// ConfirmDeletionRequest represents the request body for confirming deletion
type ConfirmDeletionRequest struct {
	Token string `json:"token" validate:"required"`
}

const deletionGenericMessage = "If an account exists with this email, a confirmation email will be sent."

// Request starts the deletion workflow. The 202 response is identical for
// unknown, already-deleted, and already-pending accounts.
func (h *DeletionHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.service.RequestDeletion(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": deletionGenericMessage,
	})
}

// Confirm consumes the emailed token and schedules the deletion
func (h *DeletionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmDeletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	status, err := h.service.ConfirmDeletion(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, models.ErrInvalidOrExpiredToken) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired confirmation token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// Cancel aborts a pending deletion, with the same generic 202 as Request
func (h *DeletionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.service.CancelDeletion(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If a deletion was pending for this account, it has been cancelled.",
	})
}

// Status returns the deletion projection; unknown emails get defaults
func (h *DeletionHandler) Status(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		pkghttp.WriteBadRequest(w, "email query parameter is required")
		return
	}

	status, err := h.service.GetDeletionStatus(r.Context(), email)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}
