package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	pkghttp "github.com/calebmorton/helix/pkg/http"
)

// SessionManagerInterface defines the session management operations
type SessionManagerInterface interface {
	ListSessions(ctx context.Context, userID, currentRefreshTokenRaw string) ([]*models.SessionSummary, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
	RevokeAllSessions(ctx context.Context, userID string) (int64, error)
}

// SessionsHandler handles per-device session management requests
type SessionsHandler struct {
	service SessionManagerInterface
}

// NewSessionsHandler creates a new SessionsHandler
func NewSessionsHandler(service SessionManagerInterface) *SessionsHandler {
	return &SessionsHandler{service: service}
}

// List returns the caller's active sessions, flagging the current one
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	// Best-effort: without the cookie no session is flagged current
	currentToken, _ := auth.GetRefreshTokenCookie(r)

	sessions, err := h.service.ListSessions(r.Context(), claims.UserID, currentToken)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// Revoke revokes one of the caller's sessions
func (h *SessionsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Session id is required")
		return
	}

	if err := h.service.RevokeSession(r.Context(), claims.UserID, sessionID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Session not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid session id")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeAll revokes every session of the caller, including the current one
func (h *SessionsHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	count, err := h.service.RevokeAllSessions(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]int64{
		"revoked": count,
	})
}
