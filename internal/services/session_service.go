package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	"github.com/calebmorton/helix/internal/oauth"
	pkgauth "github.com/calebmorton/helix/pkg/auth"
	pkglogger "github.com/calebmorton/helix/pkg/logger"
)

// UserRepository defines the user store operations consumed by the services
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByOAuthIdentity(ctx context.Context, provider, subjectID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByVerificationTokenHash(ctx context.Context, hash string) (*models.User, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*models.User, error)
	GetByDeletionTokenHash(ctx context.Context, hash string) (*models.User, error)
	SetVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	MarkVerified(ctx context.Context, userID, tokenHash string) error
	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	UpdatePasswordCredential(ctx context.Context, userID, passwordHash string) error
	UpdateTOTP(ctx context.Context, userID string, secretEnc, nonce []byte, enabled bool) error
	MarkDeletionRequested(ctx context.Context, userID, tokenHash string, tokenExpiry time.Time) error
	MarkDeletionConfirmed(ctx context.Context, userID string, scheduledFor time.Time) error
	ClearDeletion(ctx context.Context, userID string) error
	ListDueForDeletion(ctx context.Context, now time.Time) ([]*models.User, error)
	ListPendingReminders(ctx context.Context, now time.Time, within time.Duration) ([]*models.User, error)
	Tombstone(ctx context.Context, userID string, now time.Time) error
}

// SessionStore defines the session store operations consumed by the services
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListActiveForUser(ctx context.Context, userID string) ([]*models.Session, error)
	Revoke(ctx context.Context, sessionID, userID string) error
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// SessionService handles login, refresh, and session revocation
type SessionService struct {
	users           UserRepository
	sessions        SessionStore
	verifier        oauth.Verifier
	tm              *auth.TokenManager
	totp            *auth.TOTPManager
	sessionLifetime time.Duration
	rotateOnRefresh bool
	logger          *slog.Logger
	auditLogger     *pkglogger.AuditLogger
}

// NewSessionService creates a new SessionService
func NewSessionService(
	users UserRepository,
	sessions SessionStore,
	verifier oauth.Verifier,
	tm *auth.TokenManager,
	totp *auth.TOTPManager,
	sessionLifetime time.Duration,
	rotateOnRefresh bool,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *SessionService {
	return &SessionService{
		users:           users,
		sessions:        sessions,
		verifier:        verifier,
		tm:              tm,
		totp:            totp,
		sessionLifetime: sessionLifetime,
		rotateOnRefresh: rotateOnRefresh,
		logger:          logger,
		auditLogger:     auditLogger,
	}
}

// DeviceContext carries best-effort request metadata for session display
type DeviceContext struct {
	DeviceInfo string
	IPAddress  string
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	EmailVerified bool   `json:"email_verified"`
	OAuthProvider string `json:"oauth_provider,omitempty"`
	TOTPEnabled   bool   `json:"totp_enabled"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// AuthResponse represents the response from login and refresh operations.
// RefreshToken carries the raw opaque token exactly once; it is never
// persisted or logged.
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	ExpiresIn    int64         `json:"expires_in"`
	SessionID    string        `json:"session_id"`
	User         *UserResponse `json:"user"`
}

// LoginWithPassword authenticates a user with email and password, plus a
// TOTP code when the account has the second factor enabled
func (s *SessionService) LoginWithPassword(ctx context.Context, email, password, totpCode string, device DeviceContext) (*AuthResponse, error) {
	if email = strings.ToLower(strings.TrimSpace(email)); email == "" {
		s.logger.Warn("login attempt with empty email")
		return nil, models.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Log login failure without exposing email
			s.logger.Info("login failed: invalid credentials")
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     device.IPAddress,
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.IsDeleted {
		s.logger.Info("login failed: account deleted", slog.String("user_id", user.ID))
		return nil, models.ErrInvalidCredentials
	}

	// OAuth-only accounts never authenticate with a password
	if user.IsOAuthAccount() || user.PasswordHash == "" {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     device.IPAddress,
			FailureReason: "password_auth_disabled",
			Success:       false,
		})
		return nil, models.ErrPasswordAuthDisabled
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     device.IPAddress,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		return nil, models.ErrInvalidCredentials
	}

	// Enforce email verification for password accounts
	if !user.IsVerified {
		s.logger.Info("login blocked: email not verified", slog.String("user_id", user.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     device.IPAddress,
			FailureReason: "email_not_verified",
			Success:       false,
		})
		return nil, models.ErrEmailNotVerified
	}

	if user.TOTPEnabled {
		if err := s.checkTOTP(user, totpCode, device); err != nil {
			return nil, err
		}
	}

	return s.createSession(ctx, user, device, "password")
}

// LoginWithOAuth verifies a provider-issued ID token and logs the matching
// account in, provisioning a new account on first login
func (s *SessionService) LoginWithOAuth(ctx context.Context, provider, idToken string, device DeviceContext) (*AuthResponse, error) {
	info, err := s.verifier.Verify(ctx, provider, idToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrProviderUnavailable):
			s.logger.Warn("oauth provider unavailable", slog.String("provider", provider), slog.Any("error", err))
			return nil, models.ErrProviderUnavailable
		case errors.Is(err, models.ErrUnsupportedProvider):
			return nil, models.ErrUnsupportedProvider
		default:
			s.logger.Info("oauth token rejected", slog.String("provider", provider))
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "oauth_login_failed",
				IPAddress:     device.IPAddress,
				FailureReason: "invalid_oauth_token",
				Success:       false,
			})
			return nil, models.ErrInvalidOAuthToken
		}
	}

	user, err := s.users.GetByOAuthIdentity(ctx, provider, info.Subject)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get user by oauth identity", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		user, err = s.provisionOAuthUser(ctx, provider, info)
		if err != nil {
			return nil, err
		}
	}

	if user.IsDeleted {
		s.logger.Info("oauth login failed: account deleted", slog.String("user_id", user.ID))
		return nil, models.ErrInvalidCredentials
	}

	return s.createSession(ctx, user, device, "oauth_"+provider)
}

// Refresh exchanges a valid raw refresh token for a new access token.
// The refresh token itself is not rotated unless rotation is enabled.
func (s *SessionService) Refresh(ctx context.Context, refreshTokenRaw string, device DeviceContext) (*AuthResponse, error) {
	if refreshTokenRaw = strings.TrimSpace(refreshTokenRaw); refreshTokenRaw == "" {
		return nil, models.ErrInvalidRefreshToken
	}

	session, err := s.sessions.GetByTokenHash(ctx, auth.HashSecret(refreshTokenRaw))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("refresh failed: unknown token")
			return nil, models.ErrInvalidRefreshToken
		}
		s.logger.Error("failed to look up session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !session.IsUsable() {
		s.logger.Info("refresh failed: session revoked or expired",
			slog.String("session_id", session.ID))
		return nil, models.ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidRefreshToken
		}
		s.logger.Error("failed to get user for refresh", slog.String("user_id", session.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if user.IsDeleted {
		return nil, models.ErrInvalidRefreshToken
	}

	accessToken, err := s.tm.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to issue access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	resp := &AuthResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.tm.AccessTokenExpiry().Seconds()),
		SessionID:   session.ID,
		User:        userModelToResponse(user),
	}

	// Optional hardening: replace the session with a freshly minted token
	// so a replayed old token stops working
	if s.rotateOnRefresh {
		rotated, rawToken, err := s.rotateSession(ctx, session, device)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = rawToken
		resp.SessionID = rotated.ID
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID), slog.String("session_id", session.ID))
	return resp, nil
}

// Logout revokes the session matching the raw refresh token. Logging out
// twice, or with a token that matches nothing, is not an error.
func (s *SessionService) Logout(ctx context.Context, refreshTokenRaw string) error {
	if refreshTokenRaw = strings.TrimSpace(refreshTokenRaw); refreshTokenRaw == "" {
		return nil
	}

	if err := s.sessions.RevokeByTokenHash(ctx, auth.HashSecret(refreshTokenRaw)); err != nil {
		s.logger.Error("failed to revoke session on logout", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// ListSessions returns all active sessions for the user, newest first,
// flagging the one matching the caller's current refresh token
func (s *SessionService) ListSessions(ctx context.Context, userID, currentRefreshTokenRaw string) ([]*models.SessionSummary, error) {
	sessions, err := s.sessions.ListActiveForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list sessions", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	currentHash := ""
	if currentRefreshTokenRaw != "" {
		currentHash = auth.HashSecret(currentRefreshTokenRaw)
	}

	summaries := make([]*models.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, &models.SessionSummary{
			ID:         sess.ID,
			DeviceInfo: sess.DeviceInfo,
			IPAddress:  sess.IPAddress,
			CreatedAt:  sess.CreatedAt,
			ExpiresAt:  sess.ExpiresAt,
			IsCurrent:  currentHash != "" && sess.TokenHash == currentHash,
		})
	}
	return summaries, nil
}

// RevokeSession revokes one session owned by the requesting user.
// A session that does not exist, belongs to someone else, or is already
// revoked reports NotFound.
func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return models.ErrBadRequest
	}

	if err := s.sessions.Revoke(ctx, sessionID, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to revoke session",
			slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogSessionEvent("session_revoked", userID, sessionID, "")
	return nil
}

// RevokeAllSessions revokes every active session for the user and returns
// how many were revoked
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	count, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke all sessions", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	s.logger.Info("all sessions revoked", slog.String("user_id", userID), slog.Int64("count", count))
	s.auditLogger.LogSessionEvent("all_sessions_revoked", userID, "", "")
	return count, nil
}

func (s *SessionService) checkTOTP(user *models.User, code string, device DeviceContext) error {
	if s.totp == nil {
		s.logger.Error("totp enabled on account but no totp manager configured", slog.String("user_id", user.ID))
		return models.ErrInternalServer
	}
	if code == "" {
		return models.ErrInvalidTOTPCode
	}

	ok, err := s.totp.ValidateCode(user.TOTPSecretEnc, user.TOTPSecretNonce, code)
	if err != nil {
		s.logger.Error("failed to validate totp code", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     device.IPAddress,
			FailureReason: "invalid_totp_code",
			Success:       false,
		})
		return models.ErrInvalidTOTPCode
	}
	return nil
}

// createSession mints a fresh session row plus token pair. The raw refresh
// token exists only in the returned response.
func (s *SessionService) createSession(ctx context.Context, user *models.User, device DeviceContext, method string) (*AuthResponse, error) {
	rawToken, err := auth.GenerateOpaqueSecret()
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	session := &models.Session{
		UserID:     user.ID,
		TokenHash:  auth.HashSecret(rawToken),
		DeviceInfo: device.DeviceInfo,
		IPAddress:  device.IPAddress,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.sessionLifetime),
	}

	created, err := s.sessions.Create(ctx, session)
	if err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	accessToken, err := s.tm.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to issue access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("session_id", created.ID),
		slog.String("method", method))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		SessionID: created.ID,
		IPAddress: device.IPAddress,
		UserAgent: device.DeviceInfo,
		Success:   true,
		Metadata:  map[string]string{"method": method},
	})

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: rawToken,
		ExpiresIn:    int64(s.tm.AccessTokenExpiry().Seconds()),
		SessionID:    created.ID,
		User:         userModelToResponse(user),
	}, nil
}

// rotateSession creates a replacement session and revokes the old one.
// Revocation happens after the replacement is persisted so a failure never
// leaves the user without a valid session.
func (s *SessionService) rotateSession(ctx context.Context, old *models.Session, device DeviceContext) (*models.Session, string, error) {
	rawToken, err := auth.GenerateOpaqueSecret()
	if err != nil {
		s.logger.Error("failed to generate rotated refresh token", slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}

	now := time.Now()
	replacement := &models.Session{
		UserID:     old.UserID,
		TokenHash:  auth.HashSecret(rawToken),
		DeviceInfo: device.DeviceInfo,
		IPAddress:  device.IPAddress,
		CreatedAt:  now,
		ExpiresAt:  old.ExpiresAt,
	}
	if replacement.DeviceInfo == "" {
		replacement.DeviceInfo = old.DeviceInfo
	}
	if replacement.IPAddress == "" {
		replacement.IPAddress = old.IPAddress
	}

	created, err := s.sessions.Create(ctx, replacement)
	if err != nil {
		s.logger.Error("failed to create rotated session", slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}

	if err := s.sessions.RevokeByTokenHash(ctx, old.TokenHash); err != nil {
		s.logger.Error("failed to revoke session after rotation",
			slog.String("session_id", old.ID), slog.Any("error", err))
	}

	return created, rawToken, nil
}

// provisionOAuthUser creates an account on first OAuth login. The username
// is derived from the provider and subject id, suffixed on collision.
func (s *SessionService) provisionOAuthUser(ctx context.Context, provider string, info *oauth.UserInfo) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(info.Email))
	if email == "" {
		s.logger.Info("oauth token carries no email", slog.String("provider", provider))
		return nil, models.ErrInvalidOAuthToken
	}

	base := oauthUsernameBase(provider, info.Subject)
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 0 {
			username = fmt.Sprintf("%s_%d", base, attempt)
		}

		user := &models.User{
			Email:          email,
			Username:       username,
			IsVerified:     true, // provider already verified the address
			OAuthProvider:  provider,
			OAuthSubjectID: info.Subject,
			OAuthEmail:     email,
		}

		created, err := s.users.Create(ctx, user)
		if err == nil {
			s.logger.Info("oauth account provisioned",
				slog.String("user_id", created.ID),
				slog.String("provider", provider))
			s.auditLogger.LogAccountAction("oauth_account_created", created.ID, "", map[string]string{
				"provider": provider,
			})
			return created, nil
		}
		if errors.Is(err, models.ErrUsernameTaken) {
			continue
		}
		if errors.Is(err, models.ErrEmailTaken) {
			s.logger.Info("oauth provisioning blocked: email already registered",
				slog.String("provider", provider))
			return nil, models.ErrEmailTaken
		}
		if errors.Is(err, models.ErrConflict) {
			// Concurrent first login for the same subject: the other
			// request won the identity's unique index, use its row
			existing, lookupErr := s.users.GetByOAuthIdentity(ctx, provider, info.Subject)
			if lookupErr == nil {
				return existing, nil
			}
			s.logger.Error("failed to resolve concurrently provisioned oauth user",
				slog.String("provider", provider), slog.Any("error", lookupErr))
			return nil, models.ErrInternalServer
		}
		s.logger.Error("failed to provision oauth user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Error("exhausted username candidates for oauth provisioning",
		slog.String("provider", provider))
	return nil, models.ErrInternalServer
}

const maxUsernameAttempts = 10

func oauthUsernameBase(provider, subject string) string {
	prefix := subject
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return provider + "_" + prefix
}

// userModelToResponse converts a user model to its response DTO
func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Username:      user.Username,
		EmailVerified: user.IsVerified,
		OAuthProvider: user.OAuthProvider,
		TOTPEnabled:   user.TOTPEnabled,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     user.UpdatedAt.Format(time.RFC3339),
	}
}
