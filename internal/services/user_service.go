package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	pkgauth "github.com/calebmorton/helix/pkg/auth"
	pkglogger "github.com/calebmorton/helix/pkg/logger"
)

// UserService handles registration, verification, password management and
// the optional TOTP second factor
type UserService struct {
	users        UserRepository
	sessions     SessionStore
	emailService EmailService
	totp         *auth.TOTPManager
	tokenExpiry  time.Duration
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
}

// NewUserService creates a new UserService
func NewUserService(
	users UserRepository,
	sessions SessionStore,
	emailService EmailService,
	totp *auth.TOTPManager,
	tokenExpiry time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *UserService {
	return &UserService{
		users:        users,
		sessions:     sessions,
		emailService: emailService,
		totp:         totp,
		tokenExpiry:  tokenExpiry,
		logger:       logger,
		auditLogger:  auditLogger,
	}
}

// Register creates a new password-based account and dispatches the
// verification email. The account cannot log in until verified.
func (s *UserService) Register(ctx context.Context, email, username, password string) (*UserResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	if email == "" || username == "" {
		return nil, models.ErrBadRequest
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrEmailTaken):
			s.logger.Info("registration failed: email taken")
			return nil, models.ErrEmailTaken
		case errors.Is(err, models.ErrUsernameTaken):
			s.logger.Info("registration failed: username taken")
			return nil, models.ErrUsernameTaken
		case errors.Is(err, models.ErrConflict):
			return nil, models.ErrConflict
		default:
			s.logger.Error("failed to create user", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	if err := s.issueVerificationToken(ctx, created); err != nil {
		// Account exists; the user can request a resend
		s.logger.Error("failed to dispatch verification email",
			slog.String("user_id", created.ID), slog.Any("error", err))
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID))
	s.auditLogger.LogAccountAction("user_registered", created.ID, "", nil)

	return userModelToResponse(created), nil
}

// VerifyEmail consumes a verification token and marks the account verified
func (s *UserService) VerifyEmail(ctx context.Context, plainToken string) error {
	if plainToken == "" {
		s.logger.Warn("empty verification token provided")
		return models.ErrInvalidOrExpiredToken
	}

	tokenHash := auth.HashSecret(plainToken)
	user, err := s.users.GetByVerificationTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("verification token not found")
			return models.ErrInvalidOrExpiredToken
		}
		s.logger.Error("failed to resolve verification token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.VerificationTokenExpiry == nil || time.Now().After(*user.VerificationTokenExpiry) {
		s.logger.Info("verification token expired", slog.String("user_id", user.ID))
		return models.ErrInvalidOrExpiredToken
	}

	if err := s.users.MarkVerified(ctx, user.ID, tokenHash); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Token consumed concurrently
			return models.ErrInvalidOrExpiredToken
		}
		s.logger.Error("failed to mark user verified", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("email verified", slog.String("user_id", user.ID))
	s.auditLogger.LogAccountAction("email_verified", user.ID, "", nil)
	return nil
}

// ResendVerification issues a fresh verification token. Always reports
// success so callers cannot probe which addresses are registered.
func (s *UserService) ResendVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for resend", slog.Any("error", err))
		}
		return nil
	}

	if user.IsVerified || user.IsDeleted || user.IsOAuthAccount() {
		return nil
	}

	if err := s.issueVerificationToken(ctx, user); err != nil {
		s.logger.Error("failed to resend verification email",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return nil
}

// ChangePassword replaces the password for a logged-in user and revokes
// every other active session
func (s *UserService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, currentRefreshTokenRaw string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for password change", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.IsOAuthAccount() || user.PasswordHash == "" {
		return models.ErrPasswordAuthDisabled
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		s.auditLogger.LogPasswordChange(userID, "", false)
		return models.ErrInvalidCredentials
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	newHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash new password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.UpdatePasswordCredential(ctx, userID, newHash); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.revokeOtherSessions(ctx, userID, currentRefreshTokenRaw)

	s.logger.Info("password changed", slog.String("user_id", userID))
	s.auditLogger.LogPasswordChange(userID, "", true)
	return nil
}

// RequestPasswordReset issues a reset token by email. Always reports
// success regardless of whether the address is registered.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for password reset", slog.Any("error", err))
		}
		return nil
	}

	// OAuth accounts never hold a password credential
	if user.IsOAuthAccount() || user.IsDeleted {
		return nil
	}

	plainToken, err := auth.GenerateOpaqueSecret()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return nil
	}

	expiresAt := time.Now().Add(s.tokenExpiry)
	if err := s.users.SetResetToken(ctx, user.ID, auth.HashSecret(plainToken), expiresAt); err != nil {
		s.logger.Error("failed to persist reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	if err := s.emailService.SendPasswordResetEmail(ctx, user.Email, plainToken, expiresAt); err != nil {
		s.logger.Error("failed to send reset email", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.auditLogger.LogAccountAction("password_reset_requested", user.ID, "", nil)
	return nil
}

// ResetPassword consumes a reset token and sets a new password, then
// revokes every active session
func (s *UserService) ResetPassword(ctx context.Context, plainToken, newPassword string) error {
	if plainToken == "" {
		return models.ErrInvalidOrExpiredToken
	}

	user, err := s.users.GetByResetTokenHash(ctx, auth.HashSecret(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidOrExpiredToken
		}
		s.logger.Error("failed to resolve reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.ResetTokenExpiry == nil || time.Now().After(*user.ResetTokenExpiry) {
		return models.ErrInvalidOrExpiredToken
	}
	if user.IsOAuthAccount() || user.IsDeleted {
		return models.ErrInvalidOrExpiredToken
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	newHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash reset password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	// Clears the reset token in the same update
	if err := s.users.UpdatePasswordCredential(ctx, user.ID, newHash); err != nil {
		s.logger.Error("failed to update password from reset", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		s.logger.Error("failed to revoke sessions after reset", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.logger.Info("password reset completed", slog.String("user_id", user.ID))
	s.auditLogger.LogAccountAction("password_reset_completed", user.ID, "", nil)
	return nil
}

// TOTPEnrollment carries the provisioning data shown to the user once
type TOTPEnrollment struct {
	QRCodeDataURL string `json:"qr_code"`
}

// EnrollTOTP generates a new TOTP secret for the user and returns the
// provisioning QR code. The factor stays disabled until ActivateTOTP
// confirms the user holds the secret.
func (s *UserService) EnrollTOTP(ctx context.Context, userID string) (*TOTPEnrollment, error) {
	if s.totp == nil {
		return nil, models.ErrBadRequest
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for totp enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if user.TOTPEnabled {
		return nil, models.ErrConflict
	}

	encrypted, nonce, qrDataURL, err := s.totp.GenerateEnrollment(user.Email)
	if err != nil {
		s.logger.Error("failed to generate totp enrollment", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.users.UpdateTOTP(ctx, userID, encrypted, nonce, false); err != nil {
		s.logger.Error("failed to store totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &TOTPEnrollment{QRCodeDataURL: qrDataURL}, nil
}

// ActivateTOTP enables the second factor after the user proves they can
// produce a valid code from the enrolled secret
func (s *UserService) ActivateTOTP(ctx context.Context, userID, code string) error {
	if s.totp == nil {
		return models.ErrBadRequest
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for totp activation", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if len(user.TOTPSecretEnc) == 0 {
		return models.ErrBadRequest
	}
	if user.TOTPEnabled {
		return models.ErrConflict
	}

	ok, err := s.totp.ValidateCode(user.TOTPSecretEnc, user.TOTPSecretNonce, code)
	if err != nil {
		s.logger.Error("failed to validate totp activation code", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		return models.ErrInvalidTOTPCode
	}

	if err := s.users.UpdateTOTP(ctx, userID, user.TOTPSecretEnc, user.TOTPSecretNonce, true); err != nil {
		s.logger.Error("failed to enable totp", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("totp_enabled", userID, "", nil)
	return nil
}

// DisableTOTP removes the second factor after re-checking the password
func (s *UserService) DisableTOTP(ctx context.Context, userID, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for totp disable", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !user.TOTPEnabled {
		return models.ErrBadRequest
	}

	if user.PasswordHash != "" {
		if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
			return models.ErrInvalidCredentials
		}
	}

	if err := s.users.UpdateTOTP(ctx, userID, nil, nil, false); err != nil {
		s.logger.Error("failed to disable totp", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("totp_disabled", userID, "", nil)
	return nil
}

// GetUser returns the profile projection for the authenticated user
func (s *UserService) GetUser(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if user.IsDeleted {
		return nil, models.ErrNotFound
	}
	return userModelToResponse(user), nil
}

func (s *UserService) issueVerificationToken(ctx context.Context, user *models.User) error {
	plainToken, err := auth.GenerateOpaqueSecret()
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(s.tokenExpiry)
	if err := s.users.SetVerificationToken(ctx, user.ID, auth.HashSecret(plainToken), expiresAt); err != nil {
		return err
	}

	return s.emailService.SendVerificationEmail(ctx, user.Email, plainToken, expiresAt)
}

// revokeOtherSessions revokes every session except the caller's current one
func (s *UserService) revokeOtherSessions(ctx context.Context, userID, currentRefreshTokenRaw string) {
	sessions, err := s.sessions.ListActiveForUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list sessions for revocation", slog.String("user_id", userID), slog.Any("error", err))
		return
	}

	currentHash := ""
	if currentRefreshTokenRaw != "" {
		currentHash = auth.HashSecret(currentRefreshTokenRaw)
	}

	for _, sess := range sessions {
		if currentHash != "" && sess.TokenHash == currentHash {
			continue
		}
		if err := s.sessions.Revoke(ctx, sess.ID, userID); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to revoke session after password change",
				slog.String("session_id", sess.ID), slog.Any("error", err))
		}
	}
}
