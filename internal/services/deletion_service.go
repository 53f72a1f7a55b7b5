package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	pkglogger "github.com/calebmorton/helix/pkg/logger"
)

// DeletionReminderStore records which reminder thresholds have already
// been dispatched, keyed by (user, offset)
type DeletionReminderStore interface {
	TryMarkSent(ctx context.Context, userID string, offsetDays int) (bool, error)
	Release(ctx context.Context, userID string, offsetDays int) error
	ClearForUser(ctx context.Context, userID string) error
}

// DeletionService runs the time-delayed account deletion workflow:
// Requested -> Confirmed -> permanently deleted after the grace period,
// cancellable any time before the sweep picks the account up
type DeletionService struct {
	users           UserRepository
	sessions        SessionStore
	reminders       DeletionReminderStore
	emailService    EmailService
	tokenExpiry     time.Duration
	gracePeriodDays int
	reminderOffsets []int
	logger          *slog.Logger
	auditLogger     *pkglogger.AuditLogger
}

// NewDeletionService creates a new DeletionService
func NewDeletionService(
	users UserRepository,
	sessions SessionStore,
	reminders DeletionReminderStore,
	emailService EmailService,
	tokenExpiry time.Duration,
	gracePeriodDays int,
	reminderOffsets []int,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *DeletionService {
	return &DeletionService{
		users:           users,
		sessions:        sessions,
		reminders:       reminders,
		emailService:    emailService,
		tokenExpiry:     tokenExpiry,
		gracePeriodDays: gracePeriodDays,
		reminderOffsets: reminderOffsets,
		logger:          logger,
		auditLogger:     auditLogger,
	}
}

// RequestDeletion starts the workflow for the given email. It always
// reports success: the response must not reveal whether the account
// exists, is already deleted, or already has a pending request.
func (s *DeletionService) RequestDeletion(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for deletion request", slog.Any("error", err))
		}
		return nil
	}

	if user.IsDeleted || user.DeletionState() != models.DeletionNotRequested {
		return nil
	}

	plainToken, err := auth.GenerateOpaqueSecret()
	if err != nil {
		s.logger.Error("failed to generate deletion token", slog.Any("error", err))
		return nil
	}

	expiresAt := time.Now().Add(s.tokenExpiry)
	if err := s.users.MarkDeletionRequested(ctx, user.ID, auth.HashSecret(plainToken), expiresAt); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			// NotFound means a concurrent request won; either way the caller
			// sees the same generic success
			s.logger.Error("failed to mark deletion requested",
				slog.String("user_id", user.ID), slog.Any("error", err))
		}
		return nil
	}

	// Fire-and-forget: an email failure must not be observable
	if err := s.emailService.SendDeletionConfirmationEmail(ctx, user.Email, plainToken, expiresAt); err != nil {
		s.logger.Error("failed to send deletion confirmation email",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.logger.Info("deletion requested", slog.String("user_id", user.ID))
	s.auditLogger.LogAccountAction("deletion_requested", user.ID, "", nil)
	return nil
}

// ConfirmDeletion consumes the emailed token and schedules the permanent
// deletion after the grace period
func (s *DeletionService) ConfirmDeletion(ctx context.Context, plainToken string) (*models.DeletionStatus, error) {
	if plainToken == "" {
		return nil, models.ErrInvalidOrExpiredToken
	}

	user, err := s.users.GetByDeletionTokenHash(ctx, auth.HashSecret(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidOrExpiredToken
		}
		s.logger.Error("failed to resolve deletion token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.DeletionTokenExpiry == nil || time.Now().After(*user.DeletionTokenExpiry) {
		return nil, models.ErrInvalidOrExpiredToken
	}
	if user.IsDeleted || user.DeletionState() != models.DeletionRequested {
		return nil, models.ErrInvalidOrExpiredToken
	}

	scheduledFor := time.Now().AddDate(0, 0, s.gracePeriodDays)
	if err := s.users.MarkDeletionConfirmed(ctx, user.ID, scheduledFor); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// State moved underneath us; the token is no longer valid
			return nil, models.ErrInvalidOrExpiredToken
		}
		s.logger.Error("failed to confirm deletion", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("deletion confirmed",
		slog.String("user_id", user.ID),
		slog.Time("scheduled_for", scheduledFor))
	s.auditLogger.LogAccountAction("deletion_confirmed", user.ID, "", map[string]string{
		"scheduled_for": scheduledFor.UTC().Format(time.RFC3339),
	})

	return &models.DeletionStatus{
		Requested:       true,
		Confirmed:       true,
		ScheduledFor:    &scheduledFor,
		CanCancel:       true,
		GracePeriodDays: s.gracePeriodDays,
	}, nil
}

// CancelDeletion aborts a pending or confirmed deletion. Same generic
// success contract as RequestDeletion.
func (s *DeletionService) CancelDeletion(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for deletion cancel", slog.Any("error", err))
		}
		return nil
	}

	switch user.DeletionState() {
	case models.DeletionRequested, models.DeletionConfirmed:
	default:
		return nil
	}

	if err := s.users.ClearDeletion(ctx, user.ID); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to clear deletion state",
				slog.String("user_id", user.ID), slog.Any("error", err))
		}
		return nil
	}

	if err := s.reminders.ClearForUser(ctx, user.ID); err != nil {
		s.logger.Error("failed to clear deletion reminders",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.logger.Info("deletion cancelled", slog.String("user_id", user.ID))
	s.auditLogger.LogAccountAction("deletion_cancelled", user.ID, "", nil)
	return nil
}

// GetDeletionStatus returns the workflow projection for an email. Unknown
// addresses produce the same all-defaults response as accounts with no
// pending request.
func (s *DeletionService) GetDeletionStatus(ctx context.Context, email string) (*models.DeletionStatus, error) {
	status := &models.DeletionStatus{GracePeriodDays: s.gracePeriodDays}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return status, nil
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for deletion status", slog.Any("error", err))
		}
		return status, nil
	}

	switch user.DeletionState() {
	case models.DeletionRequested:
		status.Requested = true
		status.CanCancel = true
	case models.DeletionConfirmed:
		status.Requested = true
		status.Confirmed = true
		status.ScheduledFor = user.DeletionScheduledFor
		status.CanCancel = true
	}
	return status, nil
}

// SweepPermanentDeletions tombstones every account past its scheduled
// time and dispatches grace-period reminder emails. A failure on one
// account never aborts processing of the rest.
func (s *DeletionService) SweepPermanentDeletions(ctx context.Context) error {
	now := time.Now()

	due, err := s.users.ListDueForDeletion(ctx, now)
	if err != nil {
		s.logger.Error("failed to list accounts due for deletion", slog.Any("error", err))
		return err
	}

	deleted := 0
	for _, user := range due {
		if err := s.tombstoneUser(ctx, user, now); err != nil {
			s.logger.Error("failed to permanently delete account",
				slog.String("user_id", user.ID), slog.Any("error", err))
			continue
		}
		deleted++
	}

	if len(due) > 0 {
		s.logger.Info("deletion sweep completed",
			slog.Int("due", len(due)),
			slog.Int("deleted", deleted))
	}

	s.dispatchReminders(ctx, now)
	return nil
}

func (s *DeletionService) tombstoneUser(ctx context.Context, user *models.User, now time.Time) error {
	if err := s.users.Tombstone(ctx, user.ID, now); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Cancelled or already swept between listing and here
			return nil
		}
		return err
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		s.logger.Error("failed to revoke sessions for deleted account",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.auditLogger.LogAccountAction("account_permanently_deleted", user.ID, "", nil)
	return nil
}

// dispatchReminders sends at most one reminder per (user, offset). The
// reminder store's unique key makes the claim exactly-once even when
// sweeps overlap.
func (s *DeletionService) dispatchReminders(ctx context.Context, now time.Time) {
	if len(s.reminderOffsets) == 0 {
		return
	}

	maxOffset := 0
	for _, offset := range s.reminderOffsets {
		if offset > maxOffset {
			maxOffset = offset
		}
	}

	pending, err := s.users.ListPendingReminders(ctx, now, time.Duration(maxOffset)*24*time.Hour)
	if err != nil {
		s.logger.Error("failed to list pending deletion reminders", slog.Any("error", err))
		return
	}

	for _, user := range pending {
		if user.DeletionScheduledFor == nil {
			continue
		}
		remaining := user.DeletionScheduledFor.Sub(now)

		for _, offset := range s.reminderOffsets {
			if remaining > time.Duration(offset)*24*time.Hour {
				continue
			}

			claimed, err := s.reminders.TryMarkSent(ctx, user.ID, offset)
			if err != nil {
				s.logger.Error("failed to claim deletion reminder",
					slog.String("user_id", user.ID),
					slog.Int("offset_days", offset),
					slog.Any("error", err))
				continue
			}
			if !claimed {
				continue
			}

			daysRemaining := int(remaining.Hours() / 24)
			if err := s.emailService.SendDeletionReminderEmail(ctx, user.Email, *user.DeletionScheduledFor, daysRemaining); err != nil {
				s.logger.Error("failed to send deletion reminder",
					slog.String("user_id", user.ID),
					slog.Int("offset_days", offset),
					slog.Any("error", err))
				// Give the slot back so the next sweep retries; a
				// transient provider failure must not eat the reminder
				if releaseErr := s.reminders.Release(ctx, user.ID, offset); releaseErr != nil {
					s.logger.Error("failed to release reminder claim",
						slog.String("user_id", user.ID),
						slog.Int("offset_days", offset),
						slog.Any("error", releaseErr))
				}
				continue
			}

			s.logger.Info("deletion reminder sent",
				slog.String("user_id", user.ID),
				slog.Int("offset_days", offset))
		}
	}
}
