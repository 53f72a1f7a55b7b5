package repositories

import (
	"context"

	"github.com/calebmorton/helix/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeletionReminderRepository records which reminder thresholds have been
// dispatched, so each (user, offset) pair sends exactly once.
type DeletionReminderRepository struct {
	pool *pgxpool.Pool
}

func NewDeletionReminderRepository(db *database.DB) *DeletionReminderRepository {
	return &DeletionReminderRepository{pool: db.Pool}
}

// TryMarkSent claims the (user, offset) reminder slot. Returns true when
// this call won the slot and the reminder should be dispatched, false when
// another sweep run already sent it. UNIQUE(user_id, offset_days) makes
// the claim race-free across overlapping sweeps.
func (r *DeletionReminderRepository) TryMarkSent(ctx context.Context, userID string, offsetDays int) (bool, error) {
	query := `
		INSERT INTO deletion_reminders (user_id, offset_days, sent_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, offset_days) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, userID, offsetDays)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

// Release gives back a claimed (user, offset) slot after a failed send,
// so the next sweep retries the reminder instead of losing it.
func (r *DeletionReminderRepository) Release(ctx context.Context, userID string, offsetDays int) error {
	query := `DELETE FROM deletion_reminders WHERE user_id = $1 AND offset_days = $2`
	_, err := r.pool.Exec(ctx, query, userID, offsetDays)
	return database.MapPostgresError(err)
}

// ClearForUser removes reminder records when a deletion is cancelled, so
// a later re-request gets its reminders again.
func (r *DeletionReminderRepository) ClearForUser(ctx context.Context, userID string) error {
	query := `DELETE FROM deletion_reminders WHERE user_id = $1`
	_, err := r.pool.Exec(ctx, query, userID)
	return database.MapPostgresError(err)
}
