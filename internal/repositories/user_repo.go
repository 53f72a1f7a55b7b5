package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/calebmorton/helix/internal/database"
	"github.com/calebmorton/helix/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `
	id, email, username, password_hash, is_verified,
	oauth_provider, oauth_subject_id, oauth_email,
	verification_token_hash, verification_token_expiry,
	reset_token_hash, reset_token_expiry,
	deletion_token_hash, deletion_token_expiry,
	deletion_requested_at, deletion_confirmed_at, deletion_scheduled_for, is_deleted,
	totp_secret_enc, totp_secret_nonce, totp_enabled,
	created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning user rows (single row or rows iterator)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash, oauthProvider, oauthSubjectID, oauthEmail *string
	var verificationHash, resetHash, deletionHash *string

	err := scanner.Scan(
		&user.ID, &user.Email, &user.Username, &passwordHash, &user.IsVerified,
		&oauthProvider, &oauthSubjectID, &oauthEmail,
		&verificationHash, &user.VerificationTokenExpiry,
		&resetHash, &user.ResetTokenExpiry,
		&deletionHash, &user.DeletionTokenExpiry,
		&user.DeletionRequestedAt, &user.DeletionConfirmedAt, &user.DeletionScheduledFor, &user.IsDeleted,
		&user.TOTPSecretEnc, &user.TOTPSecretNonce, &user.TOTPEnabled,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	if oauthProvider != nil {
		user.OAuthProvider = *oauthProvider
	}
	if oauthSubjectID != nil {
		user.OAuthSubjectID = *oauthSubjectID
	}
	if oauthEmail != nil {
		user.OAuthEmail = *oauthEmail
	}
	if verificationHash != nil {
		user.VerificationTokenHash = *verificationHash
	}
	if resetHash != nil {
		user.ResetTokenHash = *resetHash
	}
	if deletionHash != nil {
		user.DeletionTokenHash = *deletionHash
	}

	return &user, nil
}

func scanUserRows(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := make([]*models.User, 0)

	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, username))
}

// GetByOAuthIdentity looks up the user owning an external identity.
// (provider, subject id) is globally unique when present.
func (r *UserRepository) GetByOAuthIdentity(ctx context.Context, provider, subjectID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE oauth_provider = $1 AND oauth_subject_id = $2`
	return scanUserRow(r.pool.QueryRow(ctx, query, provider, subjectID))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (
			id, email, username, password_hash, is_verified,
			oauth_provider, oauth_subject_id, oauth_email,
			verification_token_hash, verification_token_expiry,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.Username, nullable(user.PasswordHash), user.IsVerified,
		nullable(user.OAuthProvider), nullable(user.OAuthSubjectID), nullable(user.OAuthEmail),
		nullable(user.VerificationTokenHash), user.VerificationTokenExpiry,
		user.CreatedAt, user.UpdatedAt,
	))
}

// GetByTokenHash resolves a one-time token hash against the named column.
// tokenColumn must be one of the fixed callers' values; it is never
// user-supplied.
func (r *UserRepository) getByTokenHash(ctx context.Context, tokenColumn, hash string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + tokenColumn + ` = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, hash))
}

func (r *UserRepository) GetByVerificationTokenHash(ctx context.Context, hash string) (*models.User, error) {
	return r.getByTokenHash(ctx, "verification_token_hash", hash)
}

func (r *UserRepository) GetByResetTokenHash(ctx context.Context, hash string) (*models.User, error) {
	return r.getByTokenHash(ctx, "reset_token_hash", hash)
}

func (r *UserRepository) GetByDeletionTokenHash(ctx context.Context, hash string) (*models.User, error) {
	return r.getByTokenHash(ctx, "deletion_token_hash", hash)
}

// SetVerificationToken stores a fresh verification token hash, replacing
// any previous one.
func (r *UserRepository) SetVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET verification_token_hash = $1, verification_token_expiry = $2, updated_at = $3
		WHERE id = $4 AND is_deleted = false
	`
	result, err := r.pool.Exec(ctx, query, tokenHash, expiresAt, time.Now(), userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkVerified flips the account to verified and clears the token in one
// conditional update; a stale or reused token matches zero rows.
func (r *UserRepository) MarkVerified(ctx context.Context, userID, tokenHash string) error {
	query := `
		UPDATE users
		SET is_verified = true, verification_token_hash = NULL, verification_token_expiry = NULL, updated_at = $1
		WHERE id = $2 AND verification_token_hash = $3 AND is_deleted = false
	`
	result, err := r.pool.Exec(ctx, query, time.Now(), userID, tokenHash)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET reset_token_hash = $1, reset_token_expiry = $2, updated_at = $3
		WHERE id = $4 AND is_deleted = false
	`
	result, err := r.pool.Exec(ctx, query, tokenHash, expiresAt, time.Now(), userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdatePasswordCredential replaces the password hash and clears any
// outstanding reset token.
func (r *UserRepository) UpdatePasswordCredential(ctx context.Context, userID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $1, reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = $2
		WHERE id = $3 AND is_deleted = false
	`
	result, err := r.pool.Exec(ctx, query, passwordHash, time.Now(), userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateTOTP stores an encrypted TOTP secret and its enabled flag.
func (r *UserRepository) UpdateTOTP(ctx context.Context, userID string, secretEnc, nonce []byte, enabled bool) error {
	query := `
		UPDATE users
		SET totp_secret_enc = $1, totp_secret_nonce = $2, totp_enabled = $3, updated_at = $4
		WHERE id = $5 AND is_deleted = false
	`
	result, err := r.pool.Exec(ctx, query, secretEnc, nonce, enabled, time.Now(), userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkDeletionRequested transitions NotRequested -> Requested and stores
// the deletion token. Conditional on no pending request so a duplicate
// request never clobbers an in-flight one.
func (r *UserRepository) MarkDeletionRequested(ctx context.Context, userID, tokenHash string, tokenExpiry time.Time) error {
	query := `
		UPDATE users
		SET deletion_token_hash = $1, deletion_token_expiry = $2, deletion_requested_at = $3, updated_at = $3
		WHERE id = $4 AND deletion_requested_at IS NULL AND is_deleted = false
	`
	result, err := r.pool.Exec(ctx, query, tokenHash, tokenExpiry, time.Now(), userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkDeletionConfirmed transitions Requested -> Confirmed, records the
// permanent-deletion schedule, and consumes the token.
func (r *UserRepository) MarkDeletionConfirmed(ctx context.Context, userID string, scheduledFor time.Time) error {
	query := `
		UPDATE users
		SET deletion_confirmed_at = $1, deletion_scheduled_for = $2,
		    deletion_token_hash = NULL, deletion_token_expiry = NULL, updated_at = $1
		WHERE id = $3 AND deletion_requested_at IS NOT NULL
		  AND deletion_confirmed_at IS NULL AND is_deleted = false
	`
	result, err := r.pool.Exec(ctx, query, time.Now(), scheduledFor, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearDeletion cancels a Requested or Confirmed deletion, returning the
// account to NotRequested.
func (r *UserRepository) ClearDeletion(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET deletion_token_hash = NULL, deletion_token_expiry = NULL,
		    deletion_requested_at = NULL, deletion_confirmed_at = NULL,
		    deletion_scheduled_for = NULL, updated_at = $1
		WHERE id = $2 AND deletion_requested_at IS NOT NULL AND is_deleted = false
	`
	result, err := r.pool.Exec(ctx, query, time.Now(), userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListDueForDeletion returns users in Confirmed state whose schedule has
// passed, ready for the permanent-delete sweep.
func (r *UserRepository) ListDueForDeletion(ctx context.Context, now time.Time) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE deletion_confirmed_at IS NOT NULL
		  AND deletion_scheduled_for <= $1
		  AND is_deleted = false
		ORDER BY deletion_scheduled_for ASC
	`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query users due for deletion: %w", err)
	}
	return scanUserRows(rows)
}

// ListPendingReminders returns confirmed-deletion users whose schedule
// falls within the given window before permanent deletion.
func (r *UserRepository) ListPendingReminders(ctx context.Context, now time.Time, within time.Duration) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE deletion_confirmed_at IS NOT NULL
		  AND deletion_scheduled_for > $1
		  AND deletion_scheduled_for <= $2
		  AND is_deleted = false
		ORDER BY deletion_scheduled_for ASC
	`
	rows, err := r.pool.Query(ctx, query, now, now.Add(within))
	if err != nil {
		return nil, fmt.Errorf("failed to query reminder candidates: %w", err)
	}
	return scanUserRows(rows)
}

// Tombstone permanently deletes the account in place: PII is replaced
// with anonymized values and is_deleted flips true. The row survives so
// audit records keep a valid reference. Conditional on the Confirmed
// state and a due schedule, so a concurrent cancel wins cleanly.
func (r *UserRepository) Tombstone(ctx context.Context, userID string, now time.Time) error {
	query := `
		UPDATE users
		SET email = 'deleted-' || id || '@deleted.invalid',
		    username = 'deleted-' || id,
		    password_hash = NULL,
		    oauth_provider = NULL, oauth_subject_id = NULL, oauth_email = NULL,
		    verification_token_hash = NULL, verification_token_expiry = NULL,
		    reset_token_hash = NULL, reset_token_expiry = NULL,
		    deletion_token_hash = NULL, deletion_token_expiry = NULL,
		    totp_secret_enc = NULL, totp_secret_nonce = NULL, totp_enabled = false,
		    is_deleted = true, updated_at = $1
		WHERE id = $2 AND deletion_confirmed_at IS NOT NULL
		  AND deletion_scheduled_for <= $1 AND is_deleted = false
	`
	result, err := r.pool.Exec(ctx, query, now, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
