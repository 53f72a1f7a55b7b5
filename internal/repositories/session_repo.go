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

const sessionColumns = `id, user_id, token_hash, device_info, ip_address, created_at, expires_at, revoked_at`

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var session models.Session
	var deviceInfo, ipAddress *string

	err := scanner.Scan(
		&session.ID, &session.UserID, &session.TokenHash,
		&deviceInfo, &ipAddress,
		&session.CreatedAt, &session.ExpiresAt, &session.RevokedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if deviceInfo != nil {
		session.DeviceInfo = *deviceInfo
	}
	if ipAddress != nil {
		session.IPAddress = *ipAddress
	}

	return &session, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}

// Create inserts a new session. token_hash carries a unique index, which
// enforces at-most-one-session-per-token-hash at the store level.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	session.ID = uuid.New().String()
	session.CreatedAt = time.Now()

	query := `
		INSERT INTO sessions (id, user_id, token_hash, device_info, ip_address, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + sessionColumns

	return scanSessionRow(r.pool.QueryRow(ctx, query,
		session.ID, session.UserID, session.TokenHash,
		nullable(session.DeviceInfo), nullable(session.IPAddress),
		session.CreatedAt, session.ExpiresAt,
	))
}

// GetByTokenHash looks up a session by the hash of its raw refresh token.
// Revoked and expired sessions are still returned; usability is the
// caller's check so it can distinguish failure reasons for logging.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, tokenHash))
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, id))
}

// ListActiveForUser returns all non-revoked, unexpired sessions for the
// user, newest first.
func (r *SessionRepository) ListActiveForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessionRows(rows)
}

// Revoke marks one session revoked, scoped to its owner. The conditional
// WHERE makes revocation idempotent at the store: a second call matches
// zero rows and reports ErrNotFound.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID, userID string) error {
	query := `
		UPDATE sessions SET revoked_at = $1
		WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL
	`
	result, err := r.pool.Exec(ctx, query, time.Now(), sessionID, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RevokeByTokenHash revokes the session holding the given token hash.
// Returns no error when nothing matched: logout is idempotent.
func (r *SessionRepository) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	query := `UPDATE sessions SET revoked_at = $1 WHERE token_hash = $2 AND revoked_at IS NULL`

	_, err := r.pool.Exec(ctx, query, time.Now(), tokenHash)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// RevokeAllForUser revokes every active session the user has and returns
// the count.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`

	result, err := r.pool.Exec(ctx, query, time.Now(), userID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
