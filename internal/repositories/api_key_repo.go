package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/calebmorton/helix/internal/database"
	"github.com/calebmorton/helix/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const apiKeyColumns = `id, user_id, key_hash, key_prefix, label, scopes, revoked_at, created_at, updated_at`

// APIKeyRepository defines the interface for API key data access operations
type APIKeyRepository interface {
	Create(ctx context.Context, apiKey *models.APIKey) error

	// GetByHash retrieves an active API key by its hash
	GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error)

	GetByID(ctx context.Context, id string) (*models.APIKey, error)

	ListByUserID(ctx context.Context, userID string) ([]*models.APIKey, error)

	// RotateHash atomically swaps the stored hash for an active key owned
	// by the user. The old key stops matching the instant this commits.
	RotateHash(ctx context.Context, id, userID, newHash, newPrefix string) error

	// Deactivate soft-deletes an API key by setting revoked_at
	Deactivate(ctx context.Context, id, userID string) error
}

// APIKeyRepositoryImpl implements APIKeyRepository
type APIKeyRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *database.DB) APIKeyRepository {
	return &APIKeyRepositoryImpl{pool: db.Pool}
}

func scanAPIKeyRow(scanner rowScanner) (*models.APIKey, error) {
	var apiKey models.APIKey

	err := scanner.Scan(
		&apiKey.ID,
		&apiKey.UserID,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&apiKey.Label,
		pq.Array(&apiKey.Scopes),
		&apiKey.RevokedAt,
		&apiKey.CreatedAt,
		&apiKey.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &apiKey, nil
}

func scanAPIKeyRows(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	apiKeys := make([]*models.APIKey, 0)

	for rows.Next() {
		apiKey, err := scanAPIKeyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		apiKeys = append(apiKeys, apiKey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return apiKeys, nil
}

func (r *APIKeyRepositoryImpl) Create(ctx context.Context, apiKey *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, label, scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		apiKey.ID,
		apiKey.UserID,
		apiKey.KeyHash,
		apiKey.KeyPrefix,
		apiKey.Label,
		pq.Array(apiKey.Scopes),
		apiKey.CreatedAt,
		apiKey.UpdatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *APIKeyRepositoryImpl) GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE key_hash = $1 AND revoked_at IS NULL
		LIMIT 1
	`
	return scanAPIKeyRow(r.pool.QueryRow(ctx, query, keyHash))
}

func (r *APIKeyRepositoryImpl) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`
	return scanAPIKeyRow(r.pool.QueryRow(ctx, query, id))
}

func (r *APIKeyRepositoryImpl) ListByUserID(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	return scanAPIKeyRows(rows)
}

func (r *APIKeyRepositoryImpl) RotateHash(ctx context.Context, id, userID, newHash, newPrefix string) error {
	// Single conditional UPDATE: either the whole rotation lands or the
	// caller gets ErrNotFound. No window where both keys work.
	query := `
		UPDATE api_keys SET key_hash = $1, key_prefix = $2, updated_at = $3
		WHERE id = $4 AND user_id = $5 AND revoked_at IS NULL
	`
	result, err := r.pool.Exec(ctx, query, newHash, newPrefix, time.Now(), id, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *APIKeyRepositoryImpl) Deactivate(ctx context.Context, id, userID string) error {
	query := `
		UPDATE api_keys SET revoked_at = $1, updated_at = $1
		WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL
	`
	result, err := r.pool.Exec(ctx, query, time.Now(), id, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
