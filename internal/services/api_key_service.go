package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	"github.com/calebmorton/helix/internal/repositories"
	pkglogger "github.com/calebmorton/helix/pkg/logger"
)

// APIKeyService handles API key business logic
type APIKeyService struct {
	repo        repositories.APIKeyRepository
	keyManager  *auth.APIKeyManager
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAPIKeyService creates a new APIKeyService
func NewAPIKeyService(repo repositories.APIKeyRepository, keyManager *auth.APIKeyManager, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *APIKeyService {
	return &APIKeyService{
		repo:        repo,
		keyManager:  keyManager,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// CreateAPIKey generates a new API key for a user. The plaintext key is
// returned exactly once and never stored.
func (s *APIKeyService) CreateAPIKey(ctx context.Context, userID, label string, scopes []string) (*models.GeneratedAPIKey, error) {
	if userID == "" || label == "" {
		return nil, models.ErrBadRequest
	}
	if err := models.ValidateScopes(scopes); err != nil {
		return nil, err
	}

	plainKey, keyHash, err := s.keyManager.GenerateAPIKey()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate api key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	keyPrefix, _ := s.keyManager.KeyPrefix(plainKey)

	now := time.Now()
	apiKey := &models.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		Label:     label,
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, apiKey); err != nil {
		s.logger.ErrorContext(ctx, "failed to create api key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("api_key_created", userID, "", map[string]string{
		"key_id":     apiKey.ID,
		"key_prefix": keyPrefix,
	})

	return &models.GeneratedAPIKey{
		PlainKey: plainKey,
		APIKey:   apiKey,
	}, nil
}

// ValidateAPIKey checks a plaintext key and returns the matching active
// key record. All failure modes collapse to Unauthorized.
func (s *APIKeyService) ValidateAPIKey(ctx context.Context, plainKey string) (*models.APIKey, error) {
	keyHash, err := s.keyManager.ValidateAndHashAPIKey(plainKey)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	apiKey, err := s.repo.GetByHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.ErrorContext(ctx, "failed to validate api key", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if !apiKey.IsActive() {
		return nil, models.ErrUnauthorized
	}

	return apiKey, nil
}

// RotateAPIKey replaces the key material in one conditional update: the
// old plaintext stops matching the instant the new hash lands
func (s *APIKeyService) RotateAPIKey(ctx context.Context, userID, keyID string) (*models.GeneratedAPIKey, error) {
	if userID == "" || keyID == "" {
		return nil, models.ErrBadRequest
	}

	plainKey, keyHash, err := s.keyManager.GenerateAPIKey()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate rotated api key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	keyPrefix, _ := s.keyManager.KeyPrefix(plainKey)

	if err := s.repo.RotateHash(ctx, keyID, userID, keyHash, keyPrefix); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Missing, foreign, or already revoked: all indistinguishable
			return nil, models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to rotate api key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	apiKey, err := s.repo.GetByID(ctx, keyID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reload rotated api key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("api_key_rotated", userID, "", map[string]string{
		"key_id":     keyID,
		"key_prefix": keyPrefix,
	})

	return &models.GeneratedAPIKey{
		PlainKey: plainKey,
		APIKey:   apiKey,
	}, nil
}

// DeactivateAPIKey revokes an API key owned by the user
func (s *APIKeyService) DeactivateAPIKey(ctx context.Context, userID, keyID string) error {
	if userID == "" || keyID == "" {
		return models.ErrBadRequest
	}

	if err := s.repo.Deactivate(ctx, keyID, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to deactivate api key", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("api_key_deactivated", userID, "", map[string]string{
		"key_id": keyID,
	})
	return nil
}

// ListUserKeys returns all API keys for a user, active and revoked
func (s *APIKeyService) ListUserKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	if userID == "" {
		return nil, models.ErrBadRequest
	}

	apiKeys, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list api keys", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Scopes is never nil in responses
	for _, key := range apiKeys {
		if key.Scopes == nil {
			key.Scopes = []string{}
		}
	}

	return apiKeys, nil
}

// GetAPIKey retrieves a single API key owned by the user
func (s *APIKeyService) GetAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error) {
	if userID == "" || keyID == "" {
		return nil, models.ErrBadRequest
	}

	apiKey, err := s.repo.GetByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to get api key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Ownership mismatch is indistinguishable from absence
	if apiKey.UserID != userID {
		return nil, models.ErrNotFound
	}

	return apiKey, nil
}
