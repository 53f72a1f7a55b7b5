package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// APIKeyPrefix marks bearer credentials as API keys rather than JWTs
const APIKeyPrefix = "hlx_"

// APIKeyManager handles API key generation, hashing, and format validation
type APIKeyManager struct {
	prefix string
}

// NewAPIKeyManager creates a new APIKeyManager
func NewAPIKeyManager() *APIKeyManager {
	return &APIKeyManager{
		prefix: APIKeyPrefix,
	}
}

// GenerateAPIKey generates a new key in the format hlx_<64 hex chars>.
// Returns the plaintext key (shown once) and its SHA-256 hash for storage.
func (m *APIKeyManager) GenerateAPIKey() (plainKey, hash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plainKey = m.prefix + hex.EncodeToString(randomBytes)
	hash = HashSecret(plainKey)

	return plainKey, hash, nil
}

// ValidateAndHashAPIKey validates the key format and returns its hash
func (m *APIKeyManager) ValidateAndHashAPIKey(plainKey string) (string, error) {
	if !strings.HasPrefix(plainKey, m.prefix) {
		return "", errors.New("invalid API key format: missing prefix")
	}
	if len(plainKey) != len(m.prefix)+64 {
		return "", fmt.Errorf("invalid API key format: expected %d chars, got %d", len(m.prefix)+64, len(plainKey))
	}
	return HashSecret(plainKey), nil
}

// KeyPrefix returns the first 12 characters of the key for display
func (m *APIKeyManager) KeyPrefix(plainKey string) (string, error) {
	if len(plainKey) < 12 {
		return "", errors.New("API key too short")
	}
	return plainKey[:12], nil
}
