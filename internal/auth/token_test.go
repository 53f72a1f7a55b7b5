package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-unit-tests-only"

func TestTokenManager_IssueAndValidate(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute)

	token, err := tm.IssueAccessToken("user123", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user123", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "user123", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_ValidateExpiredToken(t *testing.T) {
	tm := NewTokenManager(testSecret, -1*time.Minute)

	token, err := tm.IssueAccessToken("user123", "user@example.com")
	require.NoError(t, err)

	_, err = tm.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestTokenManager_ValidateWrongSecret(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute)
	other := NewTokenManager("a-completely-different-secret-value", 15*time.Minute)

	token, err := tm.IssueAccessToken("user123", "user@example.com")
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestTokenManager_ValidateGarbage(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute)

	_, err := tm.ValidateAccessToken("not-a-jwt")
	assert.Error(t, err)

	_, err = tm.ValidateAccessToken("")
	assert.Error(t, err)
}
