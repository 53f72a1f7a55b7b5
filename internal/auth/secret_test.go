package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOpaqueSecret_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		secret, err := GenerateOpaqueSecret()
		require.NoError(t, err)
		assert.False(t, seen[secret], "generated duplicate secret")
		seen[secret] = true
	}
}

func TestHashSecret_RoundTripsOnlyThroughVerify(t *testing.T) {
	secret, err := GenerateOpaqueSecret()
	require.NoError(t, err)

	hash := HashSecret(secret)
	assert.NotEqual(t, secret, hash)
	assert.NotContains(t, hash, secret)
	assert.True(t, VerifySecret(secret, hash))
	assert.False(t, VerifySecret(secret+"x", hash))
	assert.False(t, VerifySecret("", hash))
}

func TestHashSecret_Deterministic(t *testing.T) {
	// The store is keyed by the digest, so hashing must be stable.
	assert.Equal(t, HashSecret("abc"), HashSecret("abc"))
	assert.NotEqual(t, HashSecret("abc"), HashSecret("abd"))
}

func TestAPIKeyManager_GenerateAndValidate(t *testing.T) {
	m := NewAPIKeyManager()

	plainKey, hash, err := m.GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plainKey, "hlx_"))
	assert.Len(t, plainKey, 68)

	computed, err := m.ValidateAndHashAPIKey(plainKey)
	require.NoError(t, err)
	assert.Equal(t, hash, computed)

	prefix, err := m.KeyPrefix(plainKey)
	require.NoError(t, err)
	assert.Len(t, prefix, 12)
}

func TestAPIKeyManager_RejectsMalformedKeys(t *testing.T) {
	m := NewAPIKeyManager()

	_, err := m.ValidateAndHashAPIKey("sk_0000000000000000000000000000000000000000000000000000000000000000")
	assert.Error(t, err)

	_, err = m.ValidateAndHashAPIKey("hlx_tooshort")
	assert.Error(t, err)
}
