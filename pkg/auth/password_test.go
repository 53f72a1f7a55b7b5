package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret!")
	require.NoError(t, err)
	assert.NotEqual(t, "Sup3rSecret!", hash)

	assert.NoError(t, ComparePassword(hash, "Sup3rSecret!"))
	assert.Error(t, ComparePassword(hash, "sup3rsecret!"))
}

func TestHashPassword_EmptyRejected(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Str0ng&Secure", false},
		{"too short", "Ab1!", true},
		{"no uppercase", "weakpass1!", true},
		{"no lowercase", "WEAKPASS1!", true},
		{"no digit", "WeakPass!!", true},
		{"no special", "WeakPass11", true},
		{"common password", "password", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
