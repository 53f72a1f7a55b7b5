package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const opaqueSecretBytes = 32 // 256 bits of entropy

// GenerateOpaqueSecret returns a cryptographically random URL-safe string,
// used as the raw value for refresh tokens and one-time email tokens.
func GenerateOpaqueSecret() (string, error) {
	buf := make([]byte, opaqueSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret returns the SHA-256 hex digest of a raw secret. The digest is
// deterministic so the store can be keyed by it; raw secrets carry 256 bits
// of entropy, which rules out brute-forcing the digest back to the value.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifySecret compares a raw secret against a stored digest in constant time.
func VerifySecret(raw, hash string) bool {
	computed := HashSecret(raw)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
