package auth

import (
	"fmt"
	"time"

	"github.com/calebmorton/helix/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager mints and verifies short-lived signed access tokens.
// Verification is stateless, so there is no revocation path for access
// tokens; callers bound exposure with a short expiry.
type TokenManager struct {
	secret            string
	accessTokenExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:            secret,
		accessTokenExpiry: accessExpiry,
	}
}

// AccessTokenExpiry returns the configured access token lifetime.
func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

// IssueAccessToken creates a signed access token bound to the user.
func (tm *TokenManager) IssueAccessToken(userID, email string) (string, error) {
	now := time.Now()
	claims := &models.AccessTokenClaims{
		UserID: userID,
		Email:  email,
		Type:   models.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// ValidateAccessToken verifies signature and expiry and returns the claims.
// Any failure maps to ErrUnauthorized; the caller must re-authenticate.
func (tm *TokenManager) ValidateAccessToken(tokenString string) (*models.AccessTokenClaims, error) {
	claims := &models.AccessTokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	if !token.Valid || claims.UserID == "" {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}
