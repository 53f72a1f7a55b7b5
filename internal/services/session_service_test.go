package services

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	"github.com/calebmorton/helix/internal/oauth"
	pkgauth "github.com/calebmorton/helix/pkg/auth"
	pkglogger "github.com/calebmorton/helix/pkg/logger"
)

const testJWTSecret = "test-secret-key-that-is-long-enough-for-hmac"

func newSessionService(t *testing.T, users *MockUserRepository, sessions *MockSessionStore, verifier oauth.Verifier, rotate bool) *SessionService {
	t.Helper()
	logger := slog.Default()
	totp, err := auth.NewTOTPManager(bytes.Repeat([]byte{0x42}, 32), "helix-test")
	require.NoError(t, err)

	return NewSessionService(
		users,
		sessions,
		verifier,
		auth.NewTokenManager(testJWTSecret, 15*time.Minute),
		totp,
		30*24*time.Hour,
		rotate,
		logger,
		pkglogger.NewAuditLogger(logger),
	)
}

func newPasswordUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := pkgauth.HashPassword(password)
	require.NoError(t, err)
	user := NewTestUser("user123", "user@example.com", "someuser")
	user.PasswordHash = hash
	return user
}

func TestSessionService_LoginWithPassword_Success(t *testing.T) {
	user := newPasswordUser(t, "SecurePassword123!")

	var storedSession *models.Session
	sessions := &MockSessionStore{
		CreateFunc: func(ctx context.Context, session *models.Session) (*models.Session, error) {
			session.ID = "session123"
			storedSession = session
			return session, nil
		},
	}
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			assert.Equal(t, "user@example.com", email)
			return user, nil
		},
	}

	svc := newSessionService(t, users, sessions, &MockVerifier{}, false)
	resp, err := svc.LoginWithPassword(context.Background(), "  User@Example.COM ", "SecurePassword123!", "", DeviceContext{DeviceInfo: "Chrome on Linux", IPAddress: "203.0.113.5"})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "session123", resp.SessionID)
	assert.Equal(t, "user123", resp.User.ID)

	// The store never sees the raw token, only its hash
	require.NotNil(t, storedSession)
	assert.NotEqual(t, resp.RefreshToken, storedSession.TokenHash)
	assert.Equal(t, auth.HashSecret(resp.RefreshToken), storedSession.TokenHash)
	assert.Equal(t, "Chrome on Linux", storedSession.DeviceInfo)

	// Access token is a valid JWT for this user
	claims, err := auth.NewTokenManager(testJWTSecret, 15*time.Minute).ValidateAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user123", claims.UserID)
}

func TestSessionService_LoginWithPassword_WrongPassword(t *testing.T) {
	user := newPasswordUser(t, "SecurePassword123!")
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}

	svc := newSessionService(t, users, &MockSessionStore{}, &MockVerifier{}, false)
	_, err := svc.LoginWithPassword(context.Background(), "user@example.com", "WrongPassword123!", "", DeviceContext{})

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestSessionService_LoginWithPassword_UnknownEmail(t *testing.T) {
	svc := newSessionService(t, &MockUserRepository{}, &MockSessionStore{}, &MockVerifier{}, false)
	_, err := svc.LoginWithPassword(context.Background(), "nobody@example.com", "SecurePassword123!", "", DeviceContext{})

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestSessionService_LoginWithPassword_NotVerified(t *testing.T) {
	user := newPasswordUser(t, "SecurePassword123!")
	user.IsVerified = false
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}

	svc := newSessionService(t, users, &MockSessionStore{}, &MockVerifier{}, false)
	_, err := svc.LoginWithPassword(context.Background(), "user@example.com", "SecurePassword123!", "", DeviceContext{})

	assert.ErrorIs(t, err, models.ErrEmailNotVerified)
}

func TestSessionService_LoginWithPassword_OAuthAccountRejected(t *testing.T) {
	user := NewTestOAuthUser("user123", "user@example.com", models.ProviderGoogle, "subject-1")
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}

	svc := newSessionService(t, users, &MockSessionStore{}, &MockVerifier{}, false)
	_, err := svc.LoginWithPassword(context.Background(), "user@example.com", "SecurePassword123!", "", DeviceContext{})

	assert.ErrorIs(t, err, models.ErrPasswordAuthDisabled)
}

func TestSessionService_LoginWithPassword_TOTPRequired(t *testing.T) {
	user := newPasswordUser(t, "SecurePassword123!")
	user.TOTPEnabled = true

	totp, err := auth.NewTOTPManager(bytes.Repeat([]byte{0x42}, 32), "helix-test")
	require.NoError(t, err)
	enc, nonce, _, err := totp.GenerateEnrollment(user.Email)
	require.NoError(t, err)
	user.TOTPSecretEnc = enc
	user.TOTPSecretNonce = nonce

	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}

	svc := newSessionService(t, users, &MockSessionStore{}, &MockVerifier{}, false)

	// No code supplied
	_, err = svc.LoginWithPassword(context.Background(), "user@example.com", "SecurePassword123!", "", DeviceContext{})
	assert.ErrorIs(t, err, models.ErrInvalidTOTPCode)

	// Malformed code
	_, err = svc.LoginWithPassword(context.Background(), "user@example.com", "SecurePassword123!", "0000000", DeviceContext{})
	assert.ErrorIs(t, err, models.ErrInvalidTOTPCode)
}

func TestSessionService_LoginWithOAuth_ProvisionsNewUser(t *testing.T) {
	verifier := &MockVerifier{
		VerifyFunc: func(ctx context.Context, provider, idToken string) (*oauth.UserInfo, error) {
			return &oauth.UserInfo{Subject: "1234567890abc", Email: "new@example.com"}, nil
		},
	}

	var createdUser *models.User
	users := &MockUserRepository{
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			user.ID = "user456"
			createdUser = user
			return user, nil
		},
	}

	svc := newSessionService(t, users, &MockSessionStore{}, verifier, false)
	resp, err := svc.LoginWithOAuth(context.Background(), models.ProviderGoogle, "id-token", DeviceContext{})

	require.NoError(t, err)
	require.NotNil(t, createdUser)
	assert.Equal(t, "google_12345678", createdUser.Username)
	assert.Equal(t, "new@example.com", createdUser.Email)
	assert.Equal(t, "1234567890abc", createdUser.OAuthSubjectID)
	assert.True(t, createdUser.IsVerified)
	assert.Empty(t, createdUser.PasswordHash)
	assert.NotEmpty(t, resp.RefreshToken)
}

func TestSessionService_LoginWithOAuth_UsernameCollisionSuffix(t *testing.T) {
	verifier := &MockVerifier{
		VerifyFunc: func(ctx context.Context, provider, idToken string) (*oauth.UserInfo, error) {
			return &oauth.UserInfo{Subject: "1234567890abc", Email: "new@example.com"}, nil
		},
	}

	attempts := []string{}
	users := &MockUserRepository{
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			attempts = append(attempts, user.Username)
			if len(attempts) < 3 {
				return nil, models.ErrUsernameTaken
			}
			user.ID = "user456"
			return user, nil
		},
	}

	svc := newSessionService(t, users, &MockSessionStore{}, verifier, false)
	_, err := svc.LoginWithOAuth(context.Background(), models.ProviderGoogle, "id-token", DeviceContext{})

	require.NoError(t, err)
	assert.Equal(t, []string{"google_12345678", "google_12345678_1", "google_12345678_2"}, attempts)
}

func TestSessionService_LoginWithOAuth_ExistingUser(t *testing.T) {
	existing := NewTestOAuthUser("user123", "linked@example.com", models.ProviderApple, "apple-subject")
	verifier := &MockVerifier{
		VerifyFunc: func(ctx context.Context, provider, idToken string) (*oauth.UserInfo, error) {
			return &oauth.UserInfo{Subject: "apple-subject", Email: "linked@example.com"}, nil
		},
	}
	users := &MockUserRepository{
		GetByOAuthIdentityFunc: func(ctx context.Context, provider, subjectID string) (*models.User, error) {
			assert.Equal(t, models.ProviderApple, provider)
			assert.Equal(t, "apple-subject", subjectID)
			return existing, nil
		},
	}

	svc := newSessionService(t, users, &MockSessionStore{}, verifier, false)
	resp, err := svc.LoginWithOAuth(context.Background(), models.ProviderApple, "id-token", DeviceContext{})

	require.NoError(t, err)
	assert.Equal(t, "user123", resp.User.ID)
}

func TestSessionService_LoginWithOAuth_ConcurrentProvisionUsesWinner(t *testing.T) {
	winner := NewTestOAuthUser("user789", "raced@example.com", models.ProviderGoogle, "raced-subject")
	verifier := &MockVerifier{
		VerifyFunc: func(ctx context.Context, provider, idToken string) (*oauth.UserInfo, error) {
			return &oauth.UserInfo{Subject: "raced-subject", Email: "raced@example.com"}, nil
		},
	}

	lookups := 0
	users := &MockUserRepository{
		GetByOAuthIdentityFunc: func(ctx context.Context, provider, subjectID string) (*models.User, error) {
			lookups++
			if lookups == 1 {
				// First lookup misses; the other request inserts between
				// our lookup and our insert
				return nil, models.ErrNotFound
			}
			return winner, nil
		},
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			return nil, models.ErrConflict
		},
	}

	svc := newSessionService(t, users, &MockSessionStore{}, verifier, false)
	resp, err := svc.LoginWithOAuth(context.Background(), models.ProviderGoogle, "id-token", DeviceContext{})

	require.NoError(t, err)
	assert.Equal(t, "user789", resp.User.ID)
	assert.Equal(t, 2, lookups)
}

func TestSessionService_LoginWithOAuth_InvalidToken(t *testing.T) {
	verifier := &MockVerifier{
		VerifyFunc: func(ctx context.Context, provider, idToken string) (*oauth.UserInfo, error) {
			return nil, models.ErrInvalidOAuthToken
		},
	}

	svc := newSessionService(t, &MockUserRepository{}, &MockSessionStore{}, verifier, false)
	_, err := svc.LoginWithOAuth(context.Background(), models.ProviderGoogle, "bad-token", DeviceContext{})

	assert.ErrorIs(t, err, models.ErrInvalidOAuthToken)
}

func TestSessionService_LoginWithOAuth_ProviderUnavailable(t *testing.T) {
	verifier := &MockVerifier{
		VerifyFunc: func(ctx context.Context, provider, idToken string) (*oauth.UserInfo, error) {
			return nil, models.ErrProviderUnavailable
		},
	}

	svc := newSessionService(t, &MockUserRepository{}, &MockSessionStore{}, verifier, false)
	_, err := svc.LoginWithOAuth(context.Background(), models.ProviderGoogle, "token", DeviceContext{})

	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestSessionService_Refresh_Success(t *testing.T) {
	rawToken := "raw-refresh-token"
	session := &models.Session{
		ID:        "session123",
		UserID:    "user123",
		TokenHash: auth.HashSecret(rawToken),
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	sessions := &MockSessionStore{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			assert.Equal(t, auth.HashSecret(rawToken), tokenHash)
			return session, nil
		},
	}
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUser("user123", "user@example.com", "someuser"), nil
		},
	}

	svc := newSessionService(t, users, sessions, &MockVerifier{}, false)
	resp, err := svc.Refresh(context.Background(), rawToken, DeviceContext{})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	// No rotation by default: the caller keeps the same refresh token
	assert.Empty(t, resp.RefreshToken)
	assert.Equal(t, "session123", resp.SessionID)
}

func TestSessionService_Refresh_RevokedSession(t *testing.T) {
	revokedAt := time.Now().Add(-time.Minute)
	sessions := &MockSessionStore{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return &models.Session{
				ID:        "session123",
				UserID:    "user123",
				ExpiresAt: time.Now().Add(24 * time.Hour),
				RevokedAt: &revokedAt,
			}, nil
		},
	}

	svc := newSessionService(t, &MockUserRepository{}, sessions, &MockVerifier{}, false)
	_, err := svc.Refresh(context.Background(), "raw-token", DeviceContext{})

	assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
}

func TestSessionService_Refresh_ExpiredSession(t *testing.T) {
	sessions := &MockSessionStore{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return &models.Session{
				ID:        "session123",
				UserID:    "user123",
				ExpiresAt: time.Now().Add(-time.Minute),
			}, nil
		},
	}

	svc := newSessionService(t, &MockUserRepository{}, sessions, &MockVerifier{}, false)
	_, err := svc.Refresh(context.Background(), "raw-token", DeviceContext{})

	assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
}

func TestSessionService_Refresh_UnknownToken(t *testing.T) {
	svc := newSessionService(t, &MockUserRepository{}, &MockSessionStore{}, &MockVerifier{}, false)
	_, err := svc.Refresh(context.Background(), "never-issued", DeviceContext{})

	assert.ErrorIs(t, err, models.ErrInvalidRefreshToken)
}

func TestSessionService_Refresh_WithRotation(t *testing.T) {
	rawToken := "raw-refresh-token"
	oldHash := auth.HashSecret(rawToken)
	session := &models.Session{
		ID:        "session123",
		UserID:    "user123",
		TokenHash: oldHash,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}

	revokedHashes := []string{}
	sessions := &MockSessionStore{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return session, nil
		},
		CreateFunc: func(ctx context.Context, s *models.Session) (*models.Session, error) {
			s.ID = "session456"
			return s, nil
		},
		RevokeByTokenHashFunc: func(ctx context.Context, tokenHash string) error {
			revokedHashes = append(revokedHashes, tokenHash)
			return nil
		},
	}
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return NewTestUser("user123", "user@example.com", "someuser"), nil
		},
	}

	svc := newSessionService(t, users, sessions, &MockVerifier{}, true)
	resp, err := svc.Refresh(context.Background(), rawToken, DeviceContext{})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEqual(t, rawToken, resp.RefreshToken)
	assert.Equal(t, "session456", resp.SessionID)
	assert.Equal(t, []string{oldHash}, revokedHashes)
}

func TestSessionService_Logout_Idempotent(t *testing.T) {
	calls := 0
	sessions := &MockSessionStore{
		RevokeByTokenHashFunc: func(ctx context.Context, tokenHash string) error {
			calls++
			return nil
		},
	}

	svc := newSessionService(t, &MockUserRepository{}, sessions, &MockVerifier{}, false)

	assert.NoError(t, svc.Logout(context.Background(), "some-token"))
	assert.NoError(t, svc.Logout(context.Background(), "some-token"))
	assert.Equal(t, 2, calls)

	// Empty token is a no-op, not an error
	assert.NoError(t, svc.Logout(context.Background(), ""))
	assert.Equal(t, 2, calls)
}

func TestSessionService_ListSessions_FlagsCurrent(t *testing.T) {
	rawToken := "current-token"
	sessions := &MockSessionStore{
		ListActiveForUserFunc: func(ctx context.Context, userID string) ([]*models.Session, error) {
			return []*models.Session{
				{ID: "newer", TokenHash: "other-hash", ExpiresAt: time.Now().Add(time.Hour)},
				{ID: "current", TokenHash: auth.HashSecret(rawToken), ExpiresAt: time.Now().Add(time.Hour)},
			}, nil
		},
	}

	svc := newSessionService(t, &MockUserRepository{}, sessions, &MockVerifier{}, false)
	summaries, err := svc.ListSessions(context.Background(), "user123", rawToken)

	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.False(t, summaries[0].IsCurrent)
	assert.True(t, summaries[1].IsCurrent)
}

func TestSessionService_RevokeSession_NotFound(t *testing.T) {
	sessions := &MockSessionStore{
		RevokeFunc: func(ctx context.Context, sessionID, userID string) error {
			return models.ErrNotFound
		},
	}

	svc := newSessionService(t, &MockUserRepository{}, sessions, &MockVerifier{}, false)
	err := svc.RevokeSession(context.Background(), "user123", "not-mine")

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionService_RevokeAllSessions_ReturnsCount(t *testing.T) {
	sessions := &MockSessionStore{
		RevokeAllForUserFunc: func(ctx context.Context, userID string) (int64, error) {
			return 3, nil
		},
	}

	svc := newSessionService(t, &MockUserRepository{}, sessions, &MockVerifier{}, false)
	count, err := svc.RevokeAllSessions(context.Background(), "user123")

	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
