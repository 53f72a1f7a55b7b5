package services

import (
	"context"
	"time"

	"github.com/calebmorton/helix/internal/models"
	"github.com/calebmorton/helix/internal/oauth"
)

// NewTestUser creates a verified password-based user for tests
func NewTestUser(id, email, username string) *models.User {
	now := time.Now()
	return &models.User{
		ID:         id,
		Email:      email,
		Username:   username,
		IsVerified: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewTestOAuthUser creates an OAuth-linked user for tests
func NewTestOAuthUser(id, email, provider, subjectID string) *models.User {
	user := NewTestUser(id, email, provider+"_"+subjectID)
	user.OAuthProvider = provider
	user.OAuthSubjectID = subjectID
	user.OAuthEmail = email
	return user
}

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc                    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc                 func(ctx context.Context, email string) (*models.User, error)
	GetByUsernameFunc              func(ctx context.Context, username string) (*models.User, error)
	GetByOAuthIdentityFunc         func(ctx context.Context, provider, subjectID string) (*models.User, error)
	CreateFunc                     func(ctx context.Context, user *models.User) (*models.User, error)
	GetByVerificationTokenHashFunc func(ctx context.Context, hash string) (*models.User, error)
	GetByResetTokenHashFunc        func(ctx context.Context, hash string) (*models.User, error)
	GetByDeletionTokenHashFunc     func(ctx context.Context, hash string) (*models.User, error)
	SetVerificationTokenFunc       func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	MarkVerifiedFunc               func(ctx context.Context, userID, tokenHash string) error
	SetResetTokenFunc              func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	UpdatePasswordCredentialFunc   func(ctx context.Context, userID, passwordHash string) error
	UpdateTOTPFunc                 func(ctx context.Context, userID string, secretEnc, nonce []byte, enabled bool) error
	MarkDeletionRequestedFunc      func(ctx context.Context, userID, tokenHash string, tokenExpiry time.Time) error
	MarkDeletionConfirmedFunc      func(ctx context.Context, userID string, scheduledFor time.Time) error
	ClearDeletionFunc              func(ctx context.Context, userID string) error
	ListDueForDeletionFunc         func(ctx context.Context, now time.Time) ([]*models.User, error)
	ListPendingRemindersFunc       func(ctx context.Context, now time.Time, within time.Duration) ([]*models.User, error)
	TombstoneFunc                  func(ctx context.Context, userID string, now time.Time) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByOAuthIdentity(ctx context.Context, provider, subjectID string) (*models.User, error) {
	if m.GetByOAuthIdentityFunc != nil {
		return m.GetByOAuthIdentityFunc(ctx, provider, subjectID)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) GetByVerificationTokenHash(ctx context.Context, hash string) (*models.User, error) {
	if m.GetByVerificationTokenHashFunc != nil {
		return m.GetByVerificationTokenHashFunc(ctx, hash)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByResetTokenHash(ctx context.Context, hash string) (*models.User, error) {
	if m.GetByResetTokenHashFunc != nil {
		return m.GetByResetTokenHashFunc(ctx, hash)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByDeletionTokenHash(ctx context.Context, hash string) (*models.User, error) {
	if m.GetByDeletionTokenHashFunc != nil {
		return m.GetByDeletionTokenHashFunc(ctx, hash)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) SetVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	if m.SetVerificationTokenFunc != nil {
		return m.SetVerificationTokenFunc(ctx, userID, tokenHash, expiresAt)
	}
	return nil
}

func (m *MockUserRepository) MarkVerified(ctx context.Context, userID, tokenHash string) error {
	if m.MarkVerifiedFunc != nil {
		return m.MarkVerifiedFunc(ctx, userID, tokenHash)
	}
	return nil
}

func (m *MockUserRepository) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	if m.SetResetTokenFunc != nil {
		return m.SetResetTokenFunc(ctx, userID, tokenHash, expiresAt)
	}
	return nil
}

func (m *MockUserRepository) UpdatePasswordCredential(ctx context.Context, userID, passwordHash string) error {
	if m.UpdatePasswordCredentialFunc != nil {
		return m.UpdatePasswordCredentialFunc(ctx, userID, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) UpdateTOTP(ctx context.Context, userID string, secretEnc, nonce []byte, enabled bool) error {
	if m.UpdateTOTPFunc != nil {
		return m.UpdateTOTPFunc(ctx, userID, secretEnc, nonce, enabled)
	}
	return nil
}

func (m *MockUserRepository) MarkDeletionRequested(ctx context.Context, userID, tokenHash string, tokenExpiry time.Time) error {
	if m.MarkDeletionRequestedFunc != nil {
		return m.MarkDeletionRequestedFunc(ctx, userID, tokenHash, tokenExpiry)
	}
	return nil
}

func (m *MockUserRepository) MarkDeletionConfirmed(ctx context.Context, userID string, scheduledFor time.Time) error {
	if m.MarkDeletionConfirmedFunc != nil {
		return m.MarkDeletionConfirmedFunc(ctx, userID, scheduledFor)
	}
	return nil
}

func (m *MockUserRepository) ClearDeletion(ctx context.Context, userID string) error {
	if m.ClearDeletionFunc != nil {
		return m.ClearDeletionFunc(ctx, userID)
	}
	return nil
}

func (m *MockUserRepository) ListDueForDeletion(ctx context.Context, now time.Time) ([]*models.User, error) {
	if m.ListDueForDeletionFunc != nil {
		return m.ListDueForDeletionFunc(ctx, now)
	}
	return []*models.User{}, nil
}

func (m *MockUserRepository) ListPendingReminders(ctx context.Context, now time.Time, within time.Duration) ([]*models.User, error) {
	if m.ListPendingRemindersFunc != nil {
		return m.ListPendingRemindersFunc(ctx, now, within)
	}
	return []*models.User{}, nil
}

func (m *MockUserRepository) Tombstone(ctx context.Context, userID string, now time.Time) error {
	if m.TombstoneFunc != nil {
		return m.TombstoneFunc(ctx, userID, now)
	}
	return nil
}

// MockSessionStore implements SessionStore for testing
type MockSessionStore struct {
	CreateFunc            func(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByTokenHashFunc    func(ctx context.Context, tokenHash string) (*models.Session, error)
	GetByIDFunc           func(ctx context.Context, id string) (*models.Session, error)
	ListActiveForUserFunc func(ctx context.Context, userID string) ([]*models.Session, error)
	RevokeFunc            func(ctx context.Context, sessionID, userID string) error
	RevokeByTokenHashFunc func(ctx context.Context, tokenHash string) error
	RevokeAllForUserFunc  func(ctx context.Context, userID string) (int64, error)
}

func (m *MockSessionStore) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	if session.ID == "" {
		session.ID = "session-1"
	}
	return session, nil
}

func (m *MockSessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionStore) ListActiveForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	if m.ListActiveForUserFunc != nil {
		return m.ListActiveForUserFunc(ctx, userID)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionStore) Revoke(ctx context.Context, sessionID, userID string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, sessionID, userID)
	}
	return nil
}

func (m *MockSessionStore) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	if m.RevokeByTokenHashFunc != nil {
		return m.RevokeByTokenHashFunc(ctx, tokenHash)
	}
	return nil
}

func (m *MockSessionStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID)
	}
	return 0, nil
}

// MockDeletionReminderStore implements DeletionReminderStore for testing
type MockDeletionReminderStore struct {
	TryMarkSentFunc  func(ctx context.Context, userID string, offsetDays int) (bool, error)
	ReleaseFunc      func(ctx context.Context, userID string, offsetDays int) error
	ClearForUserFunc func(ctx context.Context, userID string) error
}

func (m *MockDeletionReminderStore) TryMarkSent(ctx context.Context, userID string, offsetDays int) (bool, error) {
	if m.TryMarkSentFunc != nil {
		return m.TryMarkSentFunc(ctx, userID, offsetDays)
	}
	return true, nil
}

func (m *MockDeletionReminderStore) Release(ctx context.Context, userID string, offsetDays int) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, userID, offsetDays)
	}
	return nil
}

func (m *MockDeletionReminderStore) ClearForUser(ctx context.Context, userID string) error {
	if m.ClearForUserFunc != nil {
		return m.ClearForUserFunc(ctx, userID)
	}
	return nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendVerificationEmailFunc         func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmailFunc        func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendDeletionConfirmationEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendDeletionReminderEmailFunc     func(ctx context.Context, email string, scheduledFor time.Time, daysRemaining int) error
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendDeletionConfirmationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendDeletionConfirmationEmailFunc != nil {
		return m.SendDeletionConfirmationEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendDeletionReminderEmail(ctx context.Context, email string, scheduledFor time.Time, daysRemaining int) error {
	if m.SendDeletionReminderEmailFunc != nil {
		return m.SendDeletionReminderEmailFunc(ctx, email, scheduledFor, daysRemaining)
	}
	return nil
}

// MockVerifier implements the OAuth verifier for testing
type MockVerifier struct {
	VerifyFunc       func(ctx context.Context, provider, idToken string) (*oauth.UserInfo, error)
	IsConfiguredFunc func(provider string) bool
}

func (m *MockVerifier) Verify(ctx context.Context, provider, idToken string) (*oauth.UserInfo, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, provider, idToken)
	}
	return nil, models.ErrInvalidOAuthToken
}

func (m *MockVerifier) IsConfigured(provider string) bool {
	if m.IsConfiguredFunc != nil {
		return m.IsConfiguredFunc(provider)
	}
	return true
}
