package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/models"
	"github.com/calebmorton/helix/internal/services"
	pkghttp "github.com/calebmorton/helix/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to the request context for
// testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.AccessTokenClaims{
		UserID: userID,
		Email:  email,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithRefreshCookie attaches a refresh token cookie to the request
func WithRefreshCookie(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: token})
	return req
}

// WithChiRouteContext adds chi URL parameters to the request context so
// handlers can read them without going through the router
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	LoginWithPasswordFunc func(ctx context.Context, email, password, totpCode string, device services.DeviceContext) (*services.AuthResponse, error)
	LoginWithOAuthFunc    func(ctx context.Context, provider, idToken string, device services.DeviceContext) (*services.AuthResponse, error)
	RefreshFunc           func(ctx context.Context, refreshTokenRaw string, device services.DeviceContext) (*services.AuthResponse, error)
	LogoutFunc            func(ctx context.Context, refreshTokenRaw string) error
}

func (m *MockSessionService) LoginWithPassword(ctx context.Context, email, password, totpCode string, device services.DeviceContext) (*services.AuthResponse, error) {
	if m.LoginWithPasswordFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginWithPasswordFunc(ctx, email, password, totpCode, device)
}

func (m *MockSessionService) LoginWithOAuth(ctx context.Context, provider, idToken string, device services.DeviceContext) (*services.AuthResponse, error) {
	if m.LoginWithOAuthFunc == nil {
		return nil, models.ErrInvalidOAuthToken
	}
	return m.LoginWithOAuthFunc(ctx, provider, idToken, device)
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshTokenRaw string, device services.DeviceContext) (*services.AuthResponse, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrInvalidRefreshToken
	}
	return m.RefreshFunc(ctx, refreshTokenRaw, device)
}

func (m *MockSessionService) Logout(ctx context.Context, refreshTokenRaw string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, refreshTokenRaw)
}

// MockUserService implements UserServiceInterface for testing
type MockUserService struct {
	RegisterFunc             func(ctx context.Context, email, username, password string) (*services.UserResponse, error)
	VerifyEmailFunc          func(ctx context.Context, plainToken string) error
	ResendVerificationFunc   func(ctx context.Context, email string) error
	RequestPasswordResetFunc func(ctx context.Context, email string) error
	ResetPasswordFunc        func(ctx context.Context, plainToken, newPassword string) error
}

func (m *MockUserService) Register(ctx context.Context, email, username, password string) (*services.UserResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, username, password)
}

func (m *MockUserService) VerifyEmail(ctx context.Context, plainToken string) error {
	if m.VerifyEmailFunc == nil {
		return models.ErrInvalidOrExpiredToken
	}
	return m.VerifyEmailFunc(ctx, plainToken)
}

func (m *MockUserService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc == nil {
		return nil
	}
	return m.ResendVerificationFunc(ctx, email)
}

func (m *MockUserService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.RequestPasswordResetFunc == nil {
		return nil
	}
	return m.RequestPasswordResetFunc(ctx, email)
}

func (m *MockUserService) ResetPassword(ctx context.Context, plainToken, newPassword string) error {
	if m.ResetPasswordFunc == nil {
		return models.ErrInvalidOrExpiredToken
	}
	return m.ResetPasswordFunc(ctx, plainToken, newPassword)
}

// MockSessionManager implements SessionManagerInterface for testing
type MockSessionManager struct {
	ListSessionsFunc      func(ctx context.Context, userID, currentRefreshTokenRaw string) ([]*models.SessionSummary, error)
	RevokeSessionFunc     func(ctx context.Context, userID, sessionID string) error
	RevokeAllSessionsFunc func(ctx context.Context, userID string) (int64, error)
}

func (m *MockSessionManager) ListSessions(ctx context.Context, userID, currentRefreshTokenRaw string) ([]*models.SessionSummary, error) {
	if m.ListSessionsFunc == nil {
		return []*models.SessionSummary{}, nil
	}
	return m.ListSessionsFunc(ctx, userID, currentRefreshTokenRaw)
}

func (m *MockSessionManager) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if m.RevokeSessionFunc == nil {
		return models.ErrNotFound
	}
	return m.RevokeSessionFunc(ctx, userID, sessionID)
}

func (m *MockSessionManager) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	if m.RevokeAllSessionsFunc == nil {
		return 0, nil
	}
	return m.RevokeAllSessionsFunc(ctx, userID)
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	GetUserFunc        func(ctx context.Context, userID string) (*services.UserResponse, error)
	ChangePasswordFunc func(ctx context.Context, userID, currentPassword, newPassword, currentRefreshTokenRaw string) error
	EnrollTOTPFunc     func(ctx context.Context, userID string) (*services.TOTPEnrollment, error)
	ActivateTOTPFunc   func(ctx context.Context, userID, code string) error
	DisableTOTPFunc    func(ctx context.Context, userID, password string) error
}

func (m *MockAccountService) GetUser(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.GetUserFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetUserFunc(ctx, userID)
}

func (m *MockAccountService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, currentRefreshTokenRaw string) error {
	if m.ChangePasswordFunc == nil {
		return models.ErrInvalidCredentials
	}
	return m.ChangePasswordFunc(ctx, userID, currentPassword, newPassword, currentRefreshTokenRaw)
}

func (m *MockAccountService) EnrollTOTP(ctx context.Context, userID string) (*services.TOTPEnrollment, error) {
	if m.EnrollTOTPFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.EnrollTOTPFunc(ctx, userID)
}

func (m *MockAccountService) ActivateTOTP(ctx context.Context, userID, code string) error {
	if m.ActivateTOTPFunc == nil {
		return models.ErrInvalidTOTPCode
	}
	return m.ActivateTOTPFunc(ctx, userID, code)
}

func (m *MockAccountService) DisableTOTP(ctx context.Context, userID, password string) error {
	if m.DisableTOTPFunc == nil {
		return models.ErrBadRequest
	}
	return m.DisableTOTPFunc(ctx, userID, password)
}

// MockDeletionService implements DeletionServiceInterface for testing
type MockDeletionService struct {
	RequestDeletionFunc   func(ctx context.Context, email string) error
	ConfirmDeletionFunc   func(ctx context.Context, plainToken string) (*models.DeletionStatus, error)
	CancelDeletionFunc    func(ctx context.Context, email string) error
	GetDeletionStatusFunc func(ctx context.Context, email string) (*models.DeletionStatus, error)
}

func (m *MockDeletionService) RequestDeletion(ctx context.Context, email string) error {
	if m.RequestDeletionFunc == nil {
		return nil
	}
	return m.RequestDeletionFunc(ctx, email)
}

func (m *MockDeletionService) ConfirmDeletion(ctx context.Context, plainToken string) (*models.DeletionStatus, error) {
	if m.ConfirmDeletionFunc == nil {
		return nil, models.ErrInvalidOrExpiredToken
	}
	return m.ConfirmDeletionFunc(ctx, plainToken)
}

func (m *MockDeletionService) CancelDeletion(ctx context.Context, email string) error {
	if m.CancelDeletionFunc == nil {
		return nil
	}
	return m.CancelDeletionFunc(ctx, email)
}

func (m *MockDeletionService) GetDeletionStatus(ctx context.Context, email string) (*models.DeletionStatus, error) {
	if m.GetDeletionStatusFunc == nil {
		return &models.DeletionStatus{}, nil
	}
	return m.GetDeletionStatusFunc(ctx, email)
}

// MockAPIKeyService implements APIKeyServiceInterface for testing
type MockAPIKeyService struct {
	CreateAPIKeyFunc     func(ctx context.Context, userID, label string, scopes []string) (*models.GeneratedAPIKey, error)
	RotateAPIKeyFunc     func(ctx context.Context, userID, keyID string) (*models.GeneratedAPIKey, error)
	DeactivateAPIKeyFunc func(ctx context.Context, userID, keyID string) error
	ListUserKeysFunc     func(ctx context.Context, userID string) ([]*models.APIKey, error)
	GetAPIKeyFunc        func(ctx context.Context, userID, keyID string) (*models.APIKey, error)
}

func (m *MockAPIKeyService) CreateAPIKey(ctx context.Context, userID, label string, scopes []string) (*models.GeneratedAPIKey, error) {
	if m.CreateAPIKeyFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.CreateAPIKeyFunc(ctx, userID, label, scopes)
}

func (m *MockAPIKeyService) RotateAPIKey(ctx context.Context, userID, keyID string) (*models.GeneratedAPIKey, error) {
	if m.RotateAPIKeyFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.RotateAPIKeyFunc(ctx, userID, keyID)
}

func (m *MockAPIKeyService) DeactivateAPIKey(ctx context.Context, userID, keyID string) error {
	if m.DeactivateAPIKeyFunc == nil {
		return models.ErrNotFound
	}
	return m.DeactivateAPIKeyFunc(ctx, userID, keyID)
}

func (m *MockAPIKeyService) ListUserKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	if m.ListUserKeysFunc == nil {
		return []*models.APIKey{}, nil
	}
	return m.ListUserKeysFunc(ctx, userID)
}

func (m *MockAPIKeyService) GetAPIKey(ctx context.Context, userID, keyID string) (*models.APIKey, error) {
	if m.GetAPIKeyFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetAPIKeyFunc(ctx, userID, keyID)
}
