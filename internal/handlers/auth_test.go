package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/handlers"
	"github.com/calebmorton/helix/internal/models"
	"github.com/calebmorton/helix/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthHandler(sessions handlers.SessionServiceInterface, users handlers.UserServiceInterface) *handlers.AuthHandler {
	if sessions == nil {
		sessions = &handlers.MockSessionService{}
	}
	if users == nil {
		users = &handlers.MockUserService{}
	}
	cookieConfig := auth.CookieConfig{Secure: true, SameSite: "strict"}
	return handlers.NewAuthHandler(sessions, users, cookieConfig, 2592000, nil)
}

func findCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func testAuthResponse(refreshToken string) *services.AuthResponse {
	return &services.AuthResponse{
		AccessToken:  "header.payload.signature",
		RefreshToken: refreshToken,
		ExpiresIn:    900,
		SessionID:    "session-1",
		User: &services.UserResponse{
			ID:            "user-1",
			Email:         "test@example.com",
			Username:      "testuser",
			EmailVerified: true,
		},
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	sessions := &handlers.MockSessionService{
		LoginWithPasswordFunc: func(ctx context.Context, email, password, totpCode string, device services.DeviceContext) (*services.AuthResponse, error) {
			assert.Equal(t, "test@example.com", email)
			assert.Equal(t, "SecurePass123!", password)
			return testAuthResponse("raw-refresh-token"), nil
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "test@example.com",
		Password: "SecurePass123!",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "header.payload.signature", resp.AccessToken)
	assert.Equal(t, "user-1", resp.User.ID)

	// Raw refresh token travels only in the cookie, never the body
	assert.Empty(t, resp.RefreshToken)
	assert.NotContains(t, w.Body.String(), "raw-refresh-token")

	cookie := findCookie(t, w, "refresh_token")
	require.NotNil(t, cookie, "refresh token cookie should be set")
	assert.Equal(t, "raw-refresh-token", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, 2592000, cookie.MaxAge)
}

// Wrong password, unknown email, unverified email, and OAuth-only
// accounts must be indistinguishable from the outside.
func TestAuthHandler_Login_FailuresAreUniform(t *testing.T) {
	failures := []error{
		models.ErrInvalidCredentials,
		models.ErrEmailNotVerified,
		models.ErrUnauthorized,
		models.ErrPasswordAuthDisabled,
	}

	var bodies []string
	for _, failure := range failures {
		sessions := &handlers.MockSessionService{
			LoginWithPasswordFunc: func(ctx context.Context, email, password, totpCode string, device services.DeviceContext) (*services.AuthResponse, error) {
				return nil, failure
			},
		}
		handler := newAuthHandler(sessions, nil)

		req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
			Email:    "test@example.com",
			Password: "whatever",
		})
		w := httptest.NewRecorder()
		handler.Login(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
		assert.Nil(t, findCookie(t, w, "refresh_token"))
		bodies = append(bodies, w.Body.String())
	}

	for i := 1; i < len(bodies); i++ {
		assert.Equal(t, bodies[0], bodies[i], "failure responses should be identical")
	}
}

func TestAuthHandler_Login_TOTPRequired(t *testing.T) {
	sessions := &handlers.MockSessionService{
		LoginWithPasswordFunc: func(ctx context.Context, email, password, totpCode string, device services.DeviceContext) (*services.AuthResponse, error) {
			return nil, models.ErrInvalidTOTPCode
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "test@example.com",
		Password: "SecurePass123!",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestAuthHandler_Login_ValidationError(t *testing.T) {
	handler := newAuthHandler(nil, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email: "not-an-email",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestAuthHandler_Register_Success(t *testing.T) {
	users := &handlers.MockUserService{
		RegisterFunc: func(ctx context.Context, email, username, password string) (*services.UserResponse, error) {
			assert.Equal(t, "new@example.com", email)
			assert.Equal(t, "newuser", username)
			return &services.UserResponse{ID: "user-2", Email: email, Username: username}, nil
		},
	}
	handler := newAuthHandler(nil, users)

	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:    "new@example.com",
		Username: "newuser",
		Password: "SecurePass123!",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Contains(t, resp["message"], "verify")

	// Registration never issues tokens; verification comes first
	assert.Nil(t, findCookie(t, w, "refresh_token"))
}

func TestAuthHandler_Register_EmailTaken(t *testing.T) {
	users := &handlers.MockUserService{
		RegisterFunc: func(ctx context.Context, email, username, password string) (*services.UserResponse, error) {
			return nil, models.ErrEmailTaken
		},
	}
	handler := newAuthHandler(nil, users)

	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:    "taken@example.com",
		Username: "newuser",
		Password: "SecurePass123!",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusConflict, "conflict")
}

func TestAuthHandler_Register_ShortUsername(t *testing.T) {
	handler := newAuthHandler(nil, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:    "new@example.com",
		Username: "ab",
		Password: "SecurePass123!",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestAuthHandler_OAuthLogin_Success(t *testing.T) {
	sessions := &handlers.MockSessionService{
		LoginWithOAuthFunc: func(ctx context.Context, provider, idToken string, device services.DeviceContext) (*services.AuthResponse, error) {
			assert.Equal(t, "google", provider)
			assert.Equal(t, "provider-id-token", idToken)
			return testAuthResponse("oauth-refresh-token"), nil
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/oauth", handlers.OAuthLoginRequest{
		Provider: "google",
		IDToken:  "provider-id-token",
	})
	w := httptest.NewRecorder()
	handler.OAuthLogin(w, req)

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Empty(t, resp.RefreshToken)

	cookie := findCookie(t, w, "refresh_token")
	require.NotNil(t, cookie)
	assert.Equal(t, "oauth-refresh-token", cookie.Value)
}

func TestAuthHandler_OAuthLogin_UnknownProviderRejected(t *testing.T) {
	handler := newAuthHandler(nil, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/oauth", handlers.OAuthLoginRequest{
		Provider: "github",
		IDToken:  "provider-id-token",
	})
	w := httptest.NewRecorder()
	handler.OAuthLogin(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestAuthHandler_OAuthLogin_ProviderUnavailable(t *testing.T) {
	sessions := &handlers.MockSessionService{
		LoginWithOAuthFunc: func(ctx context.Context, provider, idToken string, device services.DeviceContext) (*services.AuthResponse, error) {
			return nil, models.ErrProviderUnavailable
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/oauth", handlers.OAuthLoginRequest{
		Provider: "apple",
		IDToken:  "provider-id-token",
	})
	w := httptest.NewRecorder()
	handler.OAuthLogin(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusServiceUnavailable, "service_unavailable")
}

func TestAuthHandler_OAuthLogin_EmailCollision(t *testing.T) {
	sessions := &handlers.MockSessionService{
		LoginWithOAuthFunc: func(ctx context.Context, provider, idToken string, device services.DeviceContext) (*services.AuthResponse, error) {
			return nil, models.ErrEmailTaken
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/oauth", handlers.OAuthLoginRequest{
		Provider: "google",
		IDToken:  "provider-id-token",
	})
	w := httptest.NewRecorder()
	handler.OAuthLogin(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusConflict, "conflict")
}

func TestAuthHandler_Refresh_Success(t *testing.T) {
	sessions := &handlers.MockSessionService{
		RefreshFunc: func(ctx context.Context, refreshTokenRaw string, device services.DeviceContext) (*services.AuthResponse, error) {
			assert.Equal(t, "cookie-refresh-token", refreshTokenRaw)
			resp := testAuthResponse("")
			return resp, nil
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", nil)
	req = handlers.WithRefreshCookie(req, "cookie-refresh-token")
	w := httptest.NewRecorder()
	handler.Refresh(w, req)

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "header.payload.signature", resp.AccessToken)

	// No rotation means no new cookie
	assert.Nil(t, findCookie(t, w, "refresh_token"))
}

func TestAuthHandler_Refresh_RotationSetsNewCookie(t *testing.T) {
	sessions := &handlers.MockSessionService{
		RefreshFunc: func(ctx context.Context, refreshTokenRaw string, device services.DeviceContext) (*services.AuthResponse, error) {
			return testAuthResponse("rotated-refresh-token"), nil
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", nil)
	req = handlers.WithRefreshCookie(req, "cookie-refresh-token")
	w := httptest.NewRecorder()
	handler.Refresh(w, req)

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Empty(t, resp.RefreshToken)

	cookie := findCookie(t, w, "refresh_token")
	require.NotNil(t, cookie)
	assert.Equal(t, "rotated-refresh-token", cookie.Value)
}

func TestAuthHandler_Refresh_MissingCookie(t *testing.T) {
	handler := newAuthHandler(nil, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", nil)
	w := httptest.NewRecorder()
	handler.Refresh(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestAuthHandler_Refresh_InvalidTokenClearsCookie(t *testing.T) {
	sessions := &handlers.MockSessionService{
		RefreshFunc: func(ctx context.Context, refreshTokenRaw string, device services.DeviceContext) (*services.AuthResponse, error) {
			return nil, models.ErrInvalidRefreshToken
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", nil)
	req = handlers.WithRefreshCookie(req, "revoked-token")
	w := httptest.NewRecorder()
	handler.Refresh(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")

	cookie := findCookie(t, w, "refresh_token")
	require.NotNil(t, cookie, "stale cookie should be cleared")
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestAuthHandler_Logout_RevokesAndClearsCookie(t *testing.T) {
	var revoked string
	sessions := &handlers.MockSessionService{
		LogoutFunc: func(ctx context.Context, refreshTokenRaw string) error {
			revoked = refreshTokenRaw
			return nil
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)
	req = handlers.WithRefreshCookie(req, "cookie-refresh-token")
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "cookie-refresh-token", revoked)

	cookie := findCookie(t, w, "refresh_token")
	require.NotNil(t, cookie)
	assert.Negative(t, cookie.MaxAge)
}

func TestAuthHandler_Logout_WithoutCookie(t *testing.T) {
	called := false
	sessions := &handlers.MockSessionService{
		LogoutFunc: func(ctx context.Context, refreshTokenRaw string) error {
			called = true
			return nil
		},
	}
	handler := newAuthHandler(sessions, nil)

	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, called, "no session to revoke without a cookie")
}

func TestAuthHandler_VerifyEmail_Success(t *testing.T) {
	users := &handlers.MockUserService{
		VerifyEmailFunc: func(ctx context.Context, plainToken string) error {
			assert.Equal(t, "verification-token", plainToken)
			return nil
		},
	}
	handler := newAuthHandler(nil, users)

	req := handlers.NewTestRequest(t, "POST", "/auth/verify-email", handlers.VerifyEmailRequest{
		Token: "verification-token",
	})
	w := httptest.NewRecorder()
	handler.VerifyEmail(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Contains(t, resp["message"], "verified")
}

func TestAuthHandler_VerifyEmail_ExpiredToken(t *testing.T) {
	users := &handlers.MockUserService{
		VerifyEmailFunc: func(ctx context.Context, plainToken string) error {
			return models.ErrInvalidOrExpiredToken
		},
	}
	handler := newAuthHandler(nil, users)

	req := handlers.NewTestRequest(t, "POST", "/auth/verify-email", handlers.VerifyEmailRequest{
		Token: "expired-token",
	})
	w := httptest.NewRecorder()
	handler.VerifyEmail(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

// The resend and reset-request endpoints answer 202 with the same body
// whether or not the address is registered.
func TestAuthHandler_ResendVerification_UniformResponse(t *testing.T) {
	knownBody := ""
	for i, err := range []error{nil, models.ErrNotFound} {
		users := &handlers.MockUserService{
			ResendVerificationFunc: func(ctx context.Context, email string) error {
				return err
			},
		}
		handler := newAuthHandler(nil, users)

		req := handlers.NewTestRequest(t, "POST", "/auth/resend-verification", handlers.EmailRequest{
			Email: "anyone@example.com",
		})
		w := httptest.NewRecorder()
		handler.ResendVerification(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		if i == 0 {
			knownBody = w.Body.String()
		} else {
			assert.Equal(t, knownBody, w.Body.String())
		}
	}
}

func TestAuthHandler_RequestPasswordReset_NormalizesEmail(t *testing.T) {
	var received string
	users := &handlers.MockUserService{
		RequestPasswordResetFunc: func(ctx context.Context, email string) error {
			received = email
			return nil
		},
	}
	handler := newAuthHandler(nil, users)

	req := handlers.NewTestRequest(t, "POST", "/auth/password-reset", handlers.EmailRequest{
		Email: "User@Example.COM",
	})
	w := httptest.NewRecorder()
	handler.RequestPasswordReset(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "user@example.com", received)
}

func TestAuthHandler_ResetPassword_Success(t *testing.T) {
	users := &handlers.MockUserService{
		ResetPasswordFunc: func(ctx context.Context, plainToken, newPassword string) error {
			assert.Equal(t, "reset-token", plainToken)
			assert.Equal(t, "NewSecurePass456!", newPassword)
			return nil
		},
	}
	handler := newAuthHandler(nil, users)

	req := handlers.NewTestRequest(t, "POST", "/auth/password-reset/complete", handlers.ResetPasswordRequest{
		Token:       "reset-token",
		NewPassword: "NewSecurePass456!",
	})
	w := httptest.NewRecorder()
	handler.ResetPassword(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Contains(t, resp["message"], "reset")
}

func TestAuthHandler_ResetPassword_InvalidToken(t *testing.T) {
	users := &handlers.MockUserService{
		ResetPasswordFunc: func(ctx context.Context, plainToken, newPassword string) error {
			return models.ErrInvalidOrExpiredToken
		},
	}
	handler := newAuthHandler(nil, users)

	req := handlers.NewTestRequest(t, "POST", "/auth/password-reset/complete", handlers.ResetPasswordRequest{
		Token:       "bad-token",
		NewPassword: "NewSecurePass456!",
	})
	w := httptest.NewRecorder()
	handler.ResetPassword(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}
