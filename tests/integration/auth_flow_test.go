package integration

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSuite(t *testing.T) (*TestDB, *TestServer) {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires Docker)")
	}

	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err, "failed to set up test database")
	t.Cleanup(func() {
		_ = testDB.Teardown(context.Background())
	})

	server := NewTestServer(testDB.DB)
	t.Cleanup(server.Close)

	return testDB, server
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
	User        struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		Username      string `json:"username"`
		EmailVerified bool   `json:"email_verified"`
	} `json:"user"`
	RefreshToken string `json:"refresh_token"`
}

func TestRegistrationLoginLifecycle(t *testing.T) {
	_, server := setupSuite(t)

	email, username, password := TestUser("lifecycle")

	// Register
	resp, err := server.DoJSON("POST", "/auth/register", map[string]string{
		"email":    email,
		"username": username,
		"password": password,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Login is rejected until the email is verified
	resp, err = server.DoJSON("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Verify with the emailed token
	lastEmail := server.EmailService.GetLastEmail()
	require.NotNil(t, lastEmail, "registration should send a verification email")
	assert.Equal(t, email, lastEmail.To)
	token := ExtractToken(lastEmail.Body)
	require.NotEmpty(t, token)

	resp, err = server.DoJSON("POST", "/auth/verify-email", map[string]string{"token": token}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Login succeeds now; refresh token arrives only as a cookie
	var auth authResponse
	resp, err = server.DoJSON("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &auth)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, auth.AccessToken)
	assert.Empty(t, auth.RefreshToken, "raw refresh token must not appear in the body")
	assert.True(t, auth.User.EmailVerified)

	cookie := RefreshCookie(resp)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	// Access token works against a protected endpoint
	var me struct {
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	resp, err = server.DoAuthorizedJSON("GET", "/users/me", auth.AccessToken, nil, &me)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, email, me.Email)

	// Refresh mints a fresh access token from the cookie
	var refreshed authResponse
	resp, err = server.DoJSON("POST", "/auth/refresh", nil, &refreshed, cookie)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, refreshed.AccessToken)

	// Logout revokes the session; the next refresh is rejected
	resp, err = server.DoJSON("POST", "/auth/logout", nil, nil, cookie)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = server.DoJSON("POST", "/auth/refresh", nil, nil, cookie)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPasswordResetFlow(t *testing.T) {
	testDB, server := setupSuite(t)

	ctx := context.Background()
	email, username, password := TestUser("reset")
	_, err := SeedUser(ctx, testDB.DB, email, username, password, true)
	require.NoError(t, err)

	// Request a reset and pull the emailed token
	resp, err := server.DoJSON("POST", "/auth/password-reset", map[string]string{"email": email}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	lastEmail := server.EmailService.GetLastEmail()
	require.NotNil(t, lastEmail)
	token := ExtractToken(lastEmail.Body)
	require.NotEmpty(t, token)

	// Complete the reset
	newPassword := "BrandNewPassword456!"
	resp, err = server.DoJSON("POST", "/auth/password-reset/complete", map[string]string{
		"token":        token,
		"new_password": newPassword,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Old password dead, new password works
	resp, err = server.DoJSON("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = server.DoJSON("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": newPassword,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeletionWorkflow(t *testing.T) {
	testDB, server := setupSuite(t)

	ctx := context.Background()
	email, username, password := TestUser("deletion")
	_, err := SeedUser(ctx, testDB.DB, email, username, password, true)
	require.NoError(t, err)

	// Request deletion, then confirm with the emailed token
	resp, err := server.DoJSON("POST", "/account/deletion/request", map[string]string{"email": email}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	lastEmail := server.EmailService.GetLastEmail()
	require.NotNil(t, lastEmail)
	token := ExtractToken(lastEmail.Body)
	require.NotEmpty(t, token)

	var status struct {
		Requested bool `json:"requested"`
		Confirmed bool `json:"confirmed"`
		CanCancel bool `json:"can_cancel"`
	}
	resp, err = server.DoJSON("POST", "/account/deletion/confirm", map[string]string{"token": token}, &status)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, status.Confirmed)
	assert.True(t, status.CanCancel)

	// Status reflects the pending deletion
	resp, err = server.DoJSON("GET", "/account/deletion/status?email="+email, nil, &status)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, status.Confirmed)

	// Cancel during the grace period restores the account
	resp, err = server.DoJSON("POST", "/account/deletion/cancel", map[string]string{"email": email}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = server.DoJSON("GET", "/account/deletion/status?email="+email, nil, &status)
	require.NoError(t, err)
	assert.False(t, status.Requested)
	assert.False(t, status.Confirmed)

	// Login still works
	resp, err = server.DoJSON("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIKeyLifecycle(t *testing.T) {
	testDB, server := setupSuite(t)

	ctx := context.Background()
	email, username, password := TestUser("apikeys")
	_, err := SeedUser(ctx, testDB.DB, email, username, password, true)
	require.NoError(t, err)

	var auth authResponse
	resp, err := server.DoJSON("POST", "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &auth)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Create a key; plaintext appears exactly once
	var created struct {
		Key    string `json:"key"`
		APIKey struct {
			ID        string `json:"id"`
			KeyPrefix string `json:"key_prefix"`
		} `json:"api_key"`
	}
	resp, err = server.DoAuthorizedJSON("POST", "/api-keys", auth.AccessToken, map[string]interface{}{
		"label":  "integration test",
		"scopes": []string{"users.read"},
	}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, created.Key)
	require.NotEmpty(t, created.APIKey.ID)

	// The key authenticates within its scope and nowhere else
	var me struct {
		Email string `json:"email"`
	}
	resp, err = server.DoAuthorizedJSON("GET", "/users/me", created.Key, nil, &me)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, email, me.Email)

	resp, err = server.DoAuthorizedJSON("GET", "/sessions", created.Key, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Rotation kills the old plaintext the moment the new one exists
	var rotated struct {
		Key string `json:"key"`
	}
	resp, err = server.DoAuthorizedJSON("POST", "/api-keys/"+created.APIKey.ID+"/rotate", auth.AccessToken, nil, &rotated)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, created.Key, rotated.Key)

	resp, err = server.DoAuthorizedJSON("GET", "/users/me", created.Key, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = server.DoAuthorizedJSON("GET", "/users/me", rotated.Key, nil, &me)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = server.DoAuthorizedJSON("DELETE", "/api-keys/"+created.APIKey.ID, auth.AccessToken, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// A deactivated key no longer authenticates
	resp, err = server.DoAuthorizedJSON("GET", "/users/me", rotated.Key, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Deactivating again reads as gone
	resp, err = server.DoAuthorizedJSON("DELETE", "/api-keys/"+created.APIKey.ID, auth.AccessToken, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
