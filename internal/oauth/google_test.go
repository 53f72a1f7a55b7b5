package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calebmorton/helix/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGoogleVerifier(t *testing.T, handler http.HandlerFunc) *googleVerifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g := newGoogleVerifier("helix-client-id", server.Client())
	g.tokenInfoURL = server.URL
	return g
}

func TestGoogleVerifier_Success(t *testing.T) {
	g := newTestGoogleVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "some-id-token", r.URL.Query().Get("id_token"))
		w.Write([]byte(`{"aud":"helix-client-id","sub":"10987654321","email":"user@gmail.com","email_verified":"true","name":"Test User"}`))
	})

	info, err := g.verify(context.Background(), "some-id-token")
	require.NoError(t, err)
	assert.Equal(t, "10987654321", info.Subject)
	assert.Equal(t, "user@gmail.com", info.Email)
	assert.Equal(t, "Test User", info.Name)
}

func TestGoogleVerifier_WrongAudience(t *testing.T) {
	g := newTestGoogleVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"aud":"someone-elses-client-id","sub":"10987654321","email":"user@gmail.com"}`))
	})

	_, err := g.verify(context.Background(), "some-id-token")
	assert.ErrorIs(t, err, models.ErrInvalidOAuthToken)
}

func TestGoogleVerifier_TokenRejectedByProvider(t *testing.T) {
	g := newTestGoogleVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_token"}`))
	})

	_, err := g.verify(context.Background(), "expired-token")
	assert.ErrorIs(t, err, models.ErrInvalidOAuthToken)
}

func TestGoogleVerifier_ProviderDown(t *testing.T) {
	g := newTestGoogleVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := g.verify(context.Background(), "some-id-token")
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestGoogleVerifier_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := server.Client()
	server.Close() // Connection refused from here on

	g := newGoogleVerifier("helix-client-id", client)
	g.tokenInfoURL = server.URL

	_, err := g.verify(context.Background(), "some-id-token")
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestProviderVerifier_IsConfigured(t *testing.T) {
	v := NewProviderVerifier(testOAuthConfig("helix-client-id", ""), nil)

	assert.True(t, v.IsConfigured(models.ProviderGoogle))
	assert.False(t, v.IsConfigured(models.ProviderApple))
	assert.False(t, v.IsConfigured("github"))
}

func TestProviderVerifier_UnsupportedProvider(t *testing.T) {
	v := NewProviderVerifier(testOAuthConfig("helix-client-id", "com.helix.app"), nil)

	_, err := v.Verify(context.Background(), "github", "token")
	assert.ErrorIs(t, err, models.ErrUnsupportedProvider)
}

func TestProviderVerifier_UnconfiguredProvider(t *testing.T) {
	v := NewProviderVerifier(testOAuthConfig("", "com.helix.app"), nil)

	_, err := v.Verify(context.Background(), models.ProviderGoogle, "token")
	assert.ErrorIs(t, err, models.ErrUnsupportedProvider)
}
