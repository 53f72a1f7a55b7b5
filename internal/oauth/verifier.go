package oauth

import (
	"context"
	"net/http"
	"time"

	"github.com/calebmorton/helix/internal/config"
	"github.com/calebmorton/helix/internal/models"
)

// UserInfo is the verified identity extracted from a provider token.
type UserInfo struct {
	Subject string // Stable external subject id, unique per provider
	Email   string
	Name    string
}

// Verifier verifies third-party identity tokens and extracts the
// subject's identity. Implementations must not retry failed provider
// calls; the caller re-initiates the OAuth flow instead.
type Verifier interface {
	Verify(ctx context.Context, provider, idToken string) (*UserInfo, error)
	IsConfigured(provider string) bool
}

// ProviderVerifier dispatches verification to the configured providers.
// Constructed explicitly with its config so tests can substitute endpoints
// and transport without package-level state.
type ProviderVerifier struct {
	google *googleVerifier
	apple  *appleVerifier
}

// NewProviderVerifier constructs a verifier for all configured providers.
// A nil httpClient gets a default with the configured request timeout.
func NewProviderVerifier(cfg config.OAuthConfig, httpClient *http.Client) *ProviderVerifier {
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &ProviderVerifier{
		google: newGoogleVerifier(cfg.GoogleClientID, httpClient),
		apple:  newAppleVerifier(cfg.AppleClientID, httpClient),
	}
}

// Verify validates the token with the named provider and returns the
// verified identity.
func (v *ProviderVerifier) Verify(ctx context.Context, provider, idToken string) (*UserInfo, error) {
	switch provider {
	case models.ProviderGoogle:
		if !v.google.configured() {
			return nil, models.ErrUnsupportedProvider
		}
		return v.google.verify(ctx, idToken)
	case models.ProviderApple:
		if !v.apple.configured() {
			return nil, models.ErrUnsupportedProvider
		}
		return v.apple.verify(ctx, idToken)
	default:
		return nil, models.ErrUnsupportedProvider
	}
}

// IsConfigured reports whether the provider has credentials configured.
// Pure configuration check, no I/O.
func (v *ProviderVerifier) IsConfigured(provider string) bool {
	switch provider {
	case models.ProviderGoogle:
		return v.google.configured()
	case models.ProviderApple:
		return v.apple.configured()
	default:
		return false
	}
}
