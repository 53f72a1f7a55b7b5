package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/calebmorton/helix/internal/models"
)

const defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// googleVerifier validates Google ID tokens through the tokeninfo
// introspection endpoint. Google signs the introspection response itself,
// so the audience check here is the trust boundary.
type googleVerifier struct {
	clientID     string
	httpClient   *http.Client
	tokenInfoURL string
}

func newGoogleVerifier(clientID string, httpClient *http.Client) *googleVerifier {
	return &googleVerifier{
		clientID:     clientID,
		httpClient:   httpClient,
		tokenInfoURL: defaultGoogleTokenInfoURL,
	}
}

func (g *googleVerifier) configured() bool {
	return g.clientID != ""
}

type googleTokenInfo struct {
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
}

func (g *googleVerifier) verify(ctx context.Context, idToken string) (*UserInfo, error) {
	endpoint := g.tokenInfoURL + "?id_token=" + url.QueryEscape(idToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build tokeninfo request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// Network failure, not retried automatically
		return nil, models.ErrProviderUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, models.ErrProviderUnavailable
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, models.ErrProviderUnavailable
	case resp.StatusCode >= 400:
		// Google rejects malformed/expired tokens with 4xx
		return nil, models.ErrInvalidOAuthToken
	}

	var info googleTokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, models.ErrInvalidOAuthToken
	}

	// The token must be minted for this application
	if info.Aud != g.clientID {
		return nil, models.ErrInvalidOAuthToken
	}
	if info.Sub == "" {
		return nil, models.ErrInvalidOAuthToken
	}

	return &UserInfo{
		Subject: info.Sub,
		Email:   info.Email,
		Name:    info.Name,
	}, nil
}
