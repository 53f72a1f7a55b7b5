package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/calebmorton/helix/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAppleKeysURL = "https://appleid.apple.com/auth/keys"
	appleIssuer         = "https://appleid.apple.com"
	appleKeysCacheTTL   = 1 * time.Hour
)

// appleVerifier validates Apple ID tokens locally: signature against
// Apple's published JWKS, then issuer, audience, and expiry claims.
type appleVerifier struct {
	clientID   string
	httpClient *http.Client
	keysURL    string

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey // by kid
	keysFetched time.Time
}

func newAppleVerifier(clientID string, httpClient *http.Client) *appleVerifier {
	return &appleVerifier{
		clientID:   clientID,
		httpClient: httpClient,
		keysURL:    defaultAppleKeysURL,
	}
}

func (a *appleVerifier) configured() bool {
	return a.clientID != ""
}

type appleClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (a *appleVerifier) verify(ctx context.Context, idToken string) (*UserInfo, error) {
	claims := &appleClaims{}

	token, err := jwt.ParseWithClaims(idToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token missing kid header")
		}
		return a.signingKey(ctx, kid)
	},
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(a.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if isProviderUnavailable(err) {
			return nil, models.ErrProviderUnavailable
		}
		return nil, models.ErrInvalidOAuthToken
	}

	if !token.Valid || claims.Subject == "" {
		return nil, models.ErrInvalidOAuthToken
	}

	// Apple does not put a display name in the ID token; it arrives only
	// in the first authorization response, which the client forwards
	// separately if it wants one stored.
	return &UserInfo{
		Subject: claims.Subject,
		Email:   claims.Email,
	}, nil
}

// signingKey returns the RSA public key for the given kid, refreshing the
// cached JWKS when the kid is unknown or the cache is stale.
func (a *appleVerifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if key, ok := a.keys[kid]; ok && time.Since(a.keysFetched) < appleKeysCacheTTL {
		return key, nil
	}

	if err := a.fetchKeysLocked(ctx); err != nil {
		return nil, err
	}

	key, ok := a.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no apple key for kid %q", kid)
	}
	return key, nil
}

type jwksDocument struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (a *appleVerifier) fetchKeysLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.keysURL, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &providerUnavailableError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode >= 400 {
		return &providerUnavailableError{err: fmt.Errorf("jwks fetch status=%d", resp.StatusCode)}
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return &providerUnavailableError{err: fmt.Errorf("decode jwks: %w", err)}
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return &providerUnavailableError{err: fmt.Errorf("jwks contained no usable keys")}
	}

	a.keys = keys
	a.keysFetched = time.Now()
	return nil
}

func rsaKeyFromJWK(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// providerUnavailableError marks JWKS transport failures so verify can
// distinguish them from signature/claim rejections.
type providerUnavailableError struct {
	err error
}

func (e *providerUnavailableError) Error() string { return e.err.Error() }
func (e *providerUnavailableError) Unwrap() error { return e.err }

func isProviderUnavailable(err error) bool {
	var target *providerUnavailableError
	return errors.As(err, &target)
}
