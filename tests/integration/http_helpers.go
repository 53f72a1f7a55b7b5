package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/config"
	"github.com/calebmorton/helix/internal/database"
	"github.com/calebmorton/helix/internal/handlers"
	middlewareCustom "github.com/calebmorton/helix/internal/middleware"
	"github.com/calebmorton/helix/internal/models"
	"github.com/calebmorton/helix/internal/oauth"
	"github.com/calebmorton/helix/internal/routes"
	"github.com/calebmorton/helix/internal/services"
	pkglogger "github.com/calebmorton/helix/pkg/logger"
)

// SentEmail represents a captured email message
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// MockEmailService captures sent emails for test assertions
type MockEmailService struct {
	SentEmails []SentEmail
	mu         sync.Mutex
}

func (m *MockEmailService) record(email SentEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentEmails = append(m.SentEmails, email)
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Subject: "Verify your email", Body: "Verification token: " + token})
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Subject: "Reset your password", Body: "Reset token: " + token})
	return nil
}

func (m *MockEmailService) SendDeletionConfirmationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Subject: "Confirm account deletion", Body: "Deletion token: " + token})
	return nil
}

func (m *MockEmailService) SendDeletionReminderEmail(ctx context.Context, email string, scheduledFor time.Time, daysRemaining int) error {
	m.record(SentEmail{To: email, Subject: "Account deletion reminder", Body: fmt.Sprintf("Days remaining: %d", daysRemaining)})
	return nil
}

// GetLastEmail returns the most recent email sent
func (m *MockEmailService) GetLastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SentEmails) == 0 {
		return nil
	}
	return &m.SentEmails[len(m.SentEmails)-1]
}

// StubVerifier resolves OAuth ID tokens from a fixed table, so tests can
// mint provider identities without talking to Google or Apple
type StubVerifier struct {
	mu         sync.Mutex
	identities map[string]*oauth.UserInfo
}

func NewStubVerifier() *StubVerifier {
	return &StubVerifier{identities: map[string]*oauth.UserInfo{}}
}

// AddIdentity registers an ID token that will verify as the given identity
func (v *StubVerifier) AddIdentity(provider, idToken string, info *oauth.UserInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.identities[provider+":"+idToken] = info
}

func (v *StubVerifier) Verify(ctx context.Context, provider, idToken string) (*oauth.UserInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if info, ok := v.identities[provider+":"+idToken]; ok {
		return info, nil
	}
	return nil, models.ErrInvalidOAuthToken
}

func (v *StubVerifier) IsConfigured(provider string) bool {
	return true
}

// TestServer wraps httptest.Server with the database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *MockEmailService
	Verifier     *StubVerifier
	Config       *config.Config

	logger *slog.Logger
}

// NewTestServer initializes a complete HTTP server with a real database,
// mocked email, and a stub OAuth verifier
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:  15 * time.Minute,
			SessionLifetime:    30 * 24 * time.Hour,
			RotateRefreshOnUse: false,
			TOTPEncryptionKey:  bytesRepeat(0x42, 32),
			TOTPIssuer:         "HelixTest",
			CookieSameSite:     "strict",
		},
		Email: config.EmailConfig{
			FromAddress:    "noreply@test.local",
			BaseURL:        "http://localhost:3000",
			TokenExpiry:    24 * time.Hour,
			DeletionExpiry: 24 * time.Hour,
		},
		Deletion: config.DeletionConfig{
			GracePeriodDays:    14,
			ReminderOffsetDays: []int{7, 1},
			SweepInterval:      24 * time.Hour,
		},
		Server: config.ServerConfig{
			Port: "0",
			Env:  "test",
		},
	}

	userRepo, sessionRepo, apiKeyRepo, reminderRepo := InitializeRepositories(db)

	mockEmail := &MockEmailService{}
	verifier := NewStubVerifier()

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	keyManager := auth.NewAPIKeyManager()
	auditLogger := pkglogger.NewAuditLogger(logger)

	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to create TOTP manager", slog.Any("error", err))
		totpManager = nil
	}

	sessionService := services.NewSessionService(
		userRepo,
		sessionRepo,
		verifier,
		tokenManager,
		totpManager,
		cfg.Auth.SessionLifetime,
		cfg.Auth.RotateRefreshOnUse,
		logger,
		auditLogger,
	)
	userService := services.NewUserService(
		userRepo,
		sessionRepo,
		mockEmail,
		totpManager,
		cfg.Email.TokenExpiry,
		logger,
		auditLogger,
	)
	deletionService := services.NewDeletionService(
		userRepo,
		sessionRepo,
		reminderRepo,
		mockEmail,
		cfg.Email.DeletionExpiry,
		cfg.Deletion.GracePeriodDays,
		cfg.Deletion.ReminderOffsetDays,
		logger,
		auditLogger,
	)
	apiKeyService := services.NewAPIKeyService(apiKeyRepo, keyManager, logger, auditLogger)

	cookieConfig := auth.CookieConfig{SameSite: cfg.Auth.CookieSameSite}

	authHandler := handlers.NewAuthHandler(
		sessionService,
		userService,
		cookieConfig,
		int(cfg.Auth.SessionLifetime.Seconds()),
		nil,
	)
	sessionsHandler := handlers.NewSessionsHandler(sessionService)
	usersHandler := handlers.NewUsersHandler(userService)
	deletionHandler := handlers.NewDeletionHandler(deletionService)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyService)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(
		router,
		authHandler,
		sessionsHandler,
		usersHandler,
		deletionHandler,
		apiKeyHandler,
		tokenManager,
		apiKeyService,
	)

	server := httptest.NewServer(router)

	return &TestServer{
		Server:       server,
		DB:           db,
		EmailService: mockEmail,
		Verifier:     verifier,
		Config:       cfg,
		logger:       logger,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// DoJSON sends a JSON request to the test server and decodes the JSON
// response into target (when target is non-nil)
func (ts *TestServer) DoJSON(method, path string, body interface{}, target interface{}, cookies ...*http.Cookie) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if target != nil && len(data) > 0 {
		if err := json.Unmarshal(data, target); err != nil {
			return resp, fmt.Errorf("failed to decode response %q: %w", string(data), err)
		}
	}

	return resp, nil
}

// DoAuthorizedJSON is DoJSON with a bearer access token attached
func (ts *TestServer) DoAuthorizedJSON(method, path, accessToken string, body interface{}, target interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if target != nil && len(data) > 0 {
		if err := json.Unmarshal(data, target); err != nil {
			return resp, fmt.Errorf("failed to decode response %q: %w", string(data), err)
		}
	}

	return resp, nil
}

// RefreshCookie extracts the refresh token cookie from a login response
func RefreshCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

func bytesRepeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
