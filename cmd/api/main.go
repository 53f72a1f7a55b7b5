package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/calebmorton/helix/internal/auth"
	"github.com/calebmorton/helix/internal/background"
	"github.com/calebmorton/helix/internal/config"
	"github.com/calebmorton/helix/internal/database"
	"github.com/calebmorton/helix/internal/handlers"
	middlewareCustom "github.com/calebmorton/helix/internal/middleware"
	"github.com/calebmorton/helix/internal/oauth"
	"github.com/calebmorton/helix/internal/repositories"
	"github.com/calebmorton/helix/internal/routes"
	"github.com/calebmorton/helix/internal/services"
	pkghttp "github.com/calebmorton/helix/pkg/http"
	pkglogger "github.com/calebmorton/helix/pkg/logger"
)

func main() {
	// Load configuration first so the log level applies from the start
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	reminderRepo := repositories.NewDeletionReminderRepository(db)

	// Initialize auth primitives
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	keyManager := auth.NewAPIKeyManager()
	auditLogger := pkglogger.NewAuditLogger(logger)

	// TOTP stays disabled without an encryption key
	var totpManager *auth.TOTPManager
	if len(cfg.Auth.TOTPEncryptionKey) > 0 {
		totpManager, err = auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
		if err != nil {
			logger.Error("failed to initialize totp manager", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("TOTP_ENCRYPTION_KEY not set, authenticator enrollment disabled")
	}

	// OAuth provider verifier
	verifier := oauth.NewProviderVerifier(cfg.OAuth, nil)

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.BaseURL,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
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
		emailService,
		totpManager,
		cfg.Email.TokenExpiry,
		logger,
		auditLogger,
	)
	deletionService := services.NewDeletionService(
		userRepo,
		sessionRepo,
		reminderRepo,
		emailService,
		cfg.Email.DeletionExpiry,
		cfg.Deletion.GracePeriodDays,
		cfg.Deletion.ReminderOffsetDays,
		logger,
		auditLogger,
	)
	apiKeyService := services.NewAPIKeyService(apiKeyRepo, keyManager, logger, auditLogger)

	// Initialize handlers
	cookieConfig := auth.CookieConfig{
		Domain:   cfg.Auth.CookieDomain,
		Secure:   cfg.Auth.CookieSecure,
		SameSite: cfg.Auth.CookieSameSite,
	}
	var ipConfig *pkghttp.IPConfig
	if len(cfg.Server.TrustedProxies) > 0 {
		ipConfig = &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	}

	authHandler := handlers.NewAuthHandler(
		sessionService,
		userService,
		cookieConfig,
		int(cfg.Auth.SessionLifetime.Seconds()),
		ipConfig,
	)
	sessionsHandler := handlers.NewSessionsHandler(sessionService)
	usersHandler := handlers.NewUsersHandler(userService)
	deletionHandler := handlers.NewDeletionHandler(deletionService)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyService)

	// Background deletion sweep
	sweepManager := background.NewSweepManager(deletionService, logger, cfg.Deletion.SweepInterval)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

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

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweepManager.Start(sweepCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweepCancel()
	sweepManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
