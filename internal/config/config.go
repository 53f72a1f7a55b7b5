package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	OAuth    OAuthConfig
	Email    EmailConfig
	Deletion DeletionConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string // CIDR ranges allowed to set X-Forwarded-For
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	SessionLifetime   time.Duration
	// RotateRefreshOnUse enables issuing a fresh refresh token on every
	// Refresh call as a replay-hardening option. Off by default: the
	// default contract is a single long-lived session token.
	RotateRefreshOnUse bool
	TOTPEncryptionKey  []byte // 32-byte AES-256 key, base64-encoded in env
	TOTPIssuer         string
	CookieDomain       string
	CookieSecure       bool
	CookieSameSite     string
}

type OAuthConfig struct {
	GoogleClientID string
	AppleClientID  string // The app's bundle/service id, checked as audience
	RequestTimeout time.Duration
}

type EmailConfig struct {
	AWSRegion      string
	FromAddress    string
	BaseURL        string // Link base for verification/reset/deletion emails
	TokenExpiry    time.Duration
	DeletionExpiry time.Duration
}

type DeletionConfig struct {
	GracePeriodDays    int
	ReminderOffsetDays []int // Days before permanent deletion to send reminders
	SweepInterval      time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	totpKey, err := parseTOTPKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "helix"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseStringList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			SessionLifetime:    getEnvAsDuration("SESSION_LIFETIME", 30*24*time.Hour),
			RotateRefreshOnUse: getEnvAsBool("ROTATE_REFRESH_ON_USE", false),
			TOTPEncryptionKey:  totpKey,
			TOTPIssuer:         getEnv("TOTP_ISSUER", "Helix"),
			CookieDomain:       getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:       env == "production" || getEnvAsBool("COOKIE_SECURE", false),
			CookieSameSite:     getEnv("COOKIE_SAMESITE", "strict"),
		},
		OAuth: OAuthConfig{
			GoogleClientID: getEnv("GOOGLE_CLIENT_ID", ""),
			AppleClientID:  getEnv("APPLE_CLIENT_ID", ""),
			RequestTimeout: getEnvAsDuration("OAUTH_REQUEST_TIMEOUT", 10*time.Second),
		},
		Email: EmailConfig{
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			FromAddress:    getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
			BaseURL:        getEnv("EMAIL_BASE_URL", "http://localhost:8080"),
			TokenExpiry:    getEnvAsDuration("EMAIL_TOKEN_EXPIRY", 24*time.Hour),
			DeletionExpiry: getEnvAsDuration("DELETION_TOKEN_EXPIRY", 24*time.Hour),
		},
		Deletion: DeletionConfig{
			GracePeriodDays:    getEnvAsInt("DELETION_GRACE_PERIOD_DAYS", 14),
			ReminderOffsetDays: parseIntList(getEnv("DELETION_REMINDER_OFFSET_DAYS", "7,1")),
			SweepInterval:      getEnvAsDuration("DELETION_SWEEP_INTERVAL", 24*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Deletion.GracePeriodDays < 1 {
		return nil, fmt.Errorf("DELETION_GRACE_PERIOD_DAYS must be at least 1")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for the JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseTOTPKey decodes the base64 AES key, generating nothing: an empty
// value disables TOTP enrollment, anything else must decode to 32 bytes.
func parseTOTPKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseIntList(value string) []int {
	parts := strings.Split(value, ",")
	ints := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && n > 0 {
			ints = append(ints, n)
		}
	}
	return ints
}

func parseStringList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // No origins by default in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
