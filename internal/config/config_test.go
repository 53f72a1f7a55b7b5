package config

import (
	"encoding/base64"
	"os"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	t.Cleanup(os.Clearenv)
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Auth.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("AccessTokenExpiry: got %v, want 15m", cfg.Auth.AccessTokenExpiry)
	}
	if cfg.Auth.SessionLifetime != 30*24*time.Hour {
		t.Errorf("SessionLifetime: got %v, want 720h", cfg.Auth.SessionLifetime)
	}
	if cfg.Auth.RotateRefreshOnUse {
		t.Error("RotateRefreshOnUse: got true, want false by default")
	}
	if cfg.Deletion.GracePeriodDays != 14 {
		t.Errorf("GracePeriodDays: got %d, want 14", cfg.Deletion.GracePeriodDays)
	}
	if len(cfg.Deletion.ReminderOffsetDays) != 2 || cfg.Deletion.ReminderOffsetDays[0] != 7 || cfg.Deletion.ReminderOffsetDays[1] != 1 {
		t.Errorf("ReminderOffsetDays: got %v, want [7 1]", cfg.Deletion.ReminderOffsetDays)
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_PASSWORD", "test")
	t.Cleanup(os.Clearenv)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for missing JWT_SECRET")
	}
}

func TestLoad_WeakJWTSecretRejected(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_SECRET", "short")
	os.Setenv("DB_PASSWORD", "test")
	t.Cleanup(os.Clearenv)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for short JWT_SECRET")
	}
}

func TestLoad_TOTPKey(t *testing.T) {
	setRequiredEnv(t)

	key := make([]byte, 32)
	os.Setenv("TOTP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if len(cfg.Auth.TOTPEncryptionKey) != 32 {
		t.Errorf("TOTPEncryptionKey length: got %d, want 32", len(cfg.Auth.TOTPEncryptionKey))
	}
}

func TestLoad_TOTPKeyWrongLength(t *testing.T) {
	setRequiredEnv(t)

	os.Setenv("TOTP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short")))

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for short TOTP key")
	}
}

func TestLoad_CustomDeletionConfig(t *testing.T) {
	setRequiredEnv(t)

	os.Setenv("DELETION_GRACE_PERIOD_DAYS", "30")
	os.Setenv("DELETION_REMINDER_OFFSET_DAYS", "14, 3,1")
	os.Setenv("DELETION_SWEEP_INTERVAL", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Deletion.GracePeriodDays != 30 {
		t.Errorf("GracePeriodDays: got %d, want 30", cfg.Deletion.GracePeriodDays)
	}
	if len(cfg.Deletion.ReminderOffsetDays) != 3 {
		t.Errorf("ReminderOffsetDays: got %v, want 3 entries", cfg.Deletion.ReminderOffsetDays)
	}
	if cfg.Deletion.SweepInterval != time.Hour {
		t.Errorf("SweepInterval: got %v, want 1h", cfg.Deletion.SweepInterval)
	}
}
