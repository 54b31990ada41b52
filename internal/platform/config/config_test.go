package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_STR", "value")
	t.Setenv("CFG_INT", "12")
	t.Setenv("CFG_BAD_INT", "twelve")
	t.Setenv("CFG_BOOL", "false")
	t.Setenv("CFG_DUR", "250ms")

	if got := GetEnv("CFG_STR", "x"); got != "value" {
		t.Errorf("GetEnv: got %q", got)
	}
	if got := GetEnv("CFG_UNSET", "x"); got != "x" {
		t.Errorf("GetEnv fallback: got %q", got)
	}
	if got := GetEnvInt("CFG_INT", 1); got != 12 {
		t.Errorf("GetEnvInt: got %d", got)
	}
	if got := GetEnvInt("CFG_BAD_INT", 1); got != 1 {
		t.Errorf("GetEnvInt invalid: got %d", got)
	}
	if got := GetEnvBool("CFG_BOOL", true); got {
		t.Error("GetEnvBool: expected false")
	}
	if got := GetEnvDuration("CFG_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("GetEnvDuration: got %v", got)
	}
	if got := GetEnvDuration("CFG_STR", time.Second); got != time.Second {
		t.Errorf("GetEnvDuration invalid: got %v", got)
	}
}

func TestFromEnv_defaults(t *testing.T) {
	s := FromEnv()
	if s.Port != "8080" || !s.EngineEnabled || s.RetryBurst != 5 || s.RetryInterval != 10*time.Second {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.BackBuffer != 90*time.Second {
		t.Errorf("back buffer default: %v", s.BackBuffer)
	}
}

func TestFromEnv_overrides(t *testing.T) {
	t.Setenv("ENGINE_ENABLED", "false")
	t.Setenv("NATIVE_HLS", "true")
	t.Setenv("RETRY_BURST", "2")
	t.Setenv("RETRY_INTERVAL", "1m")

	s := FromEnv()
	if s.EngineEnabled || !s.NativeHLS || s.RetryBurst != 2 || s.RetryInterval != time.Minute {
		t.Errorf("overrides not applied: %+v", s)
	}
}

func TestLoad_dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CFG_FROM_FILE=yes\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CFG_FROM_FILE") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("CFG_FROM_FILE", ""); got != "yes" {
		t.Errorf("expected value from .env, got %q", got)
	}
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
