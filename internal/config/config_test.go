package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "ALLOWED_ORIGIN", "DATA_DIR", "STATE_DB", "DATABASE_URL",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES",
		"AUTOSAVE_DELAY_MS", "PAIRING_MODE", "RELAY_URL", "RELAY_ADDR", "PUBLIC_BASE_URL",
		"PAIRING_TICKET_TTL_MINUTES", "SEED_ADMIN_PASSWORD",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.SeedAdminPassword != "" {
		t.Fatalf("expected empty SEED_ADMIN_PASSWORD when unset, got %q", cfg.SeedAdminPassword)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
	if cfg.AutosaveDelay() != 2*time.Second {
		t.Fatalf("expected 2s autosave delay, got %s", cfg.AutosaveDelay())
	}
	if cfg.PairingMode != "peer" {
		t.Fatalf("expected peer pairing by default, got %s", cfg.PairingMode)
	}
	if cfg.BaseURL() != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected base url %s", cfg.BaseURL())
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pos.yaml")
	body := "port: \"9000\"\nautosave_delay_ms: 500\npairing_mode: \"off\"\nredis_addr: cache:6379\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != "9100" {
		t.Fatalf("expected env port to win, got %s", cfg.Port)
	}
	if cfg.AutosaveDelayMS != 500 || cfg.PairingMode != "off" || cfg.RedisAddr != "cache:6379" {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.AccessTokenTTL() != 8*time.Hour {
		t.Fatalf("expected invalid ttl to fall back, got %s", cfg.AccessTokenTTL())
	}
}

func TestLoadRejectsBadPairingMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAIRING_MODE", "bluetooth")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown pairing mode to fail")
	}

	t.Setenv("PAIRING_MODE", "relay")
	if _, err := Load(); err == nil {
		t.Fatalf("expected relay mode without RELAY_URL to fail")
	}

	t.Setenv("RELAY_URL", "http://relay.local:8090")
	if _, err := Load(); err != nil {
		t.Fatalf("expected relay mode with url to load: %v", err)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing config file to fail")
	}
}
