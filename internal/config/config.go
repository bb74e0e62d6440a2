package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                    string `yaml:"port"`
	AllowedOrigin           string `yaml:"allowed_origin"`
	DataDir                 string `yaml:"data_dir"`
	StateDB                 string `yaml:"state_db"`
	DatabaseURL             string `yaml:"database_url"`
	RedisAddr               string `yaml:"redis_addr"`
	RedisPassword           string `yaml:"redis_password"`
	RedisDB                 int    `yaml:"redis_db"`
	AuthSecret              string `yaml:"auth_secret"`
	AccessTokenTTLMinutes   int    `yaml:"access_token_ttl_minutes"`
	AutosaveDelayMS         int    `yaml:"autosave_delay_ms"`
	PairingMode             string `yaml:"pairing_mode"`
	RelayURL                string `yaml:"relay_url"`
	RelayAddr               string `yaml:"relay_addr"`
	PublicBaseURL           string `yaml:"public_base_url"`
	PairingTicketTTLMinutes int    `yaml:"pairing_ticket_ttl_minutes"`
	SeedAdminPassword       string `yaml:"seed_admin_password"`
}

func defaults() Config {
	return Config{
		Port:                    "8080",
		AllowedOrigin:           "http://127.0.0.1:3000",
		StateDB:                 "pos-state.db",
		AccessTokenTTLMinutes:   480,
		AutosaveDelayMS:         2000,
		PairingMode:             "peer",
		RelayAddr:               ":8090",
		PairingTicketTTLMinutes: 10,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables. A missing or unreadable
// CONFIG_FILE is an error; every other problem falls back to defaults.
func Load() (Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.StateDB = getEnv("STATE_DB", cfg.StateDB)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB, 0)
	cfg.AuthSecret = strings.TrimSpace(getEnv("AUTH_SECRET", cfg.AuthSecret))
	cfg.AccessTokenTTLMinutes = getEnvInt("ACCESS_TOKEN_TTL_MINUTES", cfg.AccessTokenTTLMinutes, 1)
	cfg.AutosaveDelayMS = getEnvInt("AUTOSAVE_DELAY_MS", cfg.AutosaveDelayMS, 1)
	cfg.PairingMode = strings.ToLower(strings.TrimSpace(getEnv("PAIRING_MODE", cfg.PairingMode)))
	cfg.RelayURL = getEnv("RELAY_URL", cfg.RelayURL)
	cfg.RelayAddr = getEnv("RELAY_ADDR", cfg.RelayAddr)
	cfg.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", cfg.PublicBaseURL), "/")
	cfg.PairingTicketTTLMinutes = getEnvInt("PAIRING_TICKET_TTL_MINUTES", cfg.PairingTicketTTLMinutes, 1)
	cfg.SeedAdminPassword = getEnv("SEED_ADMIN_PASSWORD", cfg.SeedAdminPassword)

	switch cfg.PairingMode {
	case "peer", "relay", "off":
	default:
		return cfg, fmt.Errorf("PAIRING_MODE must be peer, relay or off, got %q", cfg.PairingMode)
	}
	if cfg.PairingMode == "relay" && cfg.RelayURL == "" {
		return cfg, fmt.Errorf("PAIRING_MODE=relay needs RELAY_URL")
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(body, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) AutosaveDelay() time.Duration {
	return time.Duration(c.AutosaveDelayMS) * time.Millisecond
}

func (c Config) PairingTicketTTL() time.Duration {
	return time.Duration(c.PairingTicketTTLMinutes) * time.Minute
}

// BaseURL is where phones reach this server when PUBLIC_BASE_URL is unset.
func (c Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL
	}
	return "http://127.0.0.1:" + c.Port
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int, minimum int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < minimum {
		return fallback
	}
	return n
}
