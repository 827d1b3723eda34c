package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	PublicBaseURL      string
	FrontendBaseURL    string
	CORSAllowedOrigins []string

	GatewayAccessToken string
	GatewayBaseURL     string
	GatewaySandbox     bool
	GatewayTimeout     time.Duration

	StoreDriver string
	RedisURL    string
	TxnTTL      time.Duration
	SweepEvery  time.Duration

	WebhookReplayTTL time.Duration
	LockTTL          time.Duration

	PushPingInterval time.Duration
	PushPongWait     time.Duration
	PushWriteTimeout time.Duration

	CreateRateWindow time.Duration
	CreateRateMax    int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		FrontendBaseURL:    strings.TrimRight(strings.TrimSpace(k.String("FRONTEND_BASE_URL")), "/"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		GatewayAccessToken: k.String("GATEWAY_ACCESS_TOKEN"),
		GatewayBaseURL:     strings.TrimSpace(k.String("GATEWAY_BASE_URL")),
		GatewaySandbox:     parseBool(k.String("GATEWAY_SANDBOX")),
		GatewayTimeout:     parseDuration(k.String("GATEWAY_TIMEOUT"), "5s"),
		StoreDriver:        strings.ToLower(valueOrDefault(k.String("STORE_DRIVER"), "redis")),
		RedisURL:           k.String("REDIS_URL"),
		TxnTTL:             parseDuration(k.String("TXN_TTL"), "6h"),
		SweepEvery:         parseDuration(k.String("TXN_SWEEP_INTERVAL"), "5m"),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "10m"),
		LockTTL:            parseDuration(k.String("TXN_LOCK_TTL"), "30s"),
		PushPingInterval:   parseDuration(k.String("PUSH_PING_INTERVAL"), "30s"),
		PushPongWait:       parseDuration(k.String("PUSH_PONG_WAIT"), "60s"),
		PushWriteTimeout:   parseDuration(k.String("PUSH_WRITE_TIMEOUT"), "10s"),
		CreateRateWindow:   parseDuration(k.String("CREATE_RATE_WINDOW"), "1m"),
		CreateRateMax:      int(k.Int64("CREATE_RATE_MAX")),
	}

	if cfg.FrontendBaseURL == "" {
		cfg.FrontendBaseURL = cfg.PublicBaseURL
	}
	if cfg.CreateRateMax <= 0 {
		cfg.CreateRateMax = 60
	}

	if cfg.GatewayAccessToken == "" {
		return nil, errors.New("GATEWAY_ACCESS_TOKEN is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required")
	}
	switch cfg.StoreDriver {
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when STORE_DRIVER=redis")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
