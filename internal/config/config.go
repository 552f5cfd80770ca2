package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the warehouse chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	SessionJanitorInterval   time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	ResponderMode    string
	ResponderHTTPURL string

	WarehouseDSN          string
	WarehouseQueryTimeout time.Duration
	WarehouseMaxRows      int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "flakewise"),
		AllowAnyOrigin:           false,
		ResponderMode:            envOrDefault("RESPONDER_MODE", "auto"),
		ResponderHTTPURL:         stringsTrimSpace("RESPONDER_HTTP_URL"),
		WarehouseDSN:             stringsTrimSpace("WAREHOUSE_DSN"),
		WarehouseQueryTimeout:    30 * time.Second,
		WarehouseMaxRows:         1000,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		SessionJanitorInterval:   15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionJanitorInterval, err = durationFromEnv("APP_SESSION_JANITOR_INTERVAL", cfg.SessionJanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.WarehouseQueryTimeout, err = durationFromEnv("WAREHOUSE_QUERY_TIMEOUT", cfg.WarehouseQueryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WarehouseMaxRows, err = intFromEnv("WAREHOUSE_MAX_ROWS", cfg.WarehouseMaxRows)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.WarehouseQueryTimeout <= 0 {
		return Config{}, fmt.Errorf("WAREHOUSE_QUERY_TIMEOUT must be positive")
	}
	if cfg.WarehouseMaxRows <= 0 {
		return Config{}, fmt.Errorf("WAREHOUSE_MAX_ROWS must be positive")
	}
	switch cfg.ResponderMode {
	case "auto", "static", "http":
	default:
		return Config{}, fmt.Errorf("RESPONDER_MODE must be auto, static or http")
	}
	if cfg.ResponderMode == "http" && cfg.ResponderHTTPURL == "" {
		return Config{}, fmt.Errorf("RESPONDER_HTTP_URL is required when RESPONDER_MODE=http")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
