// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Agent service settings.
	AgentURL       string        // Base URL of the agent service.
	TenantID       string        // Tenant scope sent with every request.
	APIKey         string        // API key exchanged for bearer tokens.
	RequestTimeout time.Duration // Timeout for blocking agent calls.

	// Run settings.
	StreamTimeout time.Duration // Per-event wait before the stream is declared stalled.

	// History settings.
	HistoryPath  string // SQLite file location; empty means the per-user default.
	HistoryLimit int    // Rows shown by the history listing.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		AgentURL:       envStr("KOTAE_AGENT_URL", "http://localhost:8000"),
		TenantID:       envStr("KOTAE_TENANT_ID", "default"),
		APIKey:         envStr("KOTAE_API_KEY", ""),
		RequestTimeout: envDuration("KOTAE_REQUEST_TIMEOUT", 60*time.Second),
		StreamTimeout:  envDuration("KOTAE_STREAM_TIMEOUT", 30*time.Second),
		HistoryPath:    envStr("KOTAE_HISTORY_PATH", ""),
		HistoryLimit:   envInt("KOTAE_HISTORY_LIMIT", 50),
		OTELEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:   envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:    envStr("OTEL_SERVICE_NAME", "kotae"),
		LogLevel:       envStr("KOTAE_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.AgentURL == "" {
		return fmt.Errorf("config: KOTAE_AGENT_URL is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("config: KOTAE_TENANT_ID is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: KOTAE_REQUEST_TIMEOUT must be positive")
	}
	if c.StreamTimeout <= 0 {
		return fmt.Errorf("config: KOTAE_STREAM_TIMEOUT must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("config: KOTAE_HISTORY_LIMIT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
