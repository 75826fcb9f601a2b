// Package config provides environment configuration for the client.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the sync layer.
type Config struct {
	// Backend settings
	BaseURL        string
	RequestTimeout time.Duration

	// Retry policy for reads
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Cache staleness windows
	ListStaleTTL   time.Duration
	DetailStaleTTL time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// Mock server settings
	MockPort              string
	MockRateLimitRequests int
	MockRateLimitWindow   time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Backend
		BaseURL:        getEnv("CHATSYNC_API_URL", "http://localhost:8000"),
		RequestTimeout: getDurationEnv("CHATSYNC_REQUEST_TIMEOUT", 30*time.Second),

		// Retry
		MaxRetries:  getIntEnv("CHATSYNC_MAX_RETRIES", 3),
		BackoffBase: getDurationEnv("CHATSYNC_BACKOFF_BASE", 500*time.Millisecond),
		BackoffMax:  getDurationEnv("CHATSYNC_BACKOFF_MAX", 30*time.Second),

		// Cache
		ListStaleTTL:   getDurationEnv("CHATSYNC_LIST_STALE_TTL", time.Minute),
		DetailStaleTTL: getDurationEnv("CHATSYNC_DETAIL_STALE_TTL", 30*time.Second),

		// Logging
		LogLevel: getEnv("CHATSYNC_LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("CHATSYNC_TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("CHATSYNC_TRACING_ENABLED", false),

		// Mock server
		MockPort:              getEnv("MOCKSERVER_PORT", "8000"),
		MockRateLimitRequests: getIntEnv("MOCKSERVER_RATE_LIMIT_REQUESTS", 120),
		MockRateLimitWindow:   getDurationEnv("MOCKSERVER_RATE_LIMIT_WINDOW", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
