// Package config provides environment configuration for the sync daemon.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Local bridge settings
	BridgeAddr         string
	BridgeSecret       string
	BridgeReadTimeout  time.Duration
	BridgeWriteTimeout time.Duration
	BridgeOrigins      []string

	// Server API settings
	APIBaseURL   string
	APITimeout   time.Duration
	SessionToken string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// NATSCreateOutbox creates the outbox stream when it is missing.
	NATSCreateOutbox bool

	// Sync behaviour
	PageSize         int
	SendTimeout      time.Duration
	TypingIdle       time.Duration
	TypingExpiry     time.Duration
	NoticeBufferSize int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Bridge
		BridgeAddr:         getEnv("BRIDGE_ADDR", "127.0.0.1:7777"),
		BridgeSecret:       getEnv("BRIDGE_SECRET", "development-secret-change-in-production"),
		BridgeReadTimeout:  getDurationEnv("BRIDGE_READ_TIMEOUT", 30*time.Second),
		BridgeWriteTimeout: getDurationEnv("BRIDGE_WRITE_TIMEOUT", 0),
		BridgeOrigins:      getListEnv("BRIDGE_ALLOWED_ORIGINS"),

		// Server API
		APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		APITimeout:   getDurationEnv("API_TIMEOUT", 15*time.Second),
		SessionToken: getEnv("SESSION_TOKEN", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		NATSCreateOutbox: getBoolEnv("NATS_CREATE_OUTBOX", false),

		// Sync
		PageSize:         getIntEnv("PAGE_SIZE", 30),
		SendTimeout:      getDurationEnv("SEND_TIMEOUT", 8*time.Second),
		TypingIdle:       getDurationEnv("TYPING_IDLE", 2*time.Second),
		TypingExpiry:     getDurationEnv("TYPING_EXPIRY", 4*time.Second),
		NoticeBufferSize: getIntEnv("NOTICE_BUFFER_SIZE", 64),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 600),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
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

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
