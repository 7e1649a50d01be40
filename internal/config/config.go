package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL      = "http://localhost:3005"
	DefaultConsoleAddr = "127.0.0.1:5173"
	DefaultHTTPTimeout = 30 * time.Second
)

// Token store backends
const (
	TokenStoreMemory  = "memory"
	TokenStoreKeyring = "keyring"
)

// Config holds all configuration for the application
type Config struct {
	// Remote API Configuration
	API APIConfig

	// Local console Configuration
	Console ConsoleConfig

	// Logging Configuration
	Logging LoggingConfig
}

// APIConfig holds settings for talking to the remote account API
type APIConfig struct {
	URL        string
	Timeout    time.Duration
	TokenStore string // memory, keyring
	Tracing    bool
}

// ConsoleConfig holds settings for `userdesk serve`
type ConsoleConfig struct {
	Addr           string
	AllowedOrigins []string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	timeout := DefaultHTTPTimeout
	if raw := os.Getenv("USERDESK_HTTP_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid USERDESK_HTTP_TIMEOUT %q: %w", raw, err)
		}
		timeout = d
	}

	store := strings.ToLower(getenv("USERDESK_TOKEN_STORE", TokenStoreKeyring))
	if store != TokenStoreMemory && store != TokenStoreKeyring {
		return nil, fmt.Errorf("invalid USERDESK_TOKEN_STORE %q (want %s or %s)", store, TokenStoreMemory, TokenStoreKeyring)
	}

	tracing := false
	if raw := os.Getenv("USERDESK_TRACING"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid USERDESK_TRACING %q: %w", raw, err)
		}
		tracing = b
	}

	return &Config{
		API: APIConfig{
			// Empty means "not set"; the CLI falls back to the user config, then the default.
			URL:        strings.TrimRight(os.Getenv("USERDESK_API_URL"), "/"),
			Timeout:    timeout,
			TokenStore: store,
			Tracing:    tracing,
		},
		Console: ConsoleConfig{
			Addr:           getenv("USERDESK_CONSOLE_ADDR", DefaultConsoleAddr),
			AllowedOrigins: splitList(os.Getenv("USERDESK_CONSOLE_ORIGINS")),
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "warn"),
			Format: getenv("LOG_FORMAT", "console"),
		},
	}, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
