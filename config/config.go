package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Pool      PoolConfig
	Scraper   ScraperConfig
	Cache     CacheConfig
	Recipes   RecipesConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8000
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the proxy URL for all browser traffic.
	Proxy string

	// Stealth enables the anti-bot evasion script on every page.
	Stealth bool // default: true
}

// PoolConfig controls the browser context pool.
type PoolConfig struct {
	// MaxContexts is the pool capacity (max concurrent scrapes).
	MaxContexts int // default: 5

	// ContextTTL is the number of lends before a context is recycled.
	ContextTTL int // default: 20

	// AcquireTimeout bounds how long a request waits for a context.
	AcquireTimeout time.Duration // default: 30s

	// PageTimeout is the per-operation deadline on lent pages.
	PageTimeout time.Duration // default: 30s

	// QueueSize caps the number of requests waiting for a context.
	QueueSize int // default: 50
}

// ScraperConfig controls scraping behavior.
type ScraperConfig struct {
	// DefaultTimeout is the per-scrape deadline.
	DefaultTimeout time.Duration // default: 60s
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// TTL is the fresh window. Zero disables caching.
	TTL time.Duration // default: 5m

	// StaleTTL is the serve-while-refreshing window after TTL.
	StaleTTL time.Duration // default: 1h

	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000
}

// RecipesConfig controls recipe discovery.
type RecipesConfig struct {
	// Dir is the directory scanned for recipe folders.
	Dir string // default: "recipes"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-client rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per client.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("W2A_HOST", "0.0.0.0"),
			Port: envIntOr("W2A_PORT", 8000),
			Mode: envOr("W2A_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("W2A_HEADLESS", true),
			NoSandbox:  envBoolOr("W2A_NO_SANDBOX", false),
			BrowserBin: os.Getenv("W2A_BROWSER_BIN"),
			Proxy:      os.Getenv("W2A_PROXY"),
			Stealth:    envBoolOr("W2A_STEALTH", true),
		},
		Pool: PoolConfig{
			MaxContexts:    envIntOr("W2A_MAX_CONTEXTS", 5),
			ContextTTL:     envIntOr("W2A_CONTEXT_TTL", 20),
			AcquireTimeout: envDurationOr("W2A_ACQUIRE_TIMEOUT", 30*time.Second),
			PageTimeout:    envDurationOr("W2A_PAGE_TIMEOUT", 30*time.Second),
			QueueSize:      envIntOr("W2A_QUEUE_SIZE", 50),
		},
		Scraper: ScraperConfig{
			DefaultTimeout: envDurationOr("W2A_SCRAPE_TIMEOUT", 60*time.Second),
		},
		Cache: CacheConfig{
			TTL:        envDurationOr("W2A_CACHE_TTL", 5*time.Minute),
			StaleTTL:   envDurationOr("W2A_CACHE_STALE_TTL", time.Hour),
			MaxEntries: envIntOr("W2A_CACHE_MAX_ENTRIES", 1000),
		},
		Recipes: RecipesConfig{
			Dir: envOr("W2A_RECIPES_DIR", "recipes"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("W2A_AUTH_ENABLED", false),
			APIKeys: envSliceOr("W2A_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("W2A_RATE_RPS", 5.0),
			Burst:             envIntOr("W2A_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("W2A_LOG_LEVEL", "info"),
			Format: envOr("W2A_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
