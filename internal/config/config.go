// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Record store settings.
	Store       string // "postgres", "sqlite", or "memory"
	DatabaseURL string // PgBouncer or direct Postgres URL for queries.
	NotifyURL   string // Direct Postgres URL for LISTEN/NOTIFY; empty keeps the change feed in process.
	SQLitePath  string
	SeedFile    string // JSON array of shipments upserted at startup.

	// Rate limiting. With RedisURL set the limit is shared across replicas.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
	RedisURL         string

	// Tool dispatch.
	ToolTimeout        time.Duration
	MaxConcurrentCalls int

	// Streaming sessions.
	SessionIdleTimeout  time.Duration
	SessionReapInterval time.Duration
	SessionQueueSize    int

	// Analytics engine.
	AnalyticsEngineURL string
	AnalyticsTimeout   time.Duration

	// API key auth. Empty APIKeyHash leaves the API open.
	APIKeyHash        string
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Customer portal links.
	PortalBaseURL string
	PortalLinkTTL time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	l := &loader{}
	cfg := Config{
		Port:            l.int("KAIUN_PORT", 8080),
		ReadTimeout:     l.duration("KAIUN_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    l.duration("KAIUN_WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: l.duration("KAIUN_SHUTDOWN_TIMEOUT", 15*time.Second),

		Store:       strings.ToLower(envStr("KAIUN_STORE", StoreSQLite)),
		DatabaseURL: envStr("DATABASE_URL", ""),
		NotifyURL:   envStr("NOTIFY_URL", ""),
		SQLitePath:  envStr("KAIUN_SQLITE_PATH", "kaiun.db"),
		SeedFile:    envStr("KAIUN_SEED_FILE", ""),

		RateLimitEnabled: l.bool("KAIUN_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     l.float("KAIUN_RATE_LIMIT_RPS", 10),
		RateLimitBurst:   l.int("KAIUN_RATE_LIMIT_BURST", 20),
		RedisURL:         envStr("REDIS_URL", ""),

		ToolTimeout:        l.duration("KAIUN_TOOL_TIMEOUT", 30*time.Second),
		MaxConcurrentCalls: l.int("KAIUN_MAX_CONCURRENT_CALLS", 64),

		SessionIdleTimeout:  l.duration("KAIUN_SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionReapInterval: l.duration("KAIUN_SESSION_REAP_INTERVAL", time.Minute),
		SessionQueueSize:    l.int("KAIUN_SESSION_QUEUE_SIZE", 64),

		AnalyticsEngineURL: envStr("KAIUN_ANALYTICS_ENGINE_URL", ""),
		AnalyticsTimeout:   l.duration("KAIUN_ANALYTICS_TIMEOUT", 30*time.Second),

		APIKeyHash:        envStr("KAIUN_API_KEY_HASH", ""),
		JWTPrivateKeyPath: envStr("KAIUN_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("KAIUN_JWT_PUBLIC_KEY", ""),
		JWTExpiration:     l.duration("KAIUN_JWT_EXPIRATION", 24*time.Hour),

		PortalBaseURL: strings.TrimRight(envStr("KAIUN_PORTAL_BASE_URL", ""), "/"),
		PortalLinkTTL: l.duration("KAIUN_PORTAL_LINK_TTL", 30*24*time.Hour),

		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "kaiun"),
		OTELInsecure: l.bool("KAIUN_OTEL_INSECURE", false),

		LogLevel:            strings.ToLower(envStr("KAIUN_LOG_LEVEL", "info")),
		MaxRequestBodyBytes: int64(l.int("KAIUN_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
	}
	if err := l.err(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: KAIUN_PORT must be between 0 and 65535"))
	}
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("config: DATABASE_URL is required when KAIUN_STORE=postgres"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("config: KAIUN_SQLITE_PATH is required when KAIUN_STORE=sqlite"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("config: KAIUN_STORE must be postgres, sqlite, or memory, got %q", c.Store))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, fmt.Errorf("config: KAIUN_RATE_LIMIT_RPS and KAIUN_RATE_LIMIT_BURST must be positive"))
	}
	if c.ToolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: KAIUN_TOOL_TIMEOUT must be positive"))
	}
	if c.MaxConcurrentCalls <= 0 {
		errs = append(errs, fmt.Errorf("config: KAIUN_MAX_CONCURRENT_CALLS must be positive"))
	}
	if c.SessionIdleTimeout <= 0 || c.SessionReapInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: KAIUN_SESSION_IDLE_TIMEOUT and KAIUN_SESSION_REAP_INTERVAL must be positive"))
	}
	if c.SessionQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("config: KAIUN_SESSION_QUEUE_SIZE must be positive"))
	}
	if c.JWTExpiration <= 0 || c.PortalLinkTTL <= 0 {
		errs = append(errs, fmt.Errorf("config: KAIUN_JWT_EXPIRATION and KAIUN_PORTAL_LINK_TTL must be positive"))
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		errs = append(errs, fmt.Errorf("config: KAIUN_JWT_PRIVATE_KEY and KAIUN_JWT_PUBLIC_KEY must be set together"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: KAIUN_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("config: KAIUN_LOG_LEVEL must be debug, info, warn, or error, got %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, bool) {
	switch s {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// loader collects parse failures so Load can report all of them at once.
type loader struct{ errs []error }

func (l *loader) int(key string, defaultVal int) int {
	v, err := envInt(key, defaultVal)
	l.add(err)
	return v
}

func (l *loader) float(key string, defaultVal float64) float64 {
	v, err := envFloat(key, defaultVal)
	l.add(err)
	return v
}

func (l *loader) bool(key string, defaultVal bool) bool {
	v, err := envBool(key, defaultVal)
	l.add(err)
	return v
}

func (l *loader) duration(key string, defaultVal time.Duration) time.Duration {
	v, err := envDuration(key, defaultVal)
	l.add(err)
	return v
}

func (l *loader) add(err error) {
	if err != nil {
		l.errs = append(l.errs, err)
	}
}

func (l *loader) err() error { return errors.Join(l.errs...) }

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
