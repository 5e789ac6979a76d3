package kaiun

import (
	"log/slog"

	"github.com/ashita-ai/kaiun/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds overrides applied on top of environment config.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	notifyURL   string
	store       string
	sqlitePath  string
	seedFile    string
	logger      *slog.Logger
	version     string
	voiceTable  []byte
}

func (o resolvedOptions) apply(cfg *config.Config) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.store != "" {
		cfg.Store = o.store
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.seedFile != "" {
		cfg.SeedFile = o.seedFile
	}
}

// WithPort overrides the TCP port from config (KAIUN_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when queries go through a connection pooler such as PgBouncer,
// since LISTEN needs a direct connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithStore selects the record store backend: "postgres", "sqlite", or
// "memory" (KAIUN_STORE env var).
func WithStore(backend string) Option {
	return func(o *resolvedOptions) { o.store = backend }
}

// WithSQLitePath overrides the SQLite database file (KAIUN_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithSeedFile upserts the shipments in a JSON file at startup (KAIUN_SEED_FILE env var).
func WithSeedFile(path string) Option {
	return func(o *resolvedOptions) { o.seedFile = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported by /health, get_server_status, and MCP.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithVoiceTable replaces the built-in voice operation table with a YAML
// document of the same shape.
func WithVoiceTable(yamlDoc []byte) Option {
	return func(o *resolvedOptions) { o.voiceTable = yamlDoc }
}
