// Package kaiun is the public API for embedding the kaiun shipment tool
// server.
//
//	app, err := kaiun.New(
//	    kaiun.WithVersion(version),
//	    kaiun.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the reverse. Public types
// (ToolInfo) are standalone structs; conversion from internal descriptors
// lives here because this is the only package that sees both sides.
package kaiun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/ashita-ai/kaiun/internal/analytics"
	"github.com/ashita-ai/kaiun/internal/auth"
	"github.com/ashita-ai/kaiun/internal/config"
	"github.com/ashita-ai/kaiun/internal/jsonrpc"
	"github.com/ashita-ai/kaiun/internal/mcp"
	"github.com/ashita-ai/kaiun/internal/query"
	"github.com/ashita-ai/kaiun/internal/ratelimit"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/server"
	"github.com/ashita-ai/kaiun/internal/session"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/storage/memory"
	"github.com/ashita-ai/kaiun/internal/storage/sqlite"
	"github.com/ashita-ai/kaiun/internal/telemetry"
	"github.com/ashita-ai/kaiun/internal/tools"
	"github.com/ashita-ai/kaiun/internal/voice"
	"github.com/ashita-ai/kaiun/migrations"
)

// rateLimitPrefix namespaces limiter keys in a shared Redis.
const rateLimitPrefix = "kaiun:ratelimit"

// App is the kaiun server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        storage.Store
	closeStore   func(context.Context) error
	srv          *server.Server
	sessions     *session.Manager
	broker       *server.Broker
	limiter      ratelimit.Limiter
	registry     *registry.Registry
	reaper       *cron.Cron
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the kaiun server. It opens the record store, runs
// migrations, seeds records when a seed file is configured, wires every
// transport onto one tool registry, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kaiun starting", "version", version, "port", cfg.Port, "store", cfg.Store)

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	app := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}
	if err := app.wire(o); err != nil {
		app.release(context.Background())
		return nil, err
	}
	return app, nil
}

// wire builds every subsystem. On error the caller releases whatever was
// opened so far.
func (a *App) wire(o resolvedOptions) error {
	ctx := context.Background()
	cfg := a.cfg

	var notifier server.Notifier
	switch cfg.Store {
	case config.StorePostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, a.logger)
		if err != nil {
			return err
		}
		a.store = db
		a.closeStore = func(ctx context.Context) error { db.Close(ctx); return nil }
		db.RegisterPoolMetrics()
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		if db.HasNotifyConn() {
			notifier = db
		}
	case config.StoreSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.store = st
		a.closeStore = func(context.Context) error { return st.Close() }
	default:
		a.store = memory.New()
		a.closeStore = func(context.Context) error { return nil }
	}

	if cfg.SeedFile != "" {
		n, err := seedFile(ctx, a.store, cfg.SeedFile)
		if err != nil {
			return err
		}
		a.logger.Info("seeded shipments", "file", cfg.SeedFile, "count", n)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration,
		auth.WithPortal(cfg.PortalBaseURL, cfg.PortalLinkTTL))
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}
	var keys *auth.KeyVerifier
	if cfg.APIKeyHash != "" {
		if keys, err = auth.NewKeyVerifier(cfg.APIKeyHash); err != nil {
			return fmt.Errorf("api key hash: %w", err)
		}
	} else {
		a.logger.Warn("KAIUN_API_KEY_HASH not set, API routes are unauthenticated")
	}

	a.broker = server.NewBroker(notifier, a.logger)
	a.sessions = session.NewManager(
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithQueueSize(cfg.SessionQueueSize),
		session.WithLogger(a.logger),
	)

	a.registry = registry.New(
		registry.WithLogger(a.logger),
		registry.WithTimeout(cfg.ToolTimeout),
		registry.WithMaxConcurrent(cfg.MaxConcurrentCalls),
	)
	catalogOpts := []tools.Option{
		tools.WithPortal(jwtMgr),
		tools.WithEvents(a.broker),
		tools.WithSessionCount(a.sessions.Len),
		tools.WithVersion(a.version),
		tools.WithLogger(a.logger),
	}
	engineClient := analytics.New(cfg.AnalyticsEngineURL,
		analytics.WithTimeout(cfg.AnalyticsTimeout),
		analytics.WithLogger(a.logger),
	)
	if engineClient.Configured() {
		catalogOpts = append(catalogOpts,
			tools.WithDelayScorer(engineClient),
			tools.WithNotifier(engineClient),
			tools.WithTracker(engineClient),
			tools.WithDocuments(engineClient),
		)
	} else {
		a.logger.Info("analytics engine not configured, forecasting and live tracking tools will report unavailable")
	}
	tools.New(query.New(a.store), catalogOpts...).Register(a.registry)
	a.registry.Freeze()

	table := voice.DefaultTable()
	if len(o.voiceTable) > 0 {
		if table, err = voice.ParseTable(o.voiceTable); err != nil {
			return err
		}
	}
	if err := table.Validate(a.registry.Has); err != nil {
		return err
	}

	a.limiter, err = newLimiter(ctx, cfg, a.logger)
	if err != nil {
		return err
	}

	a.srv = server.New(server.ServerConfig{
		Registry:            a.registry,
		Dispatcher:          jsonrpc.NewDispatcher(a.registry, "kaiun", a.version),
		Sessions:            a.sessions,
		Voice:               voice.NewAdapter(a.registry, table, voice.TextRenderer{}, a.logger),
		Store:               a.store,
		JWTMgr:              jwtMgr,
		Logger:              a.logger,
		Keys:                keys,
		Limiter:             a.limiter,
		Broker:              a.broker,
		MCPServer:           mcp.New(a.registry, a.version, a.logger).MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             a.version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	a.reaper = cron.New()
	if _, err := a.reaper.AddFunc("@every "+cfg.SessionReapInterval.String(), a.reapSessions); err != nil {
		return fmt.Errorf("session reaper: %w", err)
	}
	return nil
}

func newLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (ratelimit.Limiter, error) {
	if !cfg.RateLimitEnabled {
		logger.Info("rate limiting disabled")
		return ratelimit.NoopLimiter{}, nil
	}
	if cfg.RedisURL != "" {
		// Fixed one-minute window sized to the same sustained rate.
		limit := int(cfg.RateLimitRPS * 60)
		l, err := ratelimit.DialRedisLimiter(ctx, cfg.RedisURL, rateLimitPrefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		logger.Info("rate limiting via redis", "limit_per_minute", limit)
		return l, nil
	}
	return ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst), nil
}

// Run starts the change feed, the session reaper, and the HTTP server, then
// blocks until ctx is cancelled or a fatal server error occurs. On return,
// Shutdown has already run.
func (a *App) Run(ctx context.Context) error {
	go a.broker.Start(ctx)
	a.reaper.Start()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.srv.Addr())
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("http server failed", "error", runErr)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown stops the server in phases:
// (1) stop accepting HTTP requests and drain in-flight ones,
// (2) close every streaming session,
// (3) stop the session reaper.
// It then closes the rate limiter, the record store, and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kaiun shutting down")

	// Phase 1: HTTP drain. Open streams hold their handlers until sessions
	// close, so the drain is bounded.
	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	drained := make(chan struct{})
	sessionsClosed := make(chan struct{})
	go func() {
		// Let in-flight RPCs finish before streams are torn down.
		select {
		case <-drained:
		case <-httpCtx.Done():
		case <-time.After(shutdownStreamGrace(a.cfg.ShutdownTimeout)):
		}
		a.sessions.CloseAll()
		close(sessionsClosed)
	}()
	var errs []error
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	close(drained)
	httpCancel()

	// Phase 2: sessions.
	<-sessionsClosed

	// Phase 3: reaper.
	<-a.reaper.Stop().Done()

	a.release(ctx)
	a.logger.Info("kaiun stopped")
	return errors.Join(errs...)
}

// release closes the resources New opened, in reverse order. Safe on a
// partially wired App.
func (a *App) release(ctx context.Context) {
	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			a.logger.Warn("rate limiter close", "error", err)
		}
	}
	if a.closeStore != nil {
		if err := a.closeStore(ctx); err != nil {
			a.logger.Warn("store close", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}
}

func (a *App) reapSessions() {
	if n := a.sessions.Reap(time.Now()); n > 0 {
		a.logger.Info("reaped idle sessions", "count", n, "active", a.sessions.Len())
	}
}

// Handler returns the fully wired HTTP handler, for embedding kaiun in
// another server or for tests.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// Tools describes the registered tool catalog in registration order.
func (a *App) Tools() []ToolInfo { return toToolInfo(a.registry.List()) }

// Seed upserts the shipments in the JSON file at path into the app's store.
func (a *App) Seed(ctx context.Context, path string) (int, error) {
	return seedFile(ctx, a.store, path)
}

// Close releases the store and other resources without starting the
// server. Use it after one-shot commands such as Seed.
func (a *App) Close(ctx context.Context) {
	a.sessions.CloseAll()
	a.release(ctx)
}

// Catalog returns the tool catalog without opening a store or reading
// configuration.
func Catalog() []ToolInfo {
	reg := registry.New()
	tools.New(query.New(memory.New())).Register(reg)
	reg.Freeze()
	return toToolInfo(reg.List())
}

func toToolInfo(ds []registry.Descriptor) []ToolInfo {
	out := make([]ToolInfo, 0, len(ds))
	for _, d := range ds {
		out = append(out, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			ReadOnly:    d.ReadOnly,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// shutdownStreamGrace is how long streams stay open while the HTTP drain
// waits on synchronous requests.
func shutdownStreamGrace(timeout time.Duration) time.Duration {
	const max = 2 * time.Second
	if timeout <= 0 || timeout > 2*max {
		return max
	}
	return timeout / 2
}
