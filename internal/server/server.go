package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kaiun/internal/auth"
	"github.com/ashita-ai/kaiun/internal/jsonrpc"
	"github.com/ashita-ai/kaiun/internal/ratelimit"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/session"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/voice"
)

// DefaultKeepAlive is the interval between SSE keepalive comments.
const DefaultKeepAlive = 15 * time.Second

// Server is the kaiun HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Keys, Limiter, Broker, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Registry   *registry.Registry
	Dispatcher *jsonrpc.Dispatcher
	Sessions   *session.Manager
	Voice      *voice.Adapter
	Store      storage.Store
	JWTMgr     *auth.JWTManager
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Keys      *auth.KeyVerifier // API key auth; nil leaves every route open.
	Limiter   ratelimit.Limiter
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	KeepAlive           time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	h := NewHandlers(HandlersDeps{
		Registry:            cfg.Registry,
		Dispatcher:          cfg.Dispatcher,
		Sessions:            cfg.Sessions,
		Voice:               cfg.Voice,
		Store:               cfg.Store,
		JWTMgr:              cfg.JWTMgr,
		Keys:                cfg.Keys,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		KeepAlive:           cfg.KeepAlive,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	limit := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Streaming transport. The event stream itself is long-lived and not
	// rate limited; posted requests are.
	mux.HandleFunc("GET /sse", h.HandleSSE)
	mux.Handle("POST /messages", limit(http.HandlerFunc(h.HandleMessages)))

	// Synchronous JSON-RPC.
	mux.Handle("POST /rpc", limit(http.HandlerFunc(h.HandleRPC)))

	// Voice webhook (no auth, text/plain answers).
	mux.Handle("POST /webhook", limit(http.HandlerFunc(h.HandleVoice)))
	mux.Handle("POST /voice", limit(http.HandlerFunc(h.HandleVoice)))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", limit(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	// Token exchange and customer portal (no auth, rate limited by IP).
	mux.Handle("POST /auth/token", limit(http.HandlerFunc(h.HandleAuthToken)))
	mux.Handle("GET /track/{token}", limit(http.HandlerFunc(h.HandlePortal)))

	// Change feed (long-lived connection, no rate limit).
	mux.HandleFunc("GET /v1/subscribe", h.HandleSubscribe)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Bearer tokens are only enforced when API key auth is configured.
	var authMgr *auth.JWTManager
	if cfg.Keys != nil {
		authMgr = cfg.JWTMgr
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(authMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
