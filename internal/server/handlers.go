package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/kaiun/internal/auth"
	"github.com/ashita-ai/kaiun/internal/jsonrpc"
	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/session"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/voice"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	registry            *registry.Registry
	dispatcher          *jsonrpc.Dispatcher
	sessions            *session.Manager
	voice               *voice.Adapter
	store               storage.Store
	jwtMgr              *auth.JWTManager
	keys                *auth.KeyVerifier
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	keepAlive           time.Duration
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Keys, Broker.
type HandlersDeps struct {
	Registry            *registry.Registry
	Dispatcher          *jsonrpc.Dispatcher
	Sessions            *session.Manager
	Voice               *voice.Adapter
	Store               storage.Store
	JWTMgr              *auth.JWTManager
	Keys                *auth.KeyVerifier
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	KeepAlive           time.Duration
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		registry:            d.Registry,
		dispatcher:          d.Dispatcher,
		sessions:            d.Sessions,
		voice:               d.Voice,
		store:               d.Store,
		jwtMgr:              d.JWTMgr,
		keys:                d.Keys,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		keepAlive:           d.KeepAlive,
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil || h.jwtMgr == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "api key authentication is not enabled")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ClientID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "client_id and api_key are required")
		return
	}
	if !h.keys.Verify(req.APIKey) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.ClientID)
	if err != nil {
		h.logger.Error("issue token", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandlePortal handles GET /track/{token}: the public view behind a
// customer portal link.
func (h *Handlers) HandlePortal(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "tracking link is invalid or expired")
		return
	}
	shipmentID, expires, err := h.jwtMgr.PortalShipment(r.PathValue("token"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "tracking link is invalid or expired")
		return
	}

	s, err := h.store.Get(r.Context(), model.LookupID, shipmentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "shipment no longer exists")
			return
		}
		h.logger.Error("portal: load shipment", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, r, http.StatusOK, model.NewPortalView(s, expires))
}

// HandleSubscribe handles GET /v1/subscribe (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "change feed is not enabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	startStream(w)
	flusher.Flush()

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(h.keepAlive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health: store ping failed", "error", err)
		storeStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := model.HealthResponse{
		Status:         status,
		Version:        h.version,
		Store:          h.store.Name(),
		StoreStatus:    storeStatus,
		ActiveSessions: h.sessions.Len(),
		Tools:          h.registry.Len(),
		Uptime:         int64(time.Since(h.startedAt).Seconds()),
	}
	if h.broker != nil {
		resp.SSEBroker = h.broker.Mode()
	}

	writeJSON(w, r, httpStatus, resp)
}

// startStream writes the event-stream headers and lifts the server write
// deadline for the long-lived response.
func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
}
