package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaiun/internal/auth"
	"github.com/ashita-ai/kaiun/internal/jsonrpc"
	"github.com/ashita-ai/kaiun/internal/mcp"
	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/query"
	"github.com/ashita-ai/kaiun/internal/ratelimit"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/server"
	"github.com/ashita-ai/kaiun/internal/session"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/testutil"
	"github.com/ashita-ai/kaiun/internal/tools"
	"github.com/ashita-ai/kaiun/internal/voice"
)

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

const portalBase = "https://track.example.com/track"

type harness struct {
	srv      *httptest.Server
	reg      *registry.Registry
	sessions *session.Manager
	broker   *server.Broker
	jwt      *auth.JWTManager
}

func newHarness(t *testing.T, opts ...func(*server.ServerConfig)) *harness {
	t.Helper()
	logger := testutil.TestLogger()
	st := testutil.SeedMemory(now)
	engine := query.New(st, query.WithClock(func() time.Time { return now }))

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour, auth.WithPortal(portalBase, 0))
	require.NoError(t, err)
	broker := server.NewBroker(nil, logger)
	sessions := session.NewManager(session.WithLogger(logger))

	reg := registry.New(registry.WithLogger(logger))
	tools.New(engine,
		tools.WithLogger(logger),
		tools.WithEvents(broker),
		tools.WithPortal(jwtMgr),
		tools.WithSessionCount(sessions.Len),
		tools.WithVersion("test"),
	).Register(reg)
	reg.Freeze()

	cfg := server.ServerConfig{
		Registry:   reg,
		Dispatcher: jsonrpc.NewDispatcher(reg, "kaiun", "test"),
		Sessions:   sessions,
		Voice:      voice.NewAdapter(reg, nil, nil, logger),
		Store:      st,
		JWTMgr:     jwtMgr,
		Broker:     broker,
		MCPServer:  mcp.New(reg, "test", logger).MCPServer(),
		Logger:     logger,
		Version:    "test",
		KeepAlive:  time.Hour,
	}
	for _, o := range opts {
		o(&cfg)
	}

	srv := httptest.NewServer(server.New(cfg).Handler())
	t.Cleanup(func() {
		sessions.CloseAll()
		srv.Close()
	})
	return &harness{srv: srv, reg: reg, sessions: sessions, broker: broker, jwt: jwtMgr}
}

func (h *harness) post(t *testing.T, path, contentType, body string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) rpc(t *testing.T, body string, header ...string) (*http.Response, jsonrpc.Response) {
	t.Helper()
	resp := h.post(t, "/rpc", "application/json", body, header...)
	var out jsonrpc.Response
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusUnauthorized, http.StatusTooManyRequests:
		// No JSON-RPC body.
	default:
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func callBody(id int, tool string, args map[string]any) string {
	b, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": id, "method": "tools/call",
		"params": map[string]any{"name": tool, "arguments": args},
	})
	return string(b)
}

// structured extracts structuredContent from a tools/call result.
func structured(t *testing.T, resp jsonrpc.Response) json.RawMessage {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var res struct {
		StructuredContent json.RawMessage `json:"structuredContent"`
		IsError           bool            `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.False(t, res.IsError)
	return res.StructuredContent
}

// sseReader reads named events from an event stream, skipping comments.
type sseReader struct{ r *bufio.Reader }

func (s sseReader) next(t *testing.T) (name, data string) {
	t.Helper()
	for {
		line, err := s.r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if name != "" || data != "" {
				return name, data
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// openStream connects to /sse and returns the reader and the messages path.
func (h *harness) openStream(t *testing.T) (sseReader, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := sseReader{r: bufio.NewReader(resp.Body)}
	name, data := rd.next(t)
	require.Equal(t, "endpoint", name)
	require.True(t, strings.HasPrefix(data, "/messages?session_id="), data)
	return rd, data
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body struct {
		Data model.HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Data.Status)
	assert.Equal(t, "memory", body.Data.Store)
	assert.Equal(t, "connected", body.Data.StoreStatus)
	assert.Equal(t, 22, body.Data.Tools)
	assert.Equal(t, "local", body.Data.SSEBroker)
	assert.Equal(t, "test", body.Data.Version)
}

func TestRPC_ToolCall(t *testing.T) {
	h := newHarness(t)
	resp, out := h.rpc(t, callBody(1, "track_shipment", map[string]any{"identifier": "MSCU1234567"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "1", string(out.ID))

	var track tools.TrackResult
	require.NoError(t, json.Unmarshal(structured(t, out), &track))
	assert.Equal(t, "job-1", track.Shipment.ID)
	assert.True(t, track.IsLate)
	assert.Equal(t, 3, track.DaysDelayed)
}

func TestRPC_Methods(t *testing.T) {
	h := newHarness(t)

	_, out := h.rpc(t, `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`)
	require.Nil(t, out.Error)
	raw, err := json.Marshal(out.Result)
	require.NoError(t, err)
	var list struct {
		Tools []registry.Descriptor `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list.Tools, 22)

	_, out = h.rpc(t, `{"jsonrpc":"2.0","id":2,"method":"initialize"}`)
	require.Nil(t, out.Error)
	assert.Contains(t, mustJSON(t, out.Result), `"name":"kaiun"`)
}

func TestRPC_Errors(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		body   string
		status int
		code   int
		class  string
	}{
		{"parse error", `{"jsonrpc":`, http.StatusBadRequest, jsonrpc.CodeParseError, "ProtocolError"},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "ProtocolError"},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, http.StatusBadRequest, jsonrpc.CodeInvalidRequest, "ProtocolError"},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, http.StatusOK, jsonrpc.CodeMethodNotFound, "NotFound"},
		{"unknown tool", callBody(1, "sink_ship", nil), http.StatusOK, jsonrpc.CodeMethodNotFound, "NotFound"},
		{"record not found", callBody(1, "track_shipment", map[string]any{"identifier": "nope"}), http.StatusOK, jsonrpc.CodeRecordNotFound, "NotFound"},
		{"validation", callBody(1, "search_shipments", map[string]any{"limit": -1}), http.StatusOK, jsonrpc.CodeInvalidParams, "ValidationFailure"},
		{"business", callBody(1, "predictive_delay_detection", map[string]any{"identifier": "job-1"}), http.StatusOK, jsonrpc.CodeBusinessFailure, "BusinessFailure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := h.rpc(t, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.code, out.Error.Code)
			require.NotNil(t, out.Error.Data)
			assert.Equal(t, tt.class, out.Error.Data.Class)
		})
	}
}

func TestRPC_Notification(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.rpc(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRPC_BodyTooLarge(t *testing.T) {
	h := newHarness(t, func(c *server.ServerConfig) { c.MaxRequestBodyBytes = 64 })
	resp, out := h.rpc(t, callBody(1, "search_shipments", map[string]any{"query": strings.Repeat("x", 200)}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeInvalidRequest, out.Error.Code)
}

func TestStream_RoundTrip(t *testing.T) {
	h := newHarness(t)
	rd, endpoint := h.openStream(t)
	require.Eventually(t, func() bool { return h.sessions.Len() == 1 }, time.Second, 10*time.Millisecond)

	// Requests answer in submission order on one session.
	for i, id := range []string{"job-1", "job-2", "job-3"} {
		resp := h.post(t, endpoint, "application/json", callBody(i+1, "track_shipment", map[string]any{"identifier": id}))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	for i, id := range []string{"job-1", "job-2", "job-3"} {
		name, data := rd.next(t)
		require.Equal(t, "message", name)
		var out jsonrpc.Response
		require.NoError(t, json.Unmarshal([]byte(data), &out))
		assert.JSONEq(t, mustJSON(t, i+1), string(out.ID))
		var track tools.TrackResult
		require.NoError(t, json.Unmarshal(structured(t, out), &track))
		assert.Equal(t, id, track.Shipment.ID)
	}
}

func TestStream_ToolFailureIsStreamed(t *testing.T) {
	h := newHarness(t)
	rd, endpoint := h.openStream(t)

	resp := h.post(t, endpoint, "application/json", callBody(9, "track_shipment", map[string]any{"identifier": "nope"}))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, data := rd.next(t)
	var out jsonrpc.Response
	require.NoError(t, json.Unmarshal([]byte(data), &out))
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeRecordNotFound, out.Error.Code)
}

func TestStream_InlineErrors(t *testing.T) {
	h := newHarness(t)
	_, endpoint := h.openStream(t)

	resp := h.post(t, "/messages?session_id=deadbeef", "application/json", callBody(1, "track_shipment", map[string]any{"identifier": "job-1"}))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var out jsonrpc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeSessionNotFound, out.Error.Code)
	assert.Equal(t, "SessionNotFound", out.Error.Data.Class)

	resp = h.post(t, endpoint, "application/json", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out = jsonrpc.Response{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, jsonrpc.CodeParseError, out.Error.Code)
}

func TestStream_DisconnectClosesSession(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	_, endpoint := sseReader{r: bufio.NewReader(resp.Body)}.next(t)
	require.Equal(t, 1, h.sessions.Len())

	cancel()
	require.Eventually(t, func() bool { return h.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	post := h.post(t, endpoint, "application/json", callBody(1, "ping", nil))
	assert.Equal(t, http.StatusNotFound, post.StatusCode)
}

func TestStream_ReapedSessionEndsStream(t *testing.T) {
	h := newHarness(t)
	rd, _ := h.openStream(t)
	require.Equal(t, 1, h.sessions.Reap(time.Now().Add(time.Hour)))

	_, err := rd.r.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func TestVoice(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/webhook", "/voice"} {
		t.Run(path, func(t *testing.T) {
			resp := h.post(t, path, "application/json",
				`{"operation":"track_shipment","parameters":{"shipment_id":"MBL-1001"}}`)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t,
				"Shipment job-1 is delayed. It's currently at Suez Canal on the MSC Aurora. It is 3 days past its expected arrival.",
				string(body))
		})
	}

	resp := h.post(t, "/webhook", "application/json", `{"parameters":{}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "I didn't receive a valid request.", string(body))
}

// The same tool call through every transport yields the same result; the
// voice answer is that result rendered as speech.
func TestTransportEquivalence(t *testing.T) {
	h := newHarness(t)
	args := map[string]any{"identifier": "MAEU7654321"}

	direct, err := h.reg.Invoke(context.Background(), model.ToolCallEnvelope{Tool: "track_shipment", Arguments: args})
	require.NoError(t, err)
	want := mustJSON(t, direct)

	_, rpcOut := h.rpc(t, callBody(1, "track_shipment", args))
	assert.JSONEq(t, want, string(structured(t, rpcOut)))

	rd, endpoint := h.openStream(t)
	require.Equal(t, http.StatusAccepted, h.post(t, endpoint, "application/json", callBody(1, "track_shipment", args)).StatusCode)
	_, data := rd.next(t)
	var streamOut jsonrpc.Response
	require.NoError(t, json.Unmarshal([]byte(data), &streamOut))
	assert.JSONEq(t, want, string(structured(t, streamOut)))

	spoken, err := voice.TextRenderer{}.Render("track_shipment", direct)
	require.NoError(t, err)
	resp := h.post(t, "/voice", "application/json", `{"function":"track_shipment","arguments":{"identifier":"MAEU7654321"}}`)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, spoken, string(body))

	// Failures carry the same class everywhere.
	_, rpcOut = h.rpc(t, callBody(2, "track_shipment", map[string]any{"identifier": "nope"}))
	require.NotNil(t, rpcOut.Error)
	require.Equal(t, http.StatusAccepted, h.post(t, endpoint, "application/json", callBody(2, "track_shipment", map[string]any{"identifier": "nope"})).StatusCode)
	_, data = rd.next(t)
	streamOut = jsonrpc.Response{}
	require.NoError(t, json.Unmarshal([]byte(data), &streamOut))
	require.NotNil(t, streamOut.Error)
	assert.Equal(t, rpcOut.Error.Code, streamOut.Error.Code)
	assert.Equal(t, rpcOut.Error.Message, streamOut.Error.Message)
}

func TestAuth(t *testing.T) {
	encoded, err := auth.HashAPIKey("s3cret")
	require.NoError(t, err)
	keys, err := auth.NewKeyVerifier(encoded)
	require.NoError(t, err)
	h := newHarness(t, func(c *server.ServerConfig) { c.Keys = keys })

	resp, _ := h.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad := h.post(t, "/auth/token", "application/json", `{"client_id":"ops","api_key":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)

	good := h.post(t, "/auth/token", "application/json", `{"client_id":"ops","api_key":"s3cret"}`)
	require.Equal(t, http.StatusOK, good.StatusCode)
	var tok struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(good.Body).Decode(&tok))
	require.NotEmpty(t, tok.Data.Token)

	resp, out := h.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, "Authorization", "Bearer "+tok.Data.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, out.Error)

	// Voice callers and health checks stay public.
	voiceResp := h.post(t, "/webhook", "application/json", `{"operation":"get_server_status"}`)
	assert.Equal(t, http.StatusOK, voiceResp.StatusCode)
	health, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	_ = health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	// Portal tokens do not open the API.
	link, _, err := h.jwt.PortalLink("job-1")
	require.NoError(t, err)
	resp, _ = h.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, "Authorization", "Bearer "+strings.TrimPrefix(link, portalBase+"/"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthToken_Disabled(t *testing.T) {
	h := newHarness(t)
	resp := h.post(t, "/auth/token", "application/json", `{"client_id":"ops","api_key":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPortal(t *testing.T) {
	h := newHarness(t)
	_, out := h.rpc(t, callBody(1, "generate_customer_portal_link", map[string]any{"shipment_id": "MAEU7654321"}))
	var link tools.PortalLinkResult
	require.NoError(t, json.Unmarshal(structured(t, out), &link))
	require.True(t, strings.HasPrefix(link.TrackingURL, portalBase+"/"))

	resp, err := http.Get(h.srv.URL + "/track/" + strings.TrimPrefix(link.TrackingURL, portalBase+"/"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var view struct {
		Data model.PortalView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, "job-2", view.Data.ShipmentID)
	assert.Equal(t, "Los Angeles, USA", view.Data.DestinationPort)
	assert.WithinDuration(t, link.ValidUntil, view.Data.LinkExpiresAt, time.Second)
	assert.NotContains(t, string(raw), "agent_notes")
	assert.NotContains(t, string(raw), "risk_flag")

	bad, err := http.Get(h.srv.URL + "/track/not-a-token")
	require.NoError(t, err)
	_ = bad.Body.Close()
	assert.Equal(t, http.StatusNotFound, bad.StatusCode)
}

func TestSubscribe_ReceivesMutations(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/v1/subscribe", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return h.broker.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	_, out := h.rpc(t, callBody(1, "update_shipment_eta", map[string]any{"identifier": "job-2", "new_eta": "2026-05-01"}))
	require.Nil(t, out.Error)

	name, data := sseReader{r: bufio.NewReader(resp.Body)}.next(t)
	assert.Equal(t, storage.ChannelShipments, name)
	var ev model.ShipmentEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "job-2", ev.ShipmentID)
	assert.Equal(t, "eta", ev.Field)
	require.NotNil(t, ev.NewValue)
	assert.Contains(t, *ev.NewValue, "2026-05-01")
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	t.Cleanup(func() { _ = limiter.Close() })
	h := newHarness(t, func(c *server.ServerConfig) { c.Limiter = limiter })

	for i := range 2 {
		resp, _ := h.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
	}
	resp := h.post(t, "/rpc", "application/json", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	// Health is never limited.
	health, err := http.Get(h.srv.URL + "/health")
	require.NoError(t, err)
	_ = health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestMCPMount(t *testing.T) {
	h := newHarness(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/mcp", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kaiun"`)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
