// Package analytics is the HTTP client for the external analytics engine
// that forecasts delays, renders shipping documents, tracks vessels and
// containers, and delivers customer notifications.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// DefaultTimeout bounds a single engine request.
const DefaultTimeout = 30 * time.Second

// ErrNotConfigured is returned by every call on a client without a base URL.
var ErrNotConfigured = toolerr.Business("analytics engine not configured")

// maxErrorBody caps how much of a failed response is read into the log.
const maxErrorBody = 1024

// Client talks to the analytics engine. Tracking lookups for the same
// target are coalesced while in flight.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	group      singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the engine at baseURL. An empty baseURL yields a
// client whose every call fails with ErrNotConfigured.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured reports whether the client has an engine to talk to.
func (c *Client) Configured() bool { return c.baseURL != "" }

// envelope is the engine's common response shape. Fields beyond success,
// error, and data are kept in Raw.
type envelope struct {
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Raw     json.RawMessage `json:"-"`
}

type shipmentData struct {
	ID              string               `json:"id"`
	OriginPort      string               `json:"origin_port"`
	DestinationPort string               `json:"destination_port"`
	VesselName      *string              `json:"vessel_name"`
	ETD             *time.Time           `json:"etd"`
	ETA             *time.Time           `json:"eta"`
	RiskFlag        bool                 `json:"risk_flag"`
	Status          model.ShipmentStatus `json:"status_code"`
	ContainerType   string               `json:"container_type"`
}

// defaultContainerType is sent when the record carries no equipment type.
const defaultContainerType = "40HC"

// PredictDelay asks the engine for a delay forecast.
func (c *Client) PredictDelay(ctx context.Context, s model.Shipment) (model.Prediction, error) {
	body := map[string]any{"shipment_data": shipmentData{
		ID:              s.ID,
		OriginPort:      s.OriginPort,
		DestinationPort: s.DestinationPort,
		VesselName:      s.VesselName,
		ETD:             s.ETD,
		ETA:             s.ETA,
		RiskFlag:        s.RiskFlag,
		Status:          s.Status,
		ContainerType:   defaultContainerType,
	}}
	env, err := c.do(ctx, http.MethodPost, "/predict-delay", body)
	if err != nil {
		return model.Prediction{}, err
	}
	var p model.Prediction
	if err := json.Unmarshal(env.Raw, &p); err != nil {
		return model.Prediction{}, fmt.Errorf("analytics: decode prediction: %w", err)
	}
	return p, nil
}

// GenerateDocument renders a shipping document.
func (c *Client) GenerateDocument(ctx context.Context, req model.DocumentRequest) (map[string]any, error) {
	env, err := c.do(ctx, http.MethodPost, "/generate-document", req)
	if err != nil {
		return nil, err
	}
	return env.object()
}

// SendStatusUpdate delivers a customer notification.
func (c *Client) SendStatusUpdate(ctx context.Context, n model.StatusNotification) (map[string]any, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/notifications/send", n)
	if err != nil {
		return nil, err
	}
	return env.object()
}

// TrackVessel returns the live position of a vessel.
func (c *Client) TrackVessel(ctx context.Context, q model.VesselQuery) (map[string]any, error) {
	key := "vessel:" + model.Str(q.VesselName) + "|" + model.Str(q.IMONumber) + "|" + model.Str(q.MMSI)
	return c.shared(ctx, key, http.MethodPost, "/api/vessel/track", q)
}

// TrackContainer returns live sensor readings for a container.
func (c *Client) TrackContainer(ctx context.Context, containerNo string) (map[string]any, error) {
	path := "/api/container/" + url.PathEscape(containerNo) + "/live-tracking"
	return c.shared(ctx, "container:"+containerNo, http.MethodGet, path, nil)
}

// TrackMultimodal returns leg-by-leg progress for a shipment.
func (c *Client) TrackMultimodal(ctx context.Context, shipmentID string) (map[string]any, error) {
	path := "/api/shipment/" + url.PathEscape(shipmentID) + "/multimodal-tracking"
	return c.shared(ctx, "multimodal:"+shipmentID, http.MethodGet, path, nil)
}

// shared coalesces identical read-only lookups. Each caller still honors its
// own context.
func (c *Client) shared(ctx context.Context, key, method, path string, body any) (map[string]any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		env, err := c.do(context.WithoutCancel(ctx), method, path, body)
		if err != nil {
			return nil, err
		}
		return env.object()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]any), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("analytics: %s: %w", path, ctx.Err())
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("analytics: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("analytics: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analytics: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("analytics: engine returned error status",
			"method", method, "path", path, "status", resp.StatusCode, "body", string(snippet))
		if resp.StatusCode == http.StatusNotFound {
			return nil, toolerr.NotFound("analytics engine has no record for this request")
		}
		return nil, toolerr.Business("analytics engine unavailable (status %d)", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("analytics: read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("analytics: decode response: %w", err)
	}
	env.Raw = raw
	if env.Success != nil && !*env.Success {
		msg := env.Error
		if msg == "" {
			msg = "analytics engine rejected the request"
		}
		return nil, toolerr.Business("%s", msg)
	}
	return &env, nil
}

// object returns the data payload when present and the whole body otherwise.
func (e *envelope) object() (map[string]any, error) {
	src := e.Raw
	if len(e.Data) > 0 && !bytes.Equal(e.Data, []byte("null")) {
		src = e.Data
	}
	var out map[string]any
	if err := json.Unmarshal(src, &out); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			return nil, fmt.Errorf("analytics: response is not an object: %w", err)
		}
		return nil, fmt.Errorf("analytics: decode payload: %w", err)
	}
	return out, nil
}
