// Package tools is the shipment tool catalog. Each tool pairs an input
// schema with a handler over the query engine, the record store, and the
// external collaborators (delay scoring, notifications, live tracking,
// document generation, portal links).
//
// Handlers return typed results and *toolerr.Error failures; they never
// know which transport invoked them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/query"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// NotificationConfidenceThreshold is the delay-prediction confidence a
// forecast must exceed before a customer is warned proactively.
const NotificationConfidenceThreshold = 0.70

// DelayScorer forecasts whether a shipment will arrive late.
type DelayScorer interface {
	PredictDelay(ctx context.Context, s model.Shipment) (model.Prediction, error)
}

// Notifier delivers customer notifications.
type Notifier interface {
	SendStatusUpdate(ctx context.Context, n model.StatusNotification) (map[string]any, error)
}

// Tracker reads live position and sensor data from third-party feeds.
type Tracker interface {
	TrackVessel(ctx context.Context, q model.VesselQuery) (map[string]any, error)
	TrackContainer(ctx context.Context, containerNo string) (map[string]any, error)
	TrackMultimodal(ctx context.Context, shipmentID string) (map[string]any, error)
}

// DocumentGenerator renders shipping documents.
type DocumentGenerator interface {
	GenerateDocument(ctx context.Context, req model.DocumentRequest) (map[string]any, error)
}

// PortalSigner issues public tracking links.
type PortalSigner interface {
	PortalLink(shipmentID string) (url string, expiresAt time.Time, err error)
}

// EventPublisher receives an event after every committed mutation.
type EventPublisher interface {
	PublishShipmentEvent(ctx context.Context, ev model.ShipmentEvent) error
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithDelayScorer sets the delay forecaster.
func WithDelayScorer(s DelayScorer) Option { return func(c *Catalog) { c.scorer = s } }

// WithNotifier sets the customer notifier.
func WithNotifier(n Notifier) Option { return func(c *Catalog) { c.notifier = n } }

// WithTracker sets the live tracking feed.
func WithTracker(t Tracker) Option { return func(c *Catalog) { c.tracker = t } }

// WithDocuments sets the document generator.
func WithDocuments(d DocumentGenerator) Option { return func(c *Catalog) { c.docs = d } }

// WithPortal sets the portal link signer.
func WithPortal(p PortalSigner) Option { return func(c *Catalog) { c.portal = p } }

// WithEvents sets the change feed publisher.
func WithEvents(p EventPublisher) Option { return func(c *Catalog) { c.events = p } }

// WithSessionCount reports active streaming sessions in get_server_status.
func WithSessionCount(fn func() int) Option { return func(c *Catalog) { c.sessions = fn } }

// WithVersion sets the version reported by get_server_status.
func WithVersion(v string) Option { return func(c *Catalog) { c.version = v } }

// WithLogger sets the catalog logger.
func WithLogger(l *slog.Logger) Option { return func(c *Catalog) { c.logger = l } }

// Catalog holds the collaborators shared by every handler.
type Catalog struct {
	engine   *query.Engine
	store    storage.Store
	scorer   DelayScorer
	notifier Notifier
	tracker  Tracker
	docs     DocumentGenerator
	portal   PortalSigner
	events   EventPublisher
	sessions func() int
	version  string
	logger   *slog.Logger
	started  time.Time

	reg *registry.Registry
}

// New creates a catalog over engine. Collaborators left unset make the
// tools that need them fail with a business failure.
func New(engine *query.Engine, opts ...Option) *Catalog {
	c := &Catalog{
		engine:  engine,
		store:   engine.Store(),
		version: "dev",
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.started = engine.Now()
	return c
}

// Register adds every tool to r in catalog order.
func (c *Catalog) Register(r *registry.Registry) {
	c.reg = r
	for _, t := range c.tools() {
		r.Register(t)
	}
}

func (c *Catalog) tools() []registry.Tool {
	return []registry.Tool{
		{Name: "search_shipments", ReadOnly: true, Schema: raw(schemaSearchShipments), Handler: c.searchShipments,
			Description: "Search shipments by risk flag, status, container number, or bill of lading."},
		{Name: "track_shipment", ReadOnly: true, Schema: raw(schemaTrackShipment), Handler: c.trackShipment,
			Description: "Detailed tracking for one shipment, including whether it is past its ETA."},
		{Name: "update_shipment_eta", Schema: raw(schemaUpdateETA), Handler: c.updateETA,
			Description: "Change a shipment's estimated arrival. Recorded in the audit trail."},
		{Name: "set_risk_flag", Schema: raw(schemaSetRiskFlag), Handler: c.setRiskFlag,
			Description: "Flag a shipment as high-risk or clear the flag. Recorded in the audit trail."},
		{Name: "add_agent_note", Schema: raw(schemaAddNote), Handler: c.addNote,
			Description: "Append an operational note to a shipment. Notes are never rewritten."},
		{Name: "search_shipments_advanced", ReadOnly: true, Schema: raw(schemaSearchAdvanced), Handler: c.searchAdvanced,
			Description: "Multi-filter search: vessel, voyage, ports, status set, risk, ETA window, location."},
		{Name: "query_shipments_by_criteria", ReadOnly: true, Schema: raw(schemaQueryByCriteria), Handler: c.queryByCriteria,
			Description: "Free-text search with sorting and a selectable field projection."},
		{Name: "get_shipments_analytics", ReadOnly: true, Schema: raw(schemaEmpty), Handler: c.analytics,
			Description: "Fleet-wide rollup: status breakdown, top ports, active vessels, upcoming arrivals, delay counts."},
		{Name: "get_delayed_shipments", ReadOnly: true, Schema: raw(schemaDelayed), Handler: c.delayed,
			Description: "Undelivered shipments at least days_delayed whole days past their ETA, most delayed first."},
		{Name: "get_shipments_by_route", ReadOnly: true, Schema: raw(schemaByRoute), Handler: c.byRoute,
			Description: "Shipments on a trade route with route statistics. With no ports, summarizes every shipment."},
		{Name: "get_shipment_history", ReadOnly: true, Schema: raw(schemaHistory), Handler: c.history,
			Description: "Audit trail of changes to one shipment, newest first."},
		{Name: "predictive_delay_detection", ReadOnly: true, Schema: raw(schemaTrackShipment), Handler: c.predictDelay,
			Description: "Forecast whether a shipment will be delayed, with confidence and risk factors."},
		{Name: "proactive_exception_notification", Schema: raw(schemaProactive), Handler: c.proactiveNotify,
			Description: "Run a delay forecast and warn the customer when confidence exceeds 70%."},
		{Name: "send_status_update", Schema: raw(schemaStatusUpdate), Handler: c.sendStatusUpdate,
			Description: "Send a shipment status notification by email, SMS, or both."},
		{Name: "track_vessel_realtime", ReadOnly: true, Schema: raw(schemaTrackVessel), Handler: c.trackVessel,
			Description: "Live AIS position, speed, heading, and next port for a vessel by name, IMO, or MMSI."},
		{Name: "track_container_live", ReadOnly: true, Schema: raw(schemaTrackContainer), Handler: c.trackContainer,
			Description: "Live IoT sensor readings for a container: GPS, temperature, humidity, shock, door events."},
		{Name: "track_multimodal_shipment", ReadOnly: true, Schema: raw(schemaShipmentOnly), Handler: c.trackMultimodal,
			Description: "Ocean, rail, and truck legs of a shipment's journey with progress."},
		{Name: "generate_bill_of_lading", Schema: raw(schemaShipmentOnly), Handler: c.billOfLading,
			Description: "Generate a bill of lading PDF for a shipment."},
		{Name: "generate_commercial_invoice", Schema: raw(schemaInvoice), Handler: c.commercialInvoice,
			Description: "Generate a commercial invoice PDF for customs clearance."},
		{Name: "generate_packing_list", Schema: raw(schemaPackingList), Handler: c.packingList,
			Description: "Generate a packing list PDF for a shipment."},
		{Name: "generate_customer_portal_link", Schema: raw(schemaShipmentOnly), Handler: c.portalLink,
			Description: "Create a public read-only tracking link a customer can open without logging in."},
		{Name: "get_server_status", ReadOnly: true, Schema: raw(schemaServerStatus), Handler: c.serverStatus,
			Description: "Server health, version, and optionally store and session details."},
	}
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

// resolve finds the shipment ref names, mapping a miss to NotFound.
func (c *Catalog) resolve(ctx context.Context, ref string) (model.Shipment, error) {
	s, err := storage.Resolve(ctx, c.store, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Shipment{}, toolerr.NotFound("shipment %q not found", ref)
	}
	if err != nil {
		return model.Shipment{}, toolerr.Internal(err, "resolve shipment")
	}
	return s, nil
}

var errAnalyticsUnset = toolerr.Business("analytics engine not configured")
