package tools_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/query"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/storage/memory"
	"github.com/ashita-ai/kaiun/internal/testutil"
	"github.com/ashita-ai/kaiun/internal/toolerr"
	"github.com/ashita-ai/kaiun/internal/tools"
)

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

type fakeScorer struct{ p model.Prediction }

func (f fakeScorer) PredictDelay(context.Context, model.Shipment) (model.Prediction, error) {
	return f.p, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.StatusNotification
}

func (f *fakeNotifier) SendStatusUpdate(_ context.Context, n model.StatusNotification) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return map[string]any{"notification_id": fmt.Sprintf("n-%d", len(f.sent))}, nil
}

type fakeDocs struct{ last model.DocumentRequest }

func (f *fakeDocs) GenerateDocument(_ context.Context, req model.DocumentRequest) (map[string]any, error) {
	f.last = req
	return map[string]any{"document_url": "/documents/" + req.DocumentType + ".pdf"}, nil
}

type fakeTracker struct{}

func (fakeTracker) TrackVessel(_ context.Context, q model.VesselQuery) (map[string]any, error) {
	return map[string]any{"vessel_name": model.Str(q.VesselName)}, nil
}

func (fakeTracker) TrackContainer(_ context.Context, n string) (map[string]any, error) {
	return map[string]any{"container_number": n}, nil
}

func (fakeTracker) TrackMultimodal(_ context.Context, id string) (map[string]any, error) {
	return map[string]any{"shipment_id": id, "progress_percentage": 40.0}, nil
}

type fakePortal struct{}

func (fakePortal) PortalLink(id string) (string, time.Time, error) {
	return "https://track.example.com/" + id, now.Add(30 * 24 * time.Hour), nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.ShipmentEvent
}

func (r *recorder) PublishShipmentEvent(_ context.Context, ev model.ShipmentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type harness struct {
	reg    *registry.Registry
	store  *memory.Store
	events *recorder
}

func newHarness(t *testing.T, opts ...tools.Option) *harness {
	t.Helper()
	st := testutil.SeedMemory(now)
	rec := &recorder{}
	engine := query.New(st, query.WithClock(func() time.Time { return now }))
	reg := registry.New(registry.WithLogger(testutil.TestLogger()))
	base := []tools.Option{tools.WithEvents(rec), tools.WithLogger(testutil.TestLogger()), tools.WithVersion("test")}
	tools.New(engine, append(base, opts...)...).Register(reg)
	reg.Freeze()
	return &harness{reg: reg, store: st, events: rec}
}

func (h *harness) call(tool string, args map[string]any) (any, error) {
	return h.reg.Invoke(context.Background(), model.ToolCallEnvelope{
		Tool: tool, Arguments: args, RequestID: "test", Transport: model.TransportRPC,
	})
}

func requireKind(t *testing.T, err error, kind toolerr.Kind) *toolerr.Error {
	t.Helper()
	require.Error(t, err)
	te := toolerr.As(err)
	require.Equal(t, kind, te.Kind, "error: %v", err)
	return te
}

func TestCatalog_RegistersEveryTool(t *testing.T) {
	h := newHarness(t)
	want := []string{
		"search_shipments", "track_shipment", "update_shipment_eta", "set_risk_flag",
		"add_agent_note", "search_shipments_advanced", "query_shipments_by_criteria",
		"get_shipments_analytics", "get_delayed_shipments", "get_shipments_by_route",
		"get_shipment_history", "predictive_delay_detection", "proactive_exception_notification",
		"send_status_update", "track_vessel_realtime", "track_container_live",
		"track_multimodal_shipment", "generate_bill_of_lading", "generate_commercial_invoice",
		"generate_packing_list", "generate_customer_portal_link", "get_server_status",
	}
	var got []string
	for _, d := range h.reg.List() {
		got = append(got, d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
	}
	assert.Equal(t, want, got)
}

func TestSearchShipments(t *testing.T) {
	h := newHarness(t)

	res, err := h.call("search_shipments", map[string]any{"status_code": "DELAYED"})
	require.NoError(t, err)
	sr := res.(tools.SearchResult)
	require.Equal(t, 1, sr.Count)
	assert.Equal(t, "job-1", sr.Results[0].ID)

	res, err = h.call("search_shipments", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.(tools.SearchResult).Count)

	res, err = h.call("search_shipments", map[string]any{"limit": 0})
	require.NoError(t, err)
	assert.Equal(t, 0, res.(tools.SearchResult).Count)

	_, err = h.call("search_shipments", map[string]any{"status_code": "LOST"})
	te := requireKind(t, err, toolerr.KindValidation)
	assert.Equal(t, "status_code", te.Field)
}

func TestSearchShipmentsAdvanced(t *testing.T) {
	h := newHarness(t)
	res, err := h.call("search_shipments_advanced", map[string]any{
		"origin_port":  "shanghai",
		"status_codes": []any{"IN_TRANSIT", "DELAYED"},
		"eta_from":     "2026-04-01",
		"eta_to":       "2026-04-15",
	})
	require.NoError(t, err)
	sr := res.(tools.SearchResult)
	require.Equal(t, 2, sr.Count)
	assert.Equal(t, "job-1", sr.Results[0].ID)
	assert.Equal(t, "job-2", sr.Results[1].ID)

	_, err = h.call("search_shipments_advanced", map[string]any{"eta_from": "2026-04-15", "eta_to": "2026-04-01"})
	te := requireKind(t, err, toolerr.KindValidation)
	assert.Equal(t, "eta_to", te.Field)
}

func TestTrackShipment_ResolvesEveryIdentifier(t *testing.T) {
	h := newHarness(t)
	for _, ref := range []string{"MSCU1234567", "MBL-1001", "job-1", "  job-1 "} {
		t.Run(ref, func(t *testing.T) {
			res, err := h.call("track_shipment", map[string]any{"identifier": ref})
			require.NoError(t, err)
			tr := res.(tools.TrackResult)
			assert.Equal(t, "job-1", tr.Shipment.ID)
			assert.True(t, tr.IsLate)
			assert.Equal(t, 3, tr.DaysDelayed)
		})
	}

	_, err := h.call("track_shipment", map[string]any{"identifier": "NOPE0000000"})
	requireKind(t, err, toolerr.KindNotFound)
}

func TestUpdateETA_RecordsAuditAndEvent(t *testing.T) {
	h := newHarness(t)
	res, err := h.call("update_shipment_eta", map[string]any{
		"identifier": "MSCU1234567", "new_eta": "2026-04-20", "reason": "port congestion", "agent_id": "ops-7",
	})
	require.NoError(t, err)
	mr := res.(tools.MutationResult)
	assert.Equal(t, "job-1", mr.ShipmentID)
	assert.Equal(t, "2026-04-07T12:00:00Z", *mr.OldValue)
	assert.Equal(t, "2026-04-20T00:00:00Z", *mr.NewValue)

	s, err := h.store.Get(context.Background(), model.LookupID, "job-1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC), s.ETA.UTC())
	assert.Equal(t, model.StatusDelayed, s.Status, "ETA change leaves the status label alone")

	hist, err := h.store.History(context.Background(), "job-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.AuditUpdateETA, hist[0].Action)
	assert.Equal(t, "port congestion", *hist[0].Reason)
	assert.Equal(t, "ops-7", *hist[0].AgentID)

	require.Len(t, h.events.events, 1)
	assert.Equal(t, "eta", h.events.events[0].Field)
}

func TestUpdateETA_InvalidDateChangesNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.call("update_shipment_eta", map[string]any{"identifier": "job-1", "new_eta": "next tuesday"})
	te := requireKind(t, err, toolerr.KindValidation)
	assert.Equal(t, "new_eta", te.Field)

	hist, err := h.store.History(context.Background(), "job-1", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.Empty(t, h.events.events)
}

func TestSetRiskFlag_ConcurrentCallsSerialize(t *testing.T) {
	h := newHarness(t)
	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.call("set_risk_flag", map[string]any{"identifier": "MAEU7654321", "is_risk": i%2 == 0})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	hist, err := h.store.History(context.Background(), "job-2", 100)
	require.NoError(t, err)
	require.Len(t, hist, n)
	// Newest first: each change starts from the value the previous one wrote.
	for i := 0; i+1 < len(hist); i++ {
		assert.Equal(t, *hist[i+1].NewValue, *hist[i].OldValue, "entry %d", i)
	}
	s, err := h.store.Get(context.Background(), model.LookupID, "job-2")
	require.NoError(t, err)
	assert.Equal(t, *hist[0].NewValue, fmt.Sprint(s.RiskFlag))
	assert.Len(t, h.events.events, n)
}

func TestAddAgentNote_AppendsOnly(t *testing.T) {
	h := newHarness(t)
	_, err := h.call("add_agent_note", map[string]any{"identifier": "job-3", "note": "Delivered to consignee", "agent_name": "dispatch"})
	require.NoError(t, err)
	res, err := h.call("add_agent_note", map[string]any{"identifier": "job-3", "note": "POD received"})
	require.NoError(t, err)

	mr := res.(tools.MutationResult)
	require.NotNil(t, mr.OldValue)
	assert.Equal(t, "[2026-04-10T12:00:00Z] dispatch: Delivered to consignee", *mr.OldValue)
	assert.True(t, strings.HasPrefix(*mr.NewValue, *mr.OldValue+"\n"))
	assert.True(t, strings.HasSuffix(*mr.NewValue, "POD received"))

	_, err = h.call("add_agent_note", map[string]any{"identifier": "job-3", "note": "   "})
	te := requireKind(t, err, toolerr.KindValidation)
	assert.Equal(t, "note", te.Field)
}

func TestGetDelayedShipments(t *testing.T) {
	h := newHarness(t)
	res, err := h.call("get_delayed_shipments", nil)
	require.NoError(t, err)
	dr := res.(tools.DelayedResult)
	require.Equal(t, 1, dr.Count, "delivered job-3 is never delayed")
	assert.Equal(t, "job-1", dr.Results[0].ID)
	assert.Equal(t, 3, dr.Results[0].DaysDelayed)

	res, err = h.call("get_delayed_shipments", map[string]any{"days_delayed": 4})
	require.NoError(t, err)
	assert.Zero(t, res.(tools.DelayedResult).Count)

	_, err = h.call("get_delayed_shipments", map[string]any{"days_delayed": -1})
	te := requireKind(t, err, toolerr.KindValidation)
	assert.Equal(t, "days_delayed", te.Field)
}

func TestGetShipmentsByRoute(t *testing.T) {
	h := newHarness(t)
	res, err := h.call("get_shipments_by_route", map[string]any{"origin": "shanghai"})
	require.NoError(t, err)
	rr := res.(tools.RouteResult)
	assert.False(t, rr.GlobalRollup)
	assert.Equal(t, query.RouteStats{Total: 2, InTransit: 1, Delayed: 1, DelayedLabel: 1}, rr.Statistics)

	res, err = h.call("get_shipments_by_route", nil)
	require.NoError(t, err)
	rr = res.(tools.RouteResult)
	assert.True(t, rr.GlobalRollup)
	assert.Equal(t, 3, rr.Statistics.Total)
}

func TestQueryByCriteria_ProjectsFields(t *testing.T) {
	h := newHarness(t)
	res, err := h.call("query_shipments_by_criteria", map[string]any{
		"search_text":    "SHANGHAI",
		"include_fields": []any{"id", "master_bill"},
		"sort_order":     "desc",
	})
	require.NoError(t, err)
	pr := res.(tools.ProjectedResult)
	require.Equal(t, 2, pr.Count)
	first := pr.Results[0].(map[string]any)
	assert.Equal(t, map[string]any{"id": "job-2", "master_bill": "MBL-2002"}, first)
	assert.Equal(t, "eta", pr.Query["sort_by"])
}

func TestGetShipmentsAnalytics(t *testing.T) {
	h := newHarness(t)
	res, err := h.call("get_shipments_analytics", nil)
	require.NoError(t, err)
	a := res.(query.Analytics)
	assert.Equal(t, 3, a.Total)
	assert.Equal(t, 1, a.DelayedByStatus)
	assert.Equal(t, 1, a.DelayedByETA)
}

func TestGetShipmentHistory(t *testing.T) {
	h := newHarness(t)
	_, err := h.call("set_risk_flag", map[string]any{"identifier": "job-1", "is_risk": true})
	require.NoError(t, err)
	_, err = h.call("add_agent_note", map[string]any{"identifier": "job-1", "note": "Customer informed"})
	require.NoError(t, err)

	res, err := h.call("get_shipment_history", map[string]any{"identifier": "MBL-1001"})
	require.NoError(t, err)
	hr := res.(tools.HistoryResult)
	require.Equal(t, 2, hr.Count)
	assert.Equal(t, model.AuditAddNote, hr.Entries[0].Action)
	assert.Equal(t, model.AuditSetRiskFlag, hr.Entries[1].Action)
}

func TestProactiveNotification_Threshold(t *testing.T) {
	tests := []struct {
		name       string
		prediction model.Prediction
		sent       bool
	}{
		{"at threshold", model.Prediction{WillDelay: true, Confidence: 0.70}, false},
		{"above threshold", model.Prediction{WillDelay: true, Confidence: 0.71, RiskFactors: []string{"Peak season"}}, true},
		{"confident on time", model.Prediction{WillDelay: false, Confidence: 0.95}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{}
			h := newHarness(t, tools.WithDelayScorer(fakeScorer{tt.prediction}), tools.WithNotifier(n))
			res, err := h.call("proactive_exception_notification", map[string]any{
				"shipment_id": "job-2", "recipient_email": "ops@example.com",
			})
			require.NoError(t, err)
			er := res.(tools.ExceptionResult)
			assert.Equal(t, tt.sent, er.WarningSent)
			assert.Equal(t, tools.NotificationConfidenceThreshold, er.Threshold)
			if tt.sent {
				require.Len(t, n.sent, 1)
				assert.Equal(t, "delay_warning", n.sent[0].NotificationType)
				assert.Equal(t, "ops@example.com", *n.sent[0].RecipientEmail)
			} else {
				assert.Empty(t, n.sent)
				assert.NotEmpty(t, er.Reason)
			}
		})
	}
}

func TestPredictiveDelayDetection(t *testing.T) {
	h := newHarness(t, tools.WithDelayScorer(fakeScorer{model.Prediction{WillDelay: true, Confidence: 0.8}}))
	res, err := h.call("predictive_delay_detection", map[string]any{"identifier": "MAEU7654321"})
	require.NoError(t, err)
	pr := res.(tools.PredictionResult)
	assert.Equal(t, "job-2", pr.ShipmentID)
	assert.Equal(t, model.StatusInTransit, pr.CurrentStatus)
	assert.InDelta(t, 0.8, pr.Confidence, 1e-9)
	assert.NotNil(t, pr.RiskFactors)

	h = newHarness(t, tools.WithDelayScorer(fakeScorer{model.Prediction{Confidence: 1.4}}))
	_, err = h.call("predictive_delay_detection", map[string]any{"identifier": "job-2"})
	requireKind(t, err, toolerr.KindInternal)
}

func TestUnconfiguredCollaborators(t *testing.T) {
	h := newHarness(t)
	calls := map[string]map[string]any{
		"predictive_delay_detection":       {"identifier": "job-1"},
		"proactive_exception_notification": {"shipment_id": "job-1"},
		"send_status_update":               {"shipment_id": "job-1", "notification_type": "arrived", "recipient_email": "a@b.c"},
		"track_container_live":             {"container_number": "MSCU1234567"},
		"track_multimodal_shipment":        {"shipment_id": "job-1"},
		"generate_bill_of_lading":          {"shipment_id": "job-1"},
	}
	for tool, args := range calls {
		t.Run(tool, func(t *testing.T) {
			_, err := h.call(tool, args)
			te := requireKind(t, err, toolerr.KindBusiness)
			assert.Equal(t, "analytics engine not configured", te.Message)
		})
	}
}

func TestSendStatusUpdate_ChannelNeedsRecipient(t *testing.T) {
	n := &fakeNotifier{}
	h := newHarness(t, tools.WithNotifier(n))

	_, err := h.call("send_status_update", map[string]any{"shipment_id": "job-2", "notification_type": "departed", "channel": "sms"})
	te := requireKind(t, err, toolerr.KindValidation)
	assert.Equal(t, "recipient_phone", te.Field)

	_, err = h.call("send_status_update", map[string]any{
		"shipment_id": "MAEU7654321", "notification_type": "departed", "channel": "sms", "recipient_phone": "+15551234567",
	})
	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "job-2", n.sent[0].ShipmentID)
	assert.Equal(t, "en", n.sent[0].Language)
}

func TestTracking(t *testing.T) {
	h := newHarness(t, tools.WithTracker(fakeTracker{}))

	_, err := h.call("track_vessel_realtime", nil)
	te := requireKind(t, err, toolerr.KindValidation)
	assert.Equal(t, "vessel_name", te.Field)

	res, err := h.call("track_vessel_realtime", map[string]any{"vessel_name": "MSC Aurora"})
	require.NoError(t, err)
	assert.Equal(t, "MSC Aurora", res.(map[string]any)["vessel_name"])

	_, err = h.call("track_container_live", map[string]any{"container_number": "12345"})
	te = requireKind(t, err, toolerr.KindValidation)
	assert.Equal(t, "container_number", te.Field)

	res, err = h.call("track_multimodal_shipment", map[string]any{"shipment_id": "MBL-2002"})
	require.NoError(t, err)
	assert.Equal(t, "job-2", res.(map[string]any)["shipment_id"])
}

func TestDocuments(t *testing.T) {
	docs := &fakeDocs{}
	h := newHarness(t, tools.WithDocuments(docs))

	_, err := h.call("generate_commercial_invoice", map[string]any{"shipment_id": "job-1"})
	require.NoError(t, err)
	assert.Equal(t, model.DocCommercialInvoice, docs.last.DocumentType)
	assert.Equal(t, "INV-job-1", docs.last.Data["invoice_number"])
	assert.Equal(t, "Shanghai, China", docs.last.Data["port_of_loading"])

	_, err = h.call("generate_packing_list", map[string]any{"shipment_id": "job-3", "packing_list_number": "PL-77"})
	require.NoError(t, err)
	assert.Equal(t, "PL-77", docs.last.Data["packing_list_number"])
	assert.Equal(t, "N/A", docs.last.Data["voyage_number"])

	_, err = h.call("generate_bill_of_lading", map[string]any{"shipment_id": "job-404"})
	requireKind(t, err, toolerr.KindNotFound)
}

func TestPortalLink(t *testing.T) {
	h := newHarness(t)
	_, err := h.call("generate_customer_portal_link", map[string]any{"shipment_id": "job-1"})
	requireKind(t, err, toolerr.KindBusiness)

	h = newHarness(t, tools.WithPortal(fakePortal{}))
	res, err := h.call("generate_customer_portal_link", map[string]any{"shipment_id": "MSCU1234567"})
	require.NoError(t, err)
	pl := res.(tools.PortalLinkResult)
	assert.Equal(t, "https://track.example.com/job-1", pl.TrackingURL)
	assert.Equal(t, now.Add(30*24*time.Hour), pl.ValidUntil)
}

type downStore struct{ storage.Store }

func (downStore) Ping(context.Context) error { return fmt.Errorf("connection refused") }

func TestServerStatus(t *testing.T) {
	h := newHarness(t, tools.WithSessionCount(func() int { return 2 }))
	res, err := h.call("get_server_status", map[string]any{"include_details": true})
	require.NoError(t, err)
	st := res.(tools.ServerStatus)
	assert.Equal(t, "healthy", st.Status)
	assert.Equal(t, "test", st.Version)
	require.NotNil(t, st.Details)
	assert.Equal(t, 22, st.Details.ToolsRegistered)
	assert.Equal(t, "memory", st.Details.Store)
	assert.Equal(t, 2, st.Details.ActiveSessions)

	res, err = h.call("get_server_status", nil)
	require.NoError(t, err)
	assert.Nil(t, res.(tools.ServerStatus).Details)

	reg := registry.New(registry.WithLogger(testutil.TestLogger()))
	engine := query.New(downStore{memory.New()}, query.WithClock(func() time.Time { return now }))
	tools.New(engine, tools.WithLogger(testutil.TestLogger())).Register(reg)
	res, err = reg.Invoke(context.Background(), model.ToolCallEnvelope{Tool: "get_server_status"})
	require.NoError(t, err)
	assert.Equal(t, "degraded", res.(tools.ServerStatus).Status)
}
