package voice_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaiun/internal/query"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/testutil"
	"github.com/ashita-ai/kaiun/internal/toolerr"
	"github.com/ashita-ai/kaiun/internal/tools"
	"github.com/ashita-ai/kaiun/internal/voice"
)

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T) (*voice.Adapter, *registry.Registry) {
	t.Helper()
	st := testutil.SeedMemory(now)
	engine := query.New(st, query.WithClock(func() time.Time { return now }))
	reg := registry.New(registry.WithLogger(testutil.TestLogger()))
	tools.New(engine, tools.WithLogger(testutil.TestLogger())).Register(reg)
	reg.Freeze()
	return voice.NewAdapter(reg, nil, nil, testutil.TestLogger()), reg
}

func TestDefaultTable_MapsOnlyRegisteredTools(t *testing.T) {
	_, reg := newAdapter(t)
	require.NoError(t, voice.DefaultTable().Validate(reg.Has))
}

func TestTable_Validate(t *testing.T) {
	table, err := voice.ParseTable([]byte("operations:\n  lookup:\n    tool: nope\n"))
	require.NoError(t, err)
	err = table.Validate(func(string) bool { return false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup -> nope")

	_, err = voice.ParseTable([]byte("operations:\n  lookup:\n    rename: {a: b}\n"))
	require.Error(t, err)
}

func TestTable_Resolve(t *testing.T) {
	table := voice.DefaultTable()

	tool, args, ok := table.Resolve("flag_shipment", map[string]any{"shipment_id": "job-1"})
	require.True(t, ok)
	assert.Equal(t, "set_risk_flag", tool)
	assert.Equal(t, map[string]any{"identifier": "job-1", "is_risk": true}, args)

	tool, args, ok = table.Resolve("flag_shipment", map[string]any{"shipment_id": "job-1", "is_risk": false})
	require.True(t, ok)
	assert.Equal(t, "set_risk_flag", tool)
	assert.Equal(t, false, args["is_risk"])

	tool, args, ok = table.Resolve("get_server_status", map[string]any{"include_details": true})
	require.True(t, ok)
	assert.Equal(t, "get_server_status", tool)
	assert.Equal(t, map[string]any{"include_details": true}, args)

	tool, args, ok = table.Resolve("get_shipment_history", map[string]any{"identifier": "job-1"})
	assert.False(t, ok)
	assert.Empty(t, tool)
	assert.Nil(t, args)
}

func TestHandle_RefusesUnlistedCatalogTools(t *testing.T) {
	a, reg := newAdapter(t)
	for _, op := range []string{"get_shipment_history", "generate_customer_portal_link", "send_status_update"} {
		t.Run(op, func(t *testing.T) {
			require.True(t, reg.Has(op))
			body := `{"operation":"` + op + `","parameters":{"identifier":"job-1"}}`
			got := a.Handle(context.Background(), []byte(body), "req-3")
			assert.Equal(t, "Sorry, I don't know how to "+strings.ReplaceAll(op, "_", " ")+".", got)
		})
	}
}

func TestRequest_Synonyms(t *testing.T) {
	r := voice.Request{Function: " track_shipment ", Arguments: map[string]any{"x": 1}}
	assert.Equal(t, "track_shipment", r.Op())
	assert.Equal(t, map[string]any{"x": 1}, r.Params())

	r = voice.Request{Name: "ping"}
	assert.Equal(t, "ping", r.Op())
	assert.Empty(t, r.Params())
}

func TestHandle(t *testing.T) {
	a, _ := newAdapter(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"track by container",
			`{"operation":"get_shipment_details","parameters":{"container_number":"MSCU1234567"}}`,
			"Shipment job-1 is delayed. It's currently at Suez Canal on the MSC Aurora. It is 3 days past its expected arrival.",
		},
		{
			"search",
			`{"operation":"search_shipments","parameters":{"status_code":"IN_TRANSIT"}}`,
			"I found 1 shipment. Shipment 1: job-2, in transit, currently at Pacific Ocean. Would you like details on any specific shipment?",
		},
		{
			"search finds nothing",
			`{"function":"search_shipments","arguments":{"container_no":"ZZZZ0000000"}}`,
			"I didn't find any shipments matching your criteria. Would you like to try a different search?",
		},
		{
			"flag with default",
			`{"operation":"flag_shipment","parameters":{"shipment_id":"job-2"}}`,
			"Successfully updated. Risk flag set for job-2.",
		},
		{
			"vessel",
			`{"operation":"track_vessel","parameters":{"vessel_name":"msc aurora"}}`,
			"The MSC Aurora is currently at Suez Canal. It's carrying 1 shipment.",
		},
		{
			"unknown shipment",
			`{"operation":"track_shipment","parameters":{"shipment_id":"job-404"}}`,
			`I couldn't find that. Shipment "job-404" not found. Please check the ID and try again.`,
		},
		{
			"validation",
			`{"operation":"update_eta","parameters":{"shipment_id":"job-1","eta":"next tuesday"}}`,
			"",
		},
		{
			"unknown operation",
			`{"operation":"book_flight","parameters":{}}`,
			"Sorry, I don't know how to book flight.",
		},
		{"no operation", `{"parameters":{}}`, "I didn't receive a valid request."},
		{"not json", `hello`, "I didn't receive a valid request."},
		{
			"analytics not configured",
			`{"operation":"predict_delay","parameters":{"shipment_id":"job-1"}}`,
			"Sorry, analytics engine not configured.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Handle(context.Background(), []byte(tt.body), "req-1")
			if tt.want == "" {
				assert.Contains(t, got, "I need a valid new eta")
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSentence_HidesInternalDetail(t *testing.T) {
	got := voice.Sentence(errors.New("pq: connection refused"))
	assert.Equal(t, "I encountered an error processing your request. Please try again.", got)
	assert.NotContains(t, got, "InternalError")

	got = voice.Sentence(toolerr.Timeout("slow", context.DeadlineExceeded))
	assert.NotContains(t, got, "Timeout")
}

type failingRenderer struct{}

func (failingRenderer) Render(string, any) (string, error) { return "", errors.New("boom") }

func TestHandle_RenderFailure(t *testing.T) {
	_, reg := newAdapter(t)
	a := voice.NewAdapter(reg, nil, failingRenderer{}, testutil.TestLogger())
	got := a.Handle(context.Background(), []byte(`{"operation":"get_analytics"}`), "req-2")
	assert.Equal(t, "I encountered an error processing your request. Please try again.", got)
}

func TestTextRenderer_Fallback(t *testing.T) {
	got, err := voice.TextRenderer{}.Render("track_container_live", map[string]any{"container_number": "MSCU1234567"})
	require.NoError(t, err)
	assert.Equal(t, `Done. {"container_number":"MSCU1234567"}`, got)
}
