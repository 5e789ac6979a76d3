package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaiun/internal/query"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/testutil"
	"github.com/ashita-ai/kaiun/internal/tools"
)

var now = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := testutil.SeedMemory(now)
	engine := query.New(st, query.WithClock(func() time.Time { return now }))
	reg := registry.New(registry.WithLogger(testutil.TestLogger()))
	tools.New(engine, tools.WithLogger(testutil.TestLogger())).Register(reg)
	reg.Freeze()
	return New(reg, "test", testutil.TestLogger())
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	res, err := s.handler(name)(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func text(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestToolsList(t *testing.T) {
	s := newTestServer(t)
	msg := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Tools []struct {
				Name        string         `json:"name"`
				InputSchema map[string]any `json:"inputSchema"`
				Annotations struct {
					ReadOnlyHint *bool `json:"readOnlyHint"`
				} `json:"annotations"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Len(t, resp.Result.Tools, 22)

	byName := map[string]int{}
	for i, tool := range resp.Result.Tools {
		byName[tool.Name] = i
	}
	track := resp.Result.Tools[byName["track_shipment"]]
	assert.Equal(t, []any{"identifier"}, track.InputSchema["required"])
	require.NotNil(t, track.Annotations.ReadOnlyHint)
	assert.True(t, *track.Annotations.ReadOnlyHint)

	flag := resp.Result.Tools[byName["set_risk_flag"]]
	require.NotNil(t, flag.Annotations.ReadOnlyHint)
	assert.False(t, *flag.Annotations.ReadOnlyHint)
}

func TestCallTool_Success(t *testing.T) {
	s := newTestServer(t)
	res := callTool(t, s, "track_shipment", map[string]any{"identifier": "MBL-1001"})
	assert.False(t, res.IsError)

	var got tools.TrackResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	assert.Equal(t, "job-1", got.Shipment.ID)
	assert.True(t, got.IsLate)
	assert.Equal(t, 3, got.DaysDelayed)

	structured, ok := res.StructuredContent.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, text(t, res), string(structured))
}

func TestCallTool_Errors(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name  string
		tool  string
		args  map[string]any
		class string
		field string
	}{
		{"not found", "track_shipment", map[string]any{"identifier": "nope"}, "NotFound", ""},
		{"validation", "search_shipments", map[string]any{"limit": -1}, "ValidationFailure", "limit"},
		{"unknown argument", "track_shipment", map[string]any{"identifier": "job-1", "extra": 1}, "ValidationFailure", ""},
		{"business", "predictive_delay_detection", map[string]any{"identifier": "job-1"}, "BusinessFailure", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, s, tt.tool, tt.args)
			require.True(t, res.IsError)
			f, ok := res.StructuredContent.(failure)
			require.True(t, ok)
			assert.Equal(t, tt.class, string(f.Class))
			if tt.field != "" {
				assert.Equal(t, tt.field, f.Field)
			}
			assert.Equal(t, f.Message, text(t, res))
		})
	}
}

func TestCallTool_ThroughProtocol(t *testing.T) {
	s := newTestServer(t)
	msg := s.MCPServer().HandleMessage(context.Background(), json.RawMessage(
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"get_delayed_shipments","arguments":{"days_delayed":1}}}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			IsError           bool                `json:"isError"`
			StructuredContent tools.DelayedResult `json:"structuredContent"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.False(t, resp.Result.IsError)
	require.Equal(t, 1, resp.Result.StructuredContent.Count)
	assert.Equal(t, "job-1", resp.Result.StructuredContent.Results[0].ID)
}
