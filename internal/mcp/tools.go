package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// Catalog is the registry surface the bridge publishes.
type Catalog interface {
	Invoker
	List() []registry.Descriptor
}

func (s *Server) registerTools(reg Catalog) {
	for _, d := range reg.List() {
		tool := mcplib.NewToolWithRawSchema(d.Name, d.Description, d.InputSchema)
		readOnly := d.ReadOnly
		destructive := false
		tool.Annotations.ReadOnlyHint = &readOnly
		tool.Annotations.DestructiveHint = &destructive
		s.mcpServer.AddTool(tool, s.handler(d.Name))
	}
}

func (s *Server) handler(name string) func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		result, err := s.inv.Invoke(ctx, model.ToolCallEnvelope{
			Tool:      name,
			Arguments: req.GetArguments(),
			SessionID: sessionID(ctx),
			Transport: model.TransportMCP,
		})
		if err != nil {
			return errorResult(err), nil
		}
		text, err := json.Marshal(result)
		if err != nil {
			s.logger.Error("mcp: encode result", "tool", name, "error", err)
			return errorResult(toolerr.Internal(err, "encode result")), nil
		}
		return &mcplib.CallToolResult{
			Content:           []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(text)}},
			StructuredContent: json.RawMessage(text),
		}, nil
	}
}

// failure is the structured payload of an error result.
type failure struct {
	Class   toolerr.Kind `json:"class"`
	Message string       `json:"message"`
	Field   string       `json:"field,omitempty"`
}

// errorResult reports a tool failure in-band, as MCP expects, with the same
// public message the other transports use.
func errorResult(err error) *mcplib.CallToolResult {
	te := toolerr.As(err)
	msg := toolerr.Public(te)
	return &mcplib.CallToolResult{
		Content:           []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		StructuredContent: failure{Class: te.Kind, Message: msg, Field: te.Field},
		IsError:           true,
	}
}
