package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/registry"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// ProtocolVersion is reported by initialize.
const ProtocolVersion = "2024-11-05"

// Meta carries transport context into the envelope.
type Meta struct {
	Transport string
	SessionID string
	RequestID string
}

// Content is one block of a tools/call result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the result of tools/call. StructuredContent is the tool's
// result value; Content carries the same value as JSON text.
type CallResult struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent"`
	IsError           bool      `json:"isError"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Dispatcher routes decoded requests to the tool registry.
type Dispatcher struct {
	reg     *registry.Registry
	name    string
	version string
}

// NewDispatcher creates a dispatcher reporting name and version from
// initialize.
func NewDispatcher(reg *registry.Registry, name, version string) *Dispatcher {
	return &Dispatcher{reg: reg, name: name, version: version}
}

// Dispatch handles one request and returns its response. Notifications are
// still executed; the caller decides whether to write the response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, meta Meta) Response {
	switch req.Method {
	case "initialize":
		return Result(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"serverInfo":      map[string]string{"name": d.name, "version": d.version},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
	case "ping", "notifications/initialized":
		return Result(req.ID, struct{}{})
	case "tools/list":
		return Result(req.ID, map[string]any{"tools": d.reg.List()})
	case "tools/call":
		return d.call(ctx, req, meta)
	}
	return Failure(req.ID, &Error{
		Code:    CodeMethodNotFound,
		Message: fmt.Sprintf("method %q not found", req.Method),
		Data:    &ErrorData{Class: string(toolerr.KindNotFound)},
	})
}

func (d *Dispatcher) call(ctx context.Context, req Request, meta Meta) Response {
	var p callParams
	if len(req.Params) == 0 {
		return Failure(req.ID, invalidParams("params are required"))
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return Failure(req.ID, invalidParams("params must be {name, arguments}"))
	}
	if p.Name == "" {
		return Failure(req.ID, &Error{
			Code: CodeInvalidParams, Message: "name is required",
			Data: &ErrorData{Class: string(toolerr.KindProtocol), Field: "name"},
		})
	}
	if !d.reg.Has(p.Name) {
		return Failure(req.ID, &Error{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("unknown tool %q", p.Name),
			Data:    &ErrorData{Class: string(toolerr.KindNotFound)},
		})
	}

	result, err := d.reg.Invoke(ctx, model.ToolCallEnvelope{
		Tool:      p.Name,
		Arguments: p.Arguments,
		RequestID: meta.RequestID,
		SessionID: meta.SessionID,
		Transport: meta.Transport,
	})
	if err != nil {
		return Failure(req.ID, FromError(err))
	}
	text, err := json.Marshal(result)
	if err != nil {
		return Failure(req.ID, FromError(toolerr.Internal(err, "encode result")))
	}
	return Result(req.ID, CallResult{
		Content:           []Content{{Type: "text", Text: string(text)}},
		StructuredContent: json.RawMessage(text),
	})
}

func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg, Data: &ErrorData{Class: string(toolerr.KindProtocol)}}
}
