// Package jsonrpc implements the JSON-RPC 2.0 envelope shared by the
// synchronous and streaming transports, and maps tool failures onto
// JSON-RPC error codes.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// Error codes. The -32000 range carries the tool failure taxonomy.
const (
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeSessionNotFound = -32001
	CodeTimeout         = -32002
	CodeBusinessFailure = -32003
	CodeRecordNotFound  = -32004
)

// Request is a decoded JSON-RPC request. ID is nil for notifications.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the caller expects no response.
func (r Request) IsNotification() bool { return len(r.ID) == 0 }

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData names the failure class and, for validation failures, the
// offending argument.
type ErrorData struct {
	Class string `json:"class"`
	Field string `json:"field,omitempty"`
}

func (e *Error) Error() string { return e.Message }

var nullID = json.RawMessage("null")

// Decode parses body into a single request. Batches are rejected.
func Decode(body []byte) (Request, *Error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Request{}, protocolError(CodeInvalidRequest, "empty request body")
	}
	if trimmed[0] == '[' {
		if !json.Valid(trimmed) {
			return Request{}, protocolError(CodeParseError, "parse error")
		}
		return Request{}, protocolError(CodeInvalidRequest, "batch requests are not supported")
	}
	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) || !json.Valid(trimmed) {
			return Request{}, protocolError(CodeParseError, "parse error")
		}
		return Request{}, protocolError(CodeInvalidRequest, "invalid request: "+err.Error())
	}
	if req.JSONRPC != Version {
		return req, protocolError(CodeInvalidRequest, `jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return req, protocolError(CodeInvalidRequest, "method is required")
	}
	if !validID(req.ID) {
		return req, protocolError(CodeInvalidRequest, "id must be a string, number, or null")
	}
	return req, nil
}

func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return true
	}
	switch id[0] {
	case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	}
	return false
}

func protocolError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg, Data: &ErrorData{Class: string(toolerr.KindProtocol)}}
}

// Result builds a success response for id.
func Result(id json.RawMessage, v any) Response {
	if len(id) == 0 {
		id = nullID
	}
	if v == nil {
		v = struct{}{}
	}
	return Response{JSONRPC: Version, ID: id, Result: v}
}

// Failure builds an error response for id.
func Failure(id json.RawMessage, e *Error) Response {
	if len(id) == 0 {
		id = nullID
	}
	return Response{JSONRPC: Version, ID: id, Error: e}
}

// FromError maps a classified failure onto a JSON-RPC error. Internal
// failures carry only the generic public message.
func FromError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	te := toolerr.As(err)
	return &Error{
		Code:    CodeFor(te.Kind),
		Message: toolerr.Public(te),
		Data:    &ErrorData{Class: string(te.Kind), Field: te.Field},
	}
}

// CodeFor returns the JSON-RPC code for a failure class.
func CodeFor(k toolerr.Kind) int {
	switch k {
	case toolerr.KindProtocol:
		return CodeInvalidRequest
	case toolerr.KindNotFound:
		return CodeRecordNotFound
	case toolerr.KindValidation:
		return CodeInvalidParams
	case toolerr.KindSessionNotFound:
		return CodeSessionNotFound
	case toolerr.KindTimeout:
		return CodeTimeout
	case toolerr.KindBusiness:
		return CodeBusinessFailure
	}
	return CodeInternalError
}
