package model

// Transport names used in envelopes, logs, and metrics.
const (
	TransportStream = "stream"
	TransportRPC    = "rpc"
	TransportVoice  = "voice"
	TransportMCP    = "mcp"
)

// ToolCallEnvelope is the normalized form every protocol adapter produces
// before handing a call to the tool registry.
type ToolCallEnvelope struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	RequestID string         `json:"request_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Transport string         `json:"transport,omitempty"`
}
