// Package mcp exposes the tool catalog over the Model Context Protocol.
//
// Every registry tool becomes an MCP tool with the same name and input
// schema, and calls go through registry.Invoke so validation, timeouts, and
// error classification match the other transports. Shipment records and the
// fleet rollup are also published as read-only resources.
package mcp

import (
	"context"
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kaiun/internal/model"
)

// Invoker is the slice of the tool registry the bridge needs.
type Invoker interface {
	Invoke(ctx context.Context, env model.ToolCallEnvelope) (any, error)
}

// Server wraps the mcp-go server.
type Server struct {
	mcpServer *mcpserver.MCPServer
	inv       Invoker
	logger    *slog.Logger
}

// New creates an MCP server publishing tools. The registry must be frozen.
func New(reg Catalog, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{inv: reg, logger: logger}
	s.mcpServer = mcpserver.NewMCPServer(
		"kaiun",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	s.registerTools(reg)
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// sessionID returns the MCP session id carried by ctx, if any.
func sessionID(ctx context.Context) string {
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
		return session.SessionID()
	}
	return ""
}
