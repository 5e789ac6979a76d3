package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

const (
	uriAnalytics      = "kaiun://shipments/analytics"
	uriShipmentPrefix = "kaiun://shipment/"
	uriHistorySuffix  = "/history"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriAnalytics,
			"Fleet Analytics",
			mcplib.WithResourceDescription("Status breakdown, delays, busiest ports, and upcoming arrivals across every shipment"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAnalytics,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			uriShipmentPrefix+"{identifier}",
			"Shipment",
			mcplib.WithTemplateDescription("One shipment by job id, container number, or bill of lading"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleShipment,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			uriShipmentPrefix+"{identifier}"+uriHistorySuffix,
			"Shipment History",
			mcplib.WithTemplateDescription("Audit trail of changes to one shipment, newest first"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleShipment,
	)
}

func (s *Server) handleAnalytics(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return s.read(ctx, req.Params.URI, "get_shipments_analytics", map[string]any{})
}

func (s *Server) handleShipment(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	id, history, err := parseShipmentURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if history {
		return s.read(ctx, req.Params.URI, "get_shipment_history", map[string]any{"identifier": id})
	}
	return s.read(ctx, req.Params.URI, "track_shipment", map[string]any{"identifier": id})
}

func (s *Server) read(ctx context.Context, uri, tool string, args map[string]any) ([]mcplib.ResourceContents, error) {
	result, err := s.inv.Invoke(ctx, model.ToolCallEnvelope{
		Tool:      tool,
		Arguments: args,
		SessionID: sessionID(ctx),
		Transport: model.TransportMCP,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: read %s: %s", uri, toolerr.Public(err))
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseShipmentURI extracts the identifier from kaiun://shipment/{id} and
// kaiun://shipment/{id}/history. The identifier may be percent-encoded.
func parseShipmentURI(uri string) (id string, history bool, err error) {
	rest, ok := strings.CutPrefix(uri, uriShipmentPrefix)
	if !ok {
		return "", false, fmt.Errorf("mcp: invalid shipment URI: %s", uri)
	}
	rest, history = strings.CutSuffix(rest, uriHistorySuffix)
	if strings.Contains(rest, "/") {
		return "", false, fmt.Errorf("mcp: invalid shipment URI: %s", uri)
	}
	id, err = url.PathUnescape(rest)
	if err != nil {
		return "", false, fmt.Errorf("mcp: invalid shipment URI: %s: %w", uri, err)
	}
	if strings.TrimSpace(id) == "" {
		return "", false, fmt.Errorf("mcp: invalid shipment URI: empty identifier")
	}
	return id, history, nil
}
