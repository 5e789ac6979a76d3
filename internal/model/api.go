package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Field length limits for caller-supplied free text. They keep a single
// oversized note from bloating every subsequent read of the record.
const (
	MaxNoteLen      = 4 * 1024
	MaxReasonLen    = 1024
	MaxAgentNameLen = 128
	MaxNotesTotal   = 64 * 1024
)

// ValidateNote checks an operator note before it is appended.
func ValidateNote(note, agentName string) error {
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("note must not be empty")
	}
	if utf8.RuneCountInString(note) > MaxNoteLen {
		return fmt.Errorf("note exceeds maximum length of %d characters", MaxNoteLen)
	}
	if utf8.RuneCountInString(agentName) > MaxAgentNameLen {
		return fmt.Errorf("agent_name exceeds maximum length of %d characters", MaxAgentNameLen)
	}
	return nil
}

// ValidateReason checks the free-text reason attached to a mutation.
func ValidateReason(reason string) error {
	if utf8.RuneCountInString(reason) > MaxReasonLen {
		return fmt.Errorf("reason exceeds maximum length of %d characters", MaxReasonLen)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "UNAVAILABLE"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PortalView is the public, read-only projection served to customers who
// follow a portal tracking link. Operator notes and risk flags are omitted.
type PortalView struct {
	ShipmentID      string         `json:"shipment_id"`
	ContainerNo     *string        `json:"container_no,omitempty"`
	VesselName      *string        `json:"vessel_name,omitempty"`
	OriginPort      string         `json:"origin_port"`
	DestinationPort string         `json:"destination_port"`
	Status          ShipmentStatus `json:"status_code"`
	ETA             *time.Time     `json:"eta,omitempty"`
	CurrentLocation *string        `json:"current_location,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LinkExpiresAt   time.Time      `json:"link_expires_at"`
}

// NewPortalView projects s for a portal link expiring at expires.
func NewPortalView(s Shipment, expires time.Time) PortalView {
	return PortalView{
		ShipmentID:      s.ID,
		ContainerNo:     s.ContainerNo,
		VesselName:      s.VesselName,
		OriginPort:      s.OriginPort,
		DestinationPort: s.DestinationPort,
		Status:          s.Status,
		ETA:             s.ETA,
		CurrentLocation: s.CurrentLocation,
		UpdatedAt:       s.UpdatedAt,
		LinkExpiresAt:   expires,
	}
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Store          string `json:"store"`
	StoreStatus    string `json:"store_status"`
	ActiveSessions int    `json:"active_sessions"`
	Tools          int    `json:"tools"`
	SSEBroker      string `json:"sse_broker,omitempty"`
	Uptime         int64  `json:"uptime_seconds"`
}
