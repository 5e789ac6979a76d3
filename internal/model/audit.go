package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the kind of mutation recorded in the audit trail.
type AuditAction string

const (
	AuditUpdateETA   AuditAction = "UPDATE_ETA"
	AuditSetRiskFlag AuditAction = "SET_RISK_FLAG"
	AuditAddNote     AuditAction = "ADD_NOTE"
)

// AuditEntry records one field change applied to a shipment. It is written
// in the same atomic step as the change itself.
type AuditEntry struct {
	ID         uuid.UUID   `json:"id"`
	ShipmentID string      `json:"shipment_id"`
	Action     AuditAction `json:"action"`
	FieldName  string      `json:"field_name"`
	OldValue   *string     `json:"old_value,omitempty"`
	NewValue   *string     `json:"new_value,omitempty"`
	Reason     *string     `json:"reason,omitempty"`
	AgentID    *string     `json:"agent_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Mutation is the outcome of an atomic read-modify-write on one shipment.
type Mutation struct {
	Before Shipment   `json:"before"`
	After  Shipment   `json:"after"`
	Audit  AuditEntry `json:"audit"`
}

// ShipmentEvent is published on the change feed after a successful mutation.
type ShipmentEvent struct {
	ShipmentID string      `json:"shipment_id"`
	Action     AuditAction `json:"action"`
	Field      string      `json:"field"`
	OldValue   *string     `json:"old_value,omitempty"`
	NewValue   *string     `json:"new_value,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
