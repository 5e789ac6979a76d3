package model

import (
	"fmt"
	"strings"
	"time"
)

// ShipmentStatus is the lifecycle state of a shipment.
type ShipmentStatus string

const (
	StatusInTransit   ShipmentStatus = "IN_TRANSIT"
	StatusDelivered   ShipmentStatus = "DELIVERED"
	StatusDelayed     ShipmentStatus = "DELAYED"
	StatusAtPort      ShipmentStatus = "AT_PORT"
	StatusCustomsHold ShipmentStatus = "CUSTOMS_HOLD"
)

// Statuses lists every valid status in declaration order.
var Statuses = []ShipmentStatus{
	StatusInTransit,
	StatusDelivered,
	StatusDelayed,
	StatusAtPort,
	StatusCustomsHold,
}

// ParseStatus normalizes s (case-insensitive, surrounding whitespace ignored)
// and returns the matching status.
func ParseStatus(s string) (ShipmentStatus, error) {
	norm := ShipmentStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range Statuses {
		if st == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// Terminal reports whether no further movement is expected.
func (s ShipmentStatus) Terminal() bool {
	return s == StatusDelivered
}

// Active reports whether the vessel carrying the shipment is considered
// operating (at sea or calling at a port).
func (s ShipmentStatus) Active() bool {
	return s == StatusInTransit || s == StatusAtPort
}

// Shipment is a single shipment record. ID is immutable once created.
type Shipment struct {
	ID                string         `json:"id"`
	ContainerNo       *string        `json:"container_no,omitempty"`
	MasterBill        *string        `json:"master_bill,omitempty"`
	VesselName        *string        `json:"vessel_name,omitempty"`
	VoyageNumber      *string        `json:"voyage_number,omitempty"`
	OriginPort        string         `json:"origin_port"`
	DestinationPort   string         `json:"destination_port"`
	Status            ShipmentStatus `json:"status_code"`
	StatusDescription *string        `json:"status_description,omitempty"`
	ETD               *time.Time     `json:"etd,omitempty"`
	ETA               *time.Time     `json:"eta,omitempty"`
	CurrentLocation   *string        `json:"current_location,omitempty"`
	CurrentLat        *float64       `json:"current_lat,omitempty"`
	CurrentLng        *float64       `json:"current_lng,omitempty"`
	RiskFlag          bool           `json:"risk_flag"`
	AgentNotes        *string        `json:"agent_notes,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Validate checks the invariants a record must satisfy before it is stored.
func (s Shipment) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(s.OriginPort) == "" {
		return fmt.Errorf("origin_port is required")
	}
	if strings.TrimSpace(s.DestinationPort) == "" {
		return fmt.Errorf("destination_port is required")
	}
	if _, err := ParseStatus(string(s.Status)); err != nil {
		return err
	}
	if (s.CurrentLat == nil) != (s.CurrentLng == nil) {
		return fmt.Errorf("current_lat and current_lng must be set together")
	}
	if !s.CreatedAt.IsZero() && !s.UpdatedAt.IsZero() && s.UpdatedAt.Before(s.CreatedAt) {
		return fmt.Errorf("updated_at must not precede created_at")
	}
	return nil
}

// Str returns the pointed-to string, or "" for nil.
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// StrPtr returns nil for the empty string, otherwise a pointer to s.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// LookupField names a unique-ish field a caller-supplied identifier can match.
type LookupField string

const (
	LookupContainerNo LookupField = "container_no"
	LookupMasterBill  LookupField = "master_bill"
	LookupID          LookupField = "id"
)

// ResolveOrder is the precedence used when resolving a caller identifier.
// The first field that matches wins.
var ResolveOrder = []LookupField{LookupContainerNo, LookupMasterBill, LookupID}
