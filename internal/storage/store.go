package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaiun/internal/model"
)

// Predicate selects records during a scan.
type Predicate func(model.Shipment) bool

// All matches every record.
func All(model.Shipment) bool { return true }

// MutateFunc applies exactly one change to s and describes it as an audit
// entry. Returning an error aborts the mutation with no side effects.
type MutateFunc func(s *model.Shipment) (model.AuditEntry, error)

// Store is the record store contract consumed by the query engine and the
// mutation handlers. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the first record whose field equals value, in default order.
	Get(ctx context.Context, field model.LookupField, value string) (model.Shipment, error)
	// Scan returns every record matching pred, ordered by (created_at, id).
	Scan(ctx context.Context, pred Predicate) ([]model.Shipment, error)
	// Upsert creates or replaces the record with s.ID and returns the stored row.
	Upsert(ctx context.Context, s model.Shipment) (model.Shipment, error)
	// Mutate applies fn to the record with the given primary id atomically,
	// refreshes updated_at, and persists the audit entry fn returns.
	Mutate(ctx context.Context, id string, fn MutateFunc) (model.Mutation, error)
	// History returns audit entries for a shipment, newest first.
	History(ctx context.Context, shipmentID string, limit int) ([]model.AuditEntry, error)
	Ping(ctx context.Context) error
	Name() string
}

// Resolve finds the record a caller-supplied identifier refers to, trying
// container number, then bill of lading, then primary id.
func Resolve(ctx context.Context, st Store, ref string) (model.Shipment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Shipment{}, ErrNotFound
	}
	for _, field := range model.ResolveOrder {
		s, err := st.Get(ctx, field, ref)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.Shipment{}, err
		}
	}
	return model.Shipment{}, ErrNotFound
}

// SortDefault orders records by creation time, then id.
func SortDefault(rows []model.Shipment) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}

// FieldValue returns the lookup field of s, or "" when unset.
func FieldValue(s model.Shipment, field model.LookupField) string {
	switch field {
	case model.LookupContainerNo:
		return model.Str(s.ContainerNo)
	case model.LookupMasterBill:
		return model.Str(s.MasterBill)
	case model.LookupID:
		return s.ID
	}
	return ""
}

// ApplyMutation runs fn against a copy of current and returns the completed
// mutation with timestamps and audit id filled in. In-process stores share
// it so every backend enforces the same rules. Timestamps are truncated to
// microseconds, the finest precision every backend round-trips.
func ApplyMutation(current model.Shipment, fn MutateFunc, now time.Time) (model.Mutation, error) {
	now = now.Truncate(time.Microsecond)
	next := current
	entry, err := fn(&next)
	if err != nil {
		return model.Mutation{}, err
	}
	if next.ID != current.ID {
		return model.Mutation{}, fmt.Errorf("storage: shipment id is immutable")
	}
	if next.CreatedAt != current.CreatedAt {
		next.CreatedAt = current.CreatedAt
	}
	if err := next.Validate(); err != nil {
		return model.Mutation{}, fmt.Errorf("storage: invalid mutation: %w", err)
	}
	if now.Before(next.CreatedAt) {
		now = next.CreatedAt
	}
	next.UpdatedAt = now

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.ShipmentID = current.ID
	entry.CreatedAt = now
	return model.Mutation{Before: current, After: next, Audit: entry}, nil
}

// PrepareUpsert fills timestamps for an upsert, truncated like ApplyMutation.
// existing is nil for inserts.
func PrepareUpsert(s model.Shipment, existing *model.Shipment, now time.Time) (model.Shipment, error) {
	now = now.Truncate(time.Microsecond)
	switch {
	case existing != nil:
		s.CreatedAt = existing.CreatedAt
	case s.CreatedAt.IsZero():
		s.CreatedAt = now
	}
	s.CreatedAt = s.CreatedAt.UTC().Truncate(time.Microsecond)
	s.UpdatedAt = now
	if s.UpdatedAt.Before(s.CreatedAt) {
		s.UpdatedAt = s.CreatedAt
	}
	if err := s.Validate(); err != nil {
		return model.Shipment{}, fmt.Errorf("storage: invalid shipment: %w", err)
	}
	return s, nil
}
