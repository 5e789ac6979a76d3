// Package memory implements storage.Store in process memory. It backs tests
// and single-node deployments that seed from a fixture file.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/storage"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a mutex-guarded map of shipments with an append-only audit slice.
// Readers never observe a partially applied mutation.
type Store struct {
	mu    sync.RWMutex
	rows  map[string]model.Shipment
	audit []model.AuditEntry
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		rows: make(map[string]model.Shipment),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Ping(context.Context) error { return nil }

// Get returns the earliest-created record whose field equals value.
func (s *Store) Get(ctx context.Context, field model.LookupField, value string) (model.Shipment, error) {
	if value == "" {
		return model.Shipment{}, storage.ErrNotFound
	}
	rows, err := s.Scan(ctx, func(sh model.Shipment) bool {
		return storage.FieldValue(sh, field) == value
	})
	if err != nil {
		return model.Shipment{}, err
	}
	if len(rows) == 0 {
		return model.Shipment{}, storage.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) Scan(ctx context.Context, pred storage.Predicate) ([]model.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pred == nil {
		pred = storage.All
	}
	s.mu.RLock()
	out := make([]model.Shipment, 0, len(s.rows))
	for _, row := range s.rows {
		if pred(row) {
			out = append(out, row)
		}
	}
	s.mu.RUnlock()
	storage.SortDefault(out)
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, sh model.Shipment) (model.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return model.Shipment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *model.Shipment
	if cur, ok := s.rows[sh.ID]; ok {
		existing = &cur
	}
	stored, err := storage.PrepareUpsert(sh, existing, s.now())
	if err != nil {
		return model.Shipment{}, err
	}
	s.rows[stored.ID] = stored
	return stored, nil
}

func (s *Store) Mutate(ctx context.Context, id string, fn storage.MutateFunc) (model.Mutation, error) {
	if err := ctx.Err(); err != nil {
		return model.Mutation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rows[id]
	if !ok {
		return model.Mutation{}, storage.ErrNotFound
	}
	m, err := storage.ApplyMutation(cur, fn, s.now())
	if err != nil {
		return model.Mutation{}, err
	}
	s.rows[id] = m.After
	s.audit = append(s.audit, m.Audit)
	return m, nil
}

func (s *Store) History(_ context.Context, shipmentID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AuditEntry
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audit[i].ShipmentID == shipmentID {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}
