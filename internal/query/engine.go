// Package query turns validated filter specifications into predicates over
// the record store and computes the delay and analytics rollups.
package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the evaluation clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine evaluates searches and rollups against a store.
type Engine struct {
	store storage.Store
	now   func() time.Time
}

// New creates an Engine over store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Now returns the engine's evaluation instant.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// Store returns the underlying record store.
func (e *Engine) Store() storage.Store { return e.store }

// Search returns records matching f, ordered and bounded by f.
func (e *Engine) Search(ctx context.Context, f FilterSpec) ([]model.Shipment, error) {
	limit := f.Limit()
	if limit == 0 {
		return []model.Shipment{}, nil
	}
	rows, err := e.store.Scan(ctx, f.Match)
	if err != nil {
		return nil, toolerr.Internal(err, "scan shipments")
	}
	if key, desc := f.Sort(); key != SortNone {
		sortBy(rows, key, desc)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []model.Shipment{}
	}
	return rows, nil
}

// FreeTextSearch returns records containing text in any searchable field.
func (e *Engine) FreeTextSearch(ctx context.Context, text string, limit int) ([]model.Shipment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, toolerr.Validation("query", "must not be empty")
	}
	f, err := NewFilter(Text(text), Limit(limit))
	if err != nil {
		return nil, err
	}
	return e.Search(ctx, f)
}

// Delayed is a record that is past its ETA and not delivered.
type Delayed struct {
	Shipment    model.Shipment
	DaysDelayed int
}

// DaysLate returns whole days elapsed since eta at now, and false when the
// shipment has no ETA, is delivered, or is not yet due.
func DaysLate(s model.Shipment, now time.Time) (int, bool) {
	if s.ETA == nil || s.Status.Terminal() {
		return 0, false
	}
	late := now.Sub(*s.ETA)
	if late < 0 {
		return 0, false
	}
	return int(late / (24 * time.Hour)), true
}

// DetectDelayed returns undelivered records at least minDays past their ETA,
// most delayed first.
func (e *Engine) DetectDelayed(ctx context.Context, minDays int) ([]Delayed, error) {
	if minDays < 0 {
		return nil, toolerr.Validation("days_delayed", "must be >= 0, got %d", minDays)
	}
	now := e.Now()
	rows, err := e.store.Scan(ctx, func(s model.Shipment) bool {
		d, late := DaysLate(s, now)
		return late && d >= minDays
	})
	if err != nil {
		return nil, toolerr.Internal(err, "scan shipments")
	}
	out := make([]Delayed, 0, len(rows))
	for _, s := range rows {
		d, _ := DaysLate(s, now)
		out = append(out, Delayed{Shipment: s, DaysDelayed: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysDelayed > out[j].DaysDelayed })
	return out, nil
}

// RouteQuery selects a trade route. Empty ports match everything.
type RouteQuery struct {
	Origin      string
	Destination string
	Status      *model.ShipmentStatus
}

// RouteStats summarizes the records on a route.
type RouteStats struct {
	Total     int `json:"total"`
	InTransit int `json:"in_transit"`
	// Delayed counts records past ETA and not delivered.
	Delayed int `json:"delayed"`
	// DelayedLabel counts records whose status is DELAYED.
	DelayedLabel int `json:"delayed_label"`
	AtRisk       int `json:"at_risk"`
}

// RouteReport is the outcome of RouteStatistics.
type RouteReport struct {
	Shipments    []model.Shipment
	Stats        RouteStats
	GlobalRollup bool
}

// RouteStatistics returns records on a route with summary counts. With
// neither port given the whole data set is summarized.
func (e *Engine) RouteStatistics(ctx context.Context, q RouteQuery) (RouteReport, error) {
	origin := strings.TrimSpace(q.Origin)
	dest := strings.TrimSpace(q.Destination)
	rows, err := e.store.Scan(ctx, func(s model.Shipment) bool {
		if origin != "" && !containsFold(s.OriginPort, origin) {
			return false
		}
		if dest != "" && !containsFold(s.DestinationPort, dest) {
			return false
		}
		return q.Status == nil || s.Status == *q.Status
	})
	if err != nil {
		return RouteReport{}, toolerr.Internal(err, "scan shipments")
	}

	now := e.Now()
	rep := RouteReport{Shipments: rows, GlobalRollup: origin == "" && dest == ""}
	if rep.Shipments == nil {
		rep.Shipments = []model.Shipment{}
	}
	for _, s := range rows {
		rep.Stats.Total++
		if s.Status == model.StatusInTransit {
			rep.Stats.InTransit++
		}
		if s.Status == model.StatusDelayed {
			rep.Stats.DelayedLabel++
		}
		if _, late := DaysLate(s, now); late {
			rep.Stats.Delayed++
		}
		if s.RiskFlag {
			rep.Stats.AtRisk++
		}
	}
	return rep, nil
}

// sortBy orders rows by key with id as the tie-breaker. Records missing
// the key sort last in both directions.
func sortBy(rows []model.Shipment, key SortKey, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		c, aNil, bNil := compare(rows[i], rows[j], key)
		switch {
		case aNil && bNil:
			return rows[i].ID < rows[j].ID
		case aNil:
			return false
		case bNil:
			return true
		}
		if c == 0 {
			return rows[i].ID < rows[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b model.Shipment, key SortKey) (c int, aNil, bNil bool) {
	switch key {
	case SortETA:
		return compareTime(a.ETA, b.ETA)
	case SortETD:
		return compareTime(a.ETD, b.ETD)
	case SortCreatedAt:
		return compareTime(&a.CreatedAt, &b.CreatedAt)
	case SortUpdatedAt:
		return compareTime(&a.UpdatedAt, &b.UpdatedAt)
	case SortStatus:
		return strings.Compare(string(a.Status), string(b.Status)), false, false
	case SortRiskFlag:
		return boolInt(a.RiskFlag) - boolInt(b.RiskFlag), false, false
	case SortOrigin:
		return strings.Compare(a.OriginPort, b.OriginPort), false, false
	case SortDestination:
		return strings.Compare(a.DestinationPort, b.DestinationPort), false, false
	case SortVessel:
		return compareStr(a.VesselName, b.VesselName)
	}
	return strings.Compare(a.ID, b.ID), false, false
}

func compareTime(a, b *time.Time) (int, bool, bool) {
	if a == nil || b == nil {
		return 0, a == nil, b == nil
	}
	return a.Compare(*b), false, false
}

func compareStr(a, b *string) (int, bool, bool) {
	if a == nil || b == nil {
		return 0, a == nil, b == nil
	}
	return strings.Compare(*a, *b), false, false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
