package query

import (
	"context"
	"sort"
	"time"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// Rollup parameters.
const (
	TopPorts        = 5
	UpcomingHorizon = 7 * 24 * time.Hour
)

// PortCount is one entry in a top-N port ranking.
type PortCount struct {
	Port  string `json:"port"`
	Count int    `json:"count"`
}

// Arrival is a shipment due within the upcoming horizon.
type Arrival struct {
	ID          string    `json:"id"`
	ContainerNo *string   `json:"container_no,omitempty"`
	ETA         time.Time `json:"eta"`
	Destination string    `json:"destination"`
}

// Analytics is a point-in-time rollup over every record.
type Analytics struct {
	Total           int            `json:"total_shipments"`
	StatusBreakdown map[string]int `json:"status_breakdown"`
	RiskFlagged     int            `json:"risk_flagged"`
	TopOrigins      []PortCount    `json:"top_origin_ports"`
	TopDestinations []PortCount    `json:"top_destination_ports"`
	ActiveVessels   []string       `json:"active_vessels"`
	Upcoming        []Arrival      `json:"upcoming_arrivals"`
	// DelayedByStatus counts records labelled DELAYED; DelayedByETA counts
	// undelivered records past their ETA. The two can disagree.
	DelayedByStatus int       `json:"delayed_by_status"`
	DelayedByETA    int       `json:"delayed_by_eta"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}

// ComputeAnalytics aggregates the full record set as of the engine clock.
func (e *Engine) ComputeAnalytics(ctx context.Context) (Analytics, error) {
	rows, err := e.store.Scan(ctx, nil)
	if err != nil {
		return Analytics{}, toolerr.Internal(err, "scan shipments")
	}
	now := e.Now()
	horizon := now.Add(UpcomingHorizon)

	a := Analytics{
		StatusBreakdown: map[string]int{},
		ActiveVessels:   []string{},
		Upcoming:        []Arrival{},
		EvaluatedAt:     now,
	}
	origins := newCounter()
	dests := newCounter()
	vessels := map[string]struct{}{}

	for _, s := range rows {
		a.Total++
		a.StatusBreakdown[string(s.Status)]++
		if s.RiskFlag {
			a.RiskFlagged++
		}
		origins.add(s.OriginPort)
		dests.add(s.DestinationPort)
		if s.Status.Active() && model.Str(s.VesselName) != "" {
			vessels[*s.VesselName] = struct{}{}
		}
		if s.Status == model.StatusDelayed {
			a.DelayedByStatus++
		}
		if _, late := DaysLate(s, now); late {
			a.DelayedByETA++
		}
		if s.ETA != nil && !s.Status.Terminal() && !s.ETA.Before(now) && !s.ETA.After(horizon) {
			a.Upcoming = append(a.Upcoming, Arrival{
				ID: s.ID, ContainerNo: s.ContainerNo, ETA: *s.ETA, Destination: s.DestinationPort,
			})
		}
	}

	for v := range vessels {
		a.ActiveVessels = append(a.ActiveVessels, v)
	}
	sort.Strings(a.ActiveVessels)
	sort.SliceStable(a.Upcoming, func(i, j int) bool { return a.Upcoming[i].ETA.Before(a.Upcoming[j].ETA) })
	a.TopOrigins = origins.top(TopPorts)
	a.TopDestinations = dests.top(TopPorts)
	return a, nil
}

// counter tallies keys and remembers first-seen order for tie-breaking.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter { return &counter{counts: map[string]int{}} }

func (c *counter) add(k string) {
	if _, ok := c.counts[k]; !ok {
		c.order = append(c.order, k)
	}
	c.counts[k]++
}

func (c *counter) top(n int) []PortCount {
	out := make([]PortCount, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, PortCount{Port: k, Count: c.counts[k]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
