package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/query"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// SearchResult is returned by every search tool.
type SearchResult struct {
	Count   int              `json:"count"`
	Results []model.Shipment `json:"results"`
}

// TrackResult is returned by track_shipment. DaysDelayed and IsLate are
// derived from the ETA and are independent of the DELAYED status label.
type TrackResult struct {
	Shipment    model.Shipment `json:"shipment"`
	IsLate      bool           `json:"is_late"`
	DaysDelayed int            `json:"days_delayed"`
}

// ProjectedResult is returned by query_shipments_by_criteria.
type ProjectedResult struct {
	Count   int            `json:"count"`
	Query   map[string]any `json:"query"`
	Results []any          `json:"results"`
}

// DelayedShipment is one row of get_delayed_shipments.
type DelayedShipment struct {
	model.Shipment
	DaysDelayed int `json:"days_delayed"`
}

// DelayedResult is returned by get_delayed_shipments.
type DelayedResult struct {
	Count    int               `json:"count"`
	Criteria string            `json:"criteria"`
	Results  []DelayedShipment `json:"results"`
}

// RouteResult is returned by get_shipments_by_route.
type RouteResult struct {
	Route        map[string]*string `json:"route"`
	Statistics   query.RouteStats   `json:"statistics"`
	GlobalRollup bool               `json:"global_rollup"`
	Shipments    []model.Shipment   `json:"shipments"`
}

// HistoryResult is returned by get_shipment_history.
type HistoryResult struct {
	ShipmentID string             `json:"shipment_id"`
	Count      int                `json:"count"`
	Entries    []model.AuditEntry `json:"entries"`
}

func (c *Catalog) search(ctx context.Context, args map[string]any) (SearchResult, error) {
	f, err := query.ParseFilter(args)
	if err != nil {
		return SearchResult{}, err
	}
	rows, err := c.engine.Search(ctx, f)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Count: len(rows), Results: rows}, nil
}

func (c *Catalog) searchShipments(ctx context.Context, args map[string]any) (any, error) {
	return c.search(ctx, filterArgs(args, map[string]any{"limit": 10}))
}

func (c *Catalog) searchAdvanced(ctx context.Context, args map[string]any) (any, error) {
	return c.search(ctx, filterArgs(args, map[string]any{"limit": 20}))
}

func (c *Catalog) trackShipment(ctx context.Context, args map[string]any) (any, error) {
	s, err := c.resolve(ctx, strArg(args, "identifier"))
	if err != nil {
		return nil, err
	}
	days, late := query.DaysLate(s, c.engine.Now())
	return TrackResult{Shipment: s, IsLate: late, DaysDelayed: days}, nil
}

func (c *Catalog) queryByCriteria(ctx context.Context, args map[string]any) (any, error) {
	fargs := filterArgs(args, map[string]any{"limit": 10, "sort_by": "eta", "sort_order": "asc"}, "include_fields")
	f, err := query.ParseFilter(fargs)
	if err != nil {
		return nil, err
	}
	rows, err := c.engine.Search(ctx, f)
	if err != nil {
		return nil, err
	}

	var fields []string
	if raw, ok := args["include_fields"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				fields = append(fields, s)
			}
		}
	} else if ss, ok := args["include_fields"].([]string); ok {
		fields = ss
	}

	out := ProjectedResult{
		Count: len(rows),
		Query: map[string]any{
			"search_text": f.Text(),
			"sort_by":     fargs["sort_by"],
			"sort_order":  fargs["sort_order"],
		},
		Results: make([]any, 0, len(rows)),
	}
	for _, s := range rows {
		if len(fields) == 0 {
			out.Results = append(out.Results, s)
			continue
		}
		p, err := project(s, fields)
		if err != nil {
			return nil, toolerr.Internal(err, "project shipment")
		}
		out.Results = append(out.Results, p)
	}
	return out, nil
}

// project returns only the named fields of s. Absent optional fields are
// reported as null rather than dropped.
func project(s model.Shipment, fields []string) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = all[f]
	}
	return out, nil
}

func (c *Catalog) analytics(ctx context.Context, _ map[string]any) (any, error) {
	return c.engine.ComputeAnalytics(ctx)
}

func (c *Catalog) delayed(ctx context.Context, args map[string]any) (any, error) {
	days, err := intArg(args, "days_delayed", 1)
	if err != nil {
		return nil, err
	}
	rows, err := c.engine.DetectDelayed(ctx, days)
	if err != nil {
		return nil, err
	}
	out := DelayedResult{
		Count:    len(rows),
		Criteria: fmt.Sprintf("Delayed by %d+ days", days),
		Results:  make([]DelayedShipment, 0, len(rows)),
	}
	for _, d := range rows {
		out.Results = append(out.Results, DelayedShipment{Shipment: d.Shipment, DaysDelayed: d.DaysDelayed})
	}
	return out, nil
}

func (c *Catalog) byRoute(ctx context.Context, args map[string]any) (any, error) {
	q := query.RouteQuery{
		Origin:      strArg(args, "origin"),
		Destination: strArg(args, "destination"),
	}
	if raw := strArg(args, "status_filter"); raw != "" {
		st, err := model.ParseStatus(raw)
		if err != nil {
			return nil, toolerr.Validation("status_filter", "%v", err)
		}
		q.Status = &st
	}
	rep, err := c.engine.RouteStatistics(ctx, q)
	if err != nil {
		return nil, err
	}
	return RouteResult{
		Route:        map[string]*string{"origin": optStr(args, "origin"), "destination": optStr(args, "destination")},
		Statistics:   rep.Stats,
		GlobalRollup: rep.GlobalRollup,
		Shipments:    rep.Shipments,
	}, nil
}

func (c *Catalog) history(ctx context.Context, args map[string]any) (any, error) {
	limit, err := intArg(args, "limit", 20)
	if err != nil {
		return nil, err
	}
	s, err := c.resolve(ctx, strArg(args, "identifier"))
	if err != nil {
		return nil, err
	}
	entries, err := c.store.History(ctx, s.ID, limit)
	if err != nil {
		return nil, toolerr.Internal(err, "read history")
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return HistoryResult{ShipmentID: s.ID, Count: len(entries), Entries: entries}, nil
}
