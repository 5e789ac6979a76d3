package query

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// Result size bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// SortKey names a sortable record field.
type SortKey string

const (
	SortNone        SortKey = ""
	SortID          SortKey = "id"
	SortETA         SortKey = "eta"
	SortETD         SortKey = "etd"
	SortStatus      SortKey = "status_code"
	SortRiskFlag    SortKey = "risk_flag"
	SortCreatedAt   SortKey = "created_at"
	SortUpdatedAt   SortKey = "updated_at"
	SortOrigin      SortKey = "origin_port"
	SortDestination SortKey = "destination_port"
	SortVessel      SortKey = "vessel_name"
)

var sortKeys = map[SortKey]bool{
	SortID: true, SortETA: true, SortETD: true, SortStatus: true, SortRiskFlag: true,
	SortCreatedAt: true, SortUpdatedAt: true, SortOrigin: true, SortDestination: true, SortVessel: true,
}

// FilterSpec is a validated search request. The zero value matches every
// record with the default limit. Build one with ParseFilter or NewFilter.
type FilterSpec struct {
	statuses    []model.ShipmentStatus
	riskFlag    *bool
	containerNo string
	masterBill  string
	vesselName  string
	voyage      string
	origin      string
	destination string
	location    string
	etaFrom     *time.Time
	etaTo       *time.Time
	text        string
	limit       *int
	sortKey     SortKey
	desc        bool
}

// Limit returns the effective result bound after defaulting and clamping.
func (f FilterSpec) Limit() int {
	if f.limit == nil {
		return DefaultLimit
	}
	return min(*f.limit, MaxLimit)
}

// Text returns the free-text clause, if any.
func (f FilterSpec) Text() string { return f.text }

// Sort returns the requested sort key and whether it is descending.
func (f FilterSpec) Sort() (SortKey, bool) { return f.sortKey, f.desc }

// Match reports whether s satisfies every clause.
func (f FilterSpec) Match(s model.Shipment) bool {
	if len(f.statuses) > 0 && !containsStatus(f.statuses, s.Status) {
		return false
	}
	if f.riskFlag != nil && s.RiskFlag != *f.riskFlag {
		return false
	}
	if !equalFoldOpt(f.containerNo, s.ContainerNo) ||
		!equalFoldOpt(f.masterBill, s.MasterBill) ||
		!equalFoldOpt(f.vesselName, s.VesselName) ||
		!equalFoldOpt(f.voyage, s.VoyageNumber) {
		return false
	}
	if f.origin != "" && !containsFold(s.OriginPort, f.origin) {
		return false
	}
	if f.destination != "" && !containsFold(s.DestinationPort, f.destination) {
		return false
	}
	if f.location != "" && !containsFold(model.Str(s.CurrentLocation), f.location) {
		return false
	}
	if f.etaFrom != nil || f.etaTo != nil {
		if s.ETA == nil {
			return false
		}
		if f.etaFrom != nil && s.ETA.Before(*f.etaFrom) {
			return false
		}
		if f.etaTo != nil && s.ETA.After(*f.etaTo) {
			return false
		}
	}
	if f.text != "" && !MatchText(s, f.text) {
		return false
	}
	return true
}

// MatchText reports whether text occurs, case-insensitively, in any of the
// free-text searchable fields of s.
func MatchText(s model.Shipment, text string) bool {
	for _, v := range []string{
		model.Str(s.ContainerNo),
		model.Str(s.MasterBill),
		model.Str(s.VesselName),
		s.OriginPort,
		s.DestinationPort,
		model.Str(s.CurrentLocation),
		model.Str(s.StatusDescription),
	} {
		if containsFold(v, text) {
			return true
		}
	}
	return false
}

// Clause configures one dimension of a FilterSpec built with NewFilter.
type Clause func(*FilterSpec) error

// NewFilter builds a FilterSpec from typed clauses.
func NewFilter(clauses ...Clause) (FilterSpec, error) {
	var f FilterSpec
	for _, c := range clauses {
		if err := c(&f); err != nil {
			return FilterSpec{}, err
		}
	}
	return f, nil
}

// StatusIn restricts results to the given statuses.
func StatusIn(statuses ...model.ShipmentStatus) Clause {
	return func(f *FilterSpec) error {
		for _, s := range statuses {
			if _, err := model.ParseStatus(string(s)); err != nil {
				return toolerr.Validation("status_codes", "%v", err)
			}
		}
		f.statuses = append(f.statuses, statuses...)
		return nil
	}
}

// Risk restricts results to records whose risk flag equals flagged.
func Risk(flagged bool) Clause {
	return func(f *FilterSpec) error { f.riskFlag = &flagged; return nil }
}

// Vessel matches the vessel name exactly, ignoring case.
func Vessel(name string) Clause {
	return func(f *FilterSpec) error { f.vesselName = strings.TrimSpace(name); return nil }
}

// Origin matches a substring of the origin port.
func Origin(s string) Clause {
	return func(f *FilterSpec) error { f.origin = strings.TrimSpace(s); return nil }
}

// Destination matches a substring of the destination port.
func Destination(s string) Clause {
	return func(f *FilterSpec) error { f.destination = strings.TrimSpace(s); return nil }
}

// Text adds a free-text OR clause.
func Text(s string) Clause {
	return func(f *FilterSpec) error { f.text = strings.TrimSpace(s); return nil }
}

// Limit bounds the result size. Negative values are rejected.
func Limit(n int) Clause {
	return func(f *FilterSpec) error {
		if n < 0 {
			return toolerr.Validation("limit", "must be >= 0, got %d", n)
		}
		f.limit = &n
		return nil
	}
}

// SortBy orders results by key, ascending unless desc is set.
func SortBy(key SortKey, desc bool) Clause {
	return func(f *FilterSpec) error {
		if key != SortNone && !sortKeys[key] {
			return toolerr.Validation("sort_by", "unsupported sort key %q", key)
		}
		f.sortKey, f.desc = key, desc
		return nil
	}
}

// ParseFilter validates raw tool arguments into a FilterSpec. Unknown keys,
// malformed dates, and out-of-range limits are rejected here so that no
// invalid request ever reaches the store.
func ParseFilter(args map[string]any) (FilterSpec, error) {
	var f FilterSpec
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := args[key]
		if v == nil {
			continue
		}
		var err error
		switch key {
		case "status", "status_code":
			var s string
			if s, err = asString(key, v); err == nil {
				err = parseStatuses(&f, key, []string{s})
			}
		case "status_codes":
			var ss []string
			if ss, err = asStrings(key, v); err == nil {
				err = parseStatuses(&f, key, ss)
			}
		case "risk_flag":
			b, ok := v.(bool)
			if !ok {
				return FilterSpec{}, toolerr.Validation(key, "must be a boolean")
			}
			f.riskFlag = &b
		case "container_no":
			f.containerNo, err = asString(key, v)
		case "master_bill":
			f.masterBill, err = asString(key, v)
		case "vessel_name":
			f.vesselName, err = asString(key, v)
		case "voyage_number":
			f.voyage, err = asString(key, v)
		case "origin_port", "origin":
			f.origin, err = asString(key, v)
		case "destination_port", "destination":
			f.destination, err = asString(key, v)
		case "current_location":
			f.location, err = asString(key, v)
		case "eta_from":
			f.etaFrom, err = asDate(key, v, false)
		case "eta_to":
			f.etaTo, err = asDate(key, v, true)
		case "search_text", "text", "query":
			f.text, err = asString(key, v)
		case "limit":
			var n int
			if n, err = AsInt(key, v); err == nil {
				err = Limit(n)(&f)
			}
		case "sort_by":
			var s string
			if s, err = asString(key, v); err == nil {
				err = SortBy(SortKey(strings.ToLower(s)), f.desc)(&f)
			}
		case "sort_order":
			var s string
			if s, err = asString(key, v); err == nil {
				switch strings.ToLower(s) {
				case "asc", "":
					f.desc = false
				case "desc":
					f.desc = true
				default:
					err = toolerr.Validation(key, "must be asc or desc")
				}
			}
		default:
			return FilterSpec{}, toolerr.Validation(key, "unknown filter key")
		}
		if err != nil {
			return FilterSpec{}, err
		}
	}
	if f.etaFrom != nil && f.etaTo != nil && f.etaTo.Before(*f.etaFrom) {
		return FilterSpec{}, toolerr.Validation("eta_to", "must not precede eta_from")
	}
	return f, nil
}

func parseStatuses(f *FilterSpec, key string, raw []string) error {
	for _, r := range raw {
		st, err := model.ParseStatus(r)
		if err != nil {
			return toolerr.Validation(key, "%v", err)
		}
		f.statuses = append(f.statuses, st)
	}
	return nil
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", toolerr.Validation(key, "must be a string")
	}
	return strings.TrimSpace(s), nil
}

func asStrings(key string, v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, toolerr.Validation(key, "must be an array of strings")
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		// Accept "IN_TRANSIT,DELAYED" from callers that cannot send arrays.
		return strings.Split(vv, ","), nil
	}
	return nil, toolerr.Validation(key, "must be an array of strings")
}

// AsInt converts a decoded JSON number to an int, rejecting fractions.
// Integers outside the int range saturate at math.MaxInt or math.MinInt.
func AsInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return floatToInt(key, n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil && !math.IsInf(f, 0) {
			return 0, toolerr.Validation(key, "must be an integer")
		}
		return floatToInt(key, f)
	}
	return 0, toolerr.Validation(key, "must be an integer")
}

func floatToInt(key string, n float64) (int, error) {
	switch {
	case math.IsNaN(n) || n != math.Trunc(n):
		return 0, toolerr.Validation(key, "must be an integer")
	case n >= math.MaxInt64:
		return math.MaxInt, nil
	case n <= math.MinInt64:
		return math.MinInt, nil
	}
	return int(n), nil
}

// ParseDate accepts RFC 3339 timestamps and YYYY-MM-DD dates (UTC). With
// endOfDay set, a bare date means the last instant of that day.
func ParseDate(key, s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, toolerr.Validation(key, "invalid date %q, want YYYY-MM-DD or RFC 3339", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func asDate(key string, v any, endOfDay bool) (*time.Time, error) {
	s, err := asString(key, v)
	if err != nil {
		return nil, err
	}
	t, err := ParseDate(key, s, endOfDay)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func containsStatus(set []model.ShipmentStatus, s model.ShipmentStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func equalFoldOpt(want string, got *string) bool {
	return want == "" || strings.EqualFold(want, model.Str(got))
}
