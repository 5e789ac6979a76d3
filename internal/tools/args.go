package tools

import (
	"maps"
	"strings"

	"github.com/ashita-ai/kaiun/internal/query"
)

// Arguments have already passed schema validation, so these helpers only
// normalize. In-process callers may pass Go ints where the wire sends
// float64, which query.AsInt absorbs.

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func optStr(args map[string]any, key string) *string {
	s := strArg(args, key)
	if s == "" {
		return nil
	}
	return &s
}

func boolArg(args map[string]any, key string, def bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return def
}

func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	return query.AsInt(key, v)
}

// filterArgs copies args for query.ParseFilter, dropping keys the tool
// handles itself and filling defaults that differ from the engine's.
func filterArgs(args map[string]any, defaults map[string]any, drop ...string) map[string]any {
	out := maps.Clone(args)
	if out == nil {
		out = map[string]any{}
	}
	for _, k := range drop {
		delete(out, k)
	}
	for k, v := range defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}
