package kaiun

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/storage"
)

// seedFile upserts every shipment in the JSON array at path.
func seedFile(ctx context.Context, st storage.Store, path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from config or the CLI
	if err != nil {
		return 0, fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return seed(ctx, st, f)
}

// seed validates the whole document before writing anything, so a bad row
// never leaves the store half seeded.
func seed(ctx context.Context, st storage.Store, r io.Reader) (int, error) {
	var rows []model.Shipment
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rows); err != nil {
		return 0, fmt.Errorf("seed: decode: %w", err)
	}
	seen := make(map[string]int, len(rows))
	for i, s := range rows {
		if err := s.Validate(); err != nil {
			return 0, fmt.Errorf("seed: record %d: %w", i, err)
		}
		if j, dup := seen[s.ID]; dup {
			return 0, fmt.Errorf("seed: record %d: id %q repeats record %d", i, s.ID, j)
		}
		seen[s.ID] = i
	}
	for i, s := range rows {
		if _, err := st.Upsert(ctx, s); err != nil {
			return i, fmt.Errorf("seed: upsert %s: %w", s.ID, err)
		}
	}
	return len(rows), nil
}
