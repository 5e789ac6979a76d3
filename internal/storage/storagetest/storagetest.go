// Package storagetest holds the behavioral suite every storage.Store
// implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/storage"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) storage.Store

// Shipment returns a minimal valid record.
func Shipment(id string) model.Shipment {
	return model.Shipment{
		ID:              id,
		OriginPort:      "Shanghai, China",
		DestinationPort: "Rotterdam, Netherlands",
		Status:          model.StatusInTransit,
	}
}

// Run exercises the storage.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("UpsertAndGet", func(t *testing.T) { testUpsertAndGet(t, newStore(t)) })
	t.Run("UpsertPreservesCreatedAt", func(t *testing.T) { testUpsertPreservesCreatedAt(t, newStore(t)) })
	t.Run("ScanOrder", func(t *testing.T) { testScanOrder(t, newStore(t)) })
	t.Run("ResolvePrecedence", func(t *testing.T) { testResolvePrecedence(t, newStore(t)) })
	t.Run("MutateWritesAudit", func(t *testing.T) { testMutateWritesAudit(t, newStore(t)) })
	t.Run("MutateErrorLeavesRecord", func(t *testing.T) { testMutateErrorLeavesRecord(t, newStore(t)) })
	t.Run("MutateNotFound", func(t *testing.T) { testMutateNotFound(t, newStore(t)) })
	t.Run("ConcurrentMutations", func(t *testing.T) { testConcurrentMutations(t, newStore(t)) })
}

func testUpsertAndGet(t *testing.T, st storage.Store) {
	ctx := context.Background()
	in := Shipment("job-1")
	in.ContainerNo = model.StrPtr("MSCU1234567")
	eta := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in.ETA = &eta
	lat, lng := 51.95, 4.14
	in.CurrentLat, in.CurrentLng = &lat, &lng

	stored, err := st.Upsert(ctx, in)
	require.NoError(t, err)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.False(t, stored.UpdatedAt.Before(stored.CreatedAt))

	got, err := st.Get(ctx, model.LookupContainerNo, "MSCU1234567")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	require.NotNil(t, got.ETA)
	assert.True(t, eta.Equal(*got.ETA))
	require.NotNil(t, got.CurrentLat)
	assert.InDelta(t, 51.95, *got.CurrentLat, 1e-9)

	_, err = st.Get(ctx, model.LookupMasterBill, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpsertPreservesCreatedAt(t *testing.T, st storage.Store) {
	ctx := context.Background()
	first, err := st.Upsert(ctx, Shipment("job-1"))
	require.NoError(t, err)

	again := Shipment("job-1")
	again.Status = model.StatusAtPort
	again.CreatedAt = first.CreatedAt.Add(-48 * time.Hour)
	second, err := st.Upsert(ctx, again)
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.Equal(t, model.StatusAtPort, second.Status)
}

func testScanOrder(t *testing.T, st storage.Store) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		s := Shipment(id)
		s.CreatedAt = base.Add(time.Duration(i%2) * time.Hour)
		_, err := st.Upsert(ctx, s)
		require.NoError(t, err)
	}
	rows, err := st.Scan(ctx, storage.All)
	require.NoError(t, err)
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	// c and b share the earliest created_at; ties break on id.
	assert.Equal(t, []string{"b", "c", "a"}, ids)

	only, err := st.Scan(ctx, func(s model.Shipment) bool { return s.ID == "a" })
	require.NoError(t, err)
	assert.Len(t, only, 1)
}

func testResolvePrecedence(t *testing.T, st storage.Store) {
	ctx := context.Background()
	// A record whose id collides with another record's container number.
	byID := Shipment("MSCU0000001")
	_, err := st.Upsert(ctx, byID)
	require.NoError(t, err)
	byContainer := Shipment("job-2")
	byContainer.ContainerNo = model.StrPtr("MSCU0000001")
	byContainer.MasterBill = model.StrPtr("MBL-77")
	_, err = st.Upsert(ctx, byContainer)
	require.NoError(t, err)

	got, err := storage.Resolve(ctx, st, "MSCU0000001")
	require.NoError(t, err)
	assert.Equal(t, "job-2", got.ID, "container number wins over id")

	got, err = storage.Resolve(ctx, st, " MBL-77 ")
	require.NoError(t, err)
	assert.Equal(t, "job-2", got.ID)

	_, err = storage.Resolve(ctx, st, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = storage.Resolve(ctx, st, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func setRisk(flag bool) storage.MutateFunc {
	return func(s *model.Shipment) (model.AuditEntry, error) {
		old := strconv.FormatBool(s.RiskFlag)
		s.RiskFlag = flag
		return model.AuditEntry{
			Action:    model.AuditSetRiskFlag,
			FieldName: "risk_flag",
			OldValue:  &old,
			NewValue:  model.StrPtr(strconv.FormatBool(flag)),
		}, nil
	}
}

func testMutateWritesAudit(t *testing.T, st storage.Store) {
	ctx := context.Background()
	_, err := st.Upsert(ctx, Shipment("job-1"))
	require.NoError(t, err)

	m, err := st.Mutate(ctx, "job-1", setRisk(true))
	require.NoError(t, err)
	assert.False(t, m.Before.RiskFlag)
	assert.True(t, m.After.RiskFlag)
	assert.Equal(t, "job-1", m.Audit.ShipmentID)
	assert.False(t, m.After.UpdatedAt.Before(m.Before.UpdatedAt))

	hist, err := st.History(ctx, "job-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, m.Audit.ID, hist[0].ID)
	assert.Equal(t, model.AuditSetRiskFlag, hist[0].Action)
	assert.Equal(t, "false", model.Str(hist[0].OldValue))
	assert.Equal(t, "true", model.Str(hist[0].NewValue))

	got, err := st.Get(ctx, model.LookupID, "job-1")
	require.NoError(t, err)
	assert.True(t, got.RiskFlag)
}

func testMutateErrorLeavesRecord(t *testing.T, st storage.Store) {
	ctx := context.Background()
	_, err := st.Upsert(ctx, Shipment("job-1"))
	require.NoError(t, err)

	boom := errors.New("rejected")
	_, err = st.Mutate(ctx, "job-1", func(s *model.Shipment) (model.AuditEntry, error) {
		s.RiskFlag = true
		return model.AuditEntry{}, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := st.Get(ctx, model.LookupID, "job-1")
	require.NoError(t, err)
	assert.False(t, got.RiskFlag)
	hist, err := st.History(ctx, "job-1", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)

	_, err = st.Mutate(ctx, "job-1", func(s *model.Shipment) (model.AuditEntry, error) {
		s.ID = "job-2"
		return model.AuditEntry{}, nil
	})
	assert.Error(t, err, "id changes are rejected")
}

func testMutateNotFound(t *testing.T, st storage.Store) {
	_, err := st.Mutate(context.Background(), "ghost", setRisk(true))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentMutations(t *testing.T, st storage.Store) {
	ctx := context.Background()
	_, err := st.Upsert(ctx, Shipment("job-1"))
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(flag bool) {
			defer wg.Done()
			if _, err := st.Mutate(ctx, "job-1", setRisk(flag)); err != nil {
				errs <- err
			}
		}(i%2 == 0)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	hist, err := st.History(ctx, "job-1", 100)
	require.NoError(t, err)
	require.Len(t, hist, n)

	// Replaying the audit trail oldest-first must form an unbroken chain.
	prev := "false"
	for i := len(hist) - 1; i >= 0; i-- {
		assert.Equal(t, prev, model.Str(hist[i].OldValue), fmt.Sprintf("entry %d", i))
		prev = model.Str(hist[i].NewValue)
	}
	got, err := st.Get(ctx, model.LookupID, "job-1")
	require.NoError(t, err)
	assert.Equal(t, prev, strconv.FormatBool(got.RiskFlag))
}
