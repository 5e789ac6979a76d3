package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaiun/internal/model"
)

type sqliteErr int

func (e sqliteErr) Error() string { return "sqlite error" }
func (e sqliteErr) Code() int     { return int(e) }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", sqliteErr(5), true},
		{"sqlite busy snapshot", sqliteErr(517), true},
		{"sqlite locked wrapped", fmt.Errorf("sqlite: commit mutate: %w", sqliteErr(6)), true},
		{"sqlite constraint", sqliteErr(19), false},
		{"plain", errors.New("plain"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_GivesUpAfterRetries(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return sqliteErr(5)
	})
	assert.Equal(t, sqliteErr(5), err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonTransientReturnsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, 3, time.Hour, func() error { return &pgconn.PgError{Code: "40P01"} })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApplyMutation_ClampsToCreatedAt(t *testing.T) {
	created := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	cur := model.Shipment{ID: "job-1", OriginPort: "a", DestinationPort: "b",
		Status: model.StatusInTransit, CreatedAt: created, UpdatedAt: created}

	m, err := ApplyMutation(cur, func(s *model.Shipment) (model.AuditEntry, error) {
		s.RiskFlag = true
		s.CreatedAt = time.Time{}
		return model.AuditEntry{Action: model.AuditSetRiskFlag, FieldName: "risk_flag"}, nil
	}, created.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, created, m.After.CreatedAt, "created_at is restored")
	assert.Equal(t, created, m.After.UpdatedAt, "updated_at never precedes created_at")
	assert.Equal(t, "job-1", m.Audit.ShipmentID)
	assert.NotEqual(t, [16]byte{}, [16]byte(m.Audit.ID))
}

func TestApplyMutation_RejectsInvalidResult(t *testing.T) {
	cur := model.Shipment{ID: "job-1", OriginPort: "a", DestinationPort: "b", Status: model.StatusInTransit}
	_, err := ApplyMutation(cur, func(s *model.Shipment) (model.AuditEntry, error) {
		s.Status = "LOST"
		return model.AuditEntry{}, nil
	}, time.Now())
	assert.Error(t, err)
}

func TestPrepareUpsert(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	in := model.Shipment{ID: "job-1", OriginPort: "a", DestinationPort: "b", Status: model.StatusDelayed}

	fresh, err := PrepareUpsert(in, nil, now)
	require.NoError(t, err)
	assert.Equal(t, now, fresh.CreatedAt)

	old := fresh
	old.CreatedAt = now.Add(-72 * time.Hour)
	again, err := PrepareUpsert(in, &old, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, old.CreatedAt, again.CreatedAt)
	assert.Equal(t, now.Add(time.Minute), again.UpdatedAt)
}
