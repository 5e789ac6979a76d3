// Package testutil provides shared test infrastructure: a disposable Postgres
// container for integration tests and a quiet logger.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    code := m.Run()
//	    tc.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/storage/memory"
	"github.com/ashita-ai/kaiun/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a Postgres container. Calls os.Exit(1) on failure
// (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kaiun",
			"POSTGRES_PASSWORD": "kaiun",
			"POSTGRES_DB":       "kaiun",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://kaiun:kaiun@%s:%s/kaiun?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB connects to the container with LISTEN/NOTIFY enabled and runs all
// migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Fixture returns the three-record data set used across handler and adapter
// tests, with timestamps relative to now.
func Fixture(now time.Time) []model.Shipment {
	at := func(d time.Duration) *time.Time { t := now.Add(d); return &t }
	lat, lng := 31.23, 121.47
	return []model.Shipment{
		{
			ID:              "job-1",
			ContainerNo:     model.StrPtr("MSCU1234567"),
			MasterBill:      model.StrPtr("MBL-1001"),
			VesselName:      model.StrPtr("MSC Aurora"),
			VoyageNumber:    model.StrPtr("AU-221"),
			OriginPort:      "Shanghai, China",
			DestinationPort: "Rotterdam, Netherlands",
			Status:          model.StatusDelayed,
			ETD:             at(-20 * 24 * time.Hour),
			ETA:             at(-3 * 24 * time.Hour),
			CurrentLocation: model.StrPtr("Suez Canal"),
			CreatedAt:       now.Add(-30 * 24 * time.Hour),
		},
		{
			ID:              "job-2",
			ContainerNo:     model.StrPtr("MAEU7654321"),
			MasterBill:      model.StrPtr("MBL-2002"),
			VesselName:      model.StrPtr("Maersk Horizon"),
			OriginPort:      "Shanghai, China",
			DestinationPort: "Los Angeles, USA",
			Status:          model.StatusInTransit,
			ETD:             at(-10 * 24 * time.Hour),
			ETA:             at(5 * 24 * time.Hour),
			CurrentLocation: model.StrPtr("Pacific Ocean"),
			CurrentLat:      &lat,
			CurrentLng:      &lng,
			CreatedAt:       now.Add(-20 * 24 * time.Hour),
		},
		{
			ID:              "job-3",
			ContainerNo:     model.StrPtr("CMAU5550001"),
			VesselName:      model.StrPtr("CMA CGM Atlas"),
			OriginPort:      "Singapore",
			DestinationPort: "Hamburg, Germany",
			Status:          model.StatusDelivered,
			ETD:             at(-40 * 24 * time.Hour),
			ETA:             at(-8 * 24 * time.Hour),
			CreatedAt:       now.Add(-45 * 24 * time.Hour),
		},
	}
}

// SeedMemory returns an in-memory store holding Fixture(now) whose clock is
// frozen at now.
func SeedMemory(now time.Time) *memory.Store {
	st := memory.New(memory.WithClock(func() time.Time { return now }))
	for _, s := range Fixture(now) {
		if _, err := st.Upsert(context.Background(), s); err != nil {
			panic(fmt.Sprintf("testutil: seed %s: %v", s.ID, err))
		}
	}
	return st
}
