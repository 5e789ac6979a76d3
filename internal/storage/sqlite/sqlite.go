// Package sqlite implements storage.Store on an embedded SQLite database
// using the pure-Go modernc driver. It suits single-node deployments that
// want durable records without running Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/storage"
)

// tsLayout is fixed-width so lexical order equals chronological order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS shipments (
    id                 TEXT PRIMARY KEY,
    container_no       TEXT,
    master_bill        TEXT,
    vessel_name        TEXT,
    voyage_number      TEXT,
    origin_port        TEXT NOT NULL,
    destination_port   TEXT NOT NULL,
    status_code        TEXT NOT NULL,
    status_description TEXT,
    etd                TEXT,
    eta                TEXT,
    current_location   TEXT,
    current_lat        REAL,
    current_lng        REAL,
    risk_flag          INTEGER NOT NULL DEFAULT 0,
    agent_notes        TEXT,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shipments_container_no ON shipments(container_no);
CREATE INDEX IF NOT EXISTS idx_shipments_master_bill ON shipments(master_bill);
CREATE INDEX IF NOT EXISTS idx_shipments_created ON shipments(created_at, id);

CREATE TABLE IF NOT EXISTS audit_log (
    id          TEXT PRIMARY KEY,
    shipment_id TEXT NOT NULL,
    action      TEXT NOT NULL,
    field_name  TEXT NOT NULL,
    old_value   TEXT,
    new_value   TEXT,
    reason      TEXT,
    agent_id    TEXT,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_shipment ON audit_log(shipment_id, created_at);
`

const columns = `id, container_no, master_bill, vessel_name, voyage_number,
	origin_port, destination_port, status_code, status_description, etd, eta,
	current_location, current_lat, current_lng, risk_flag, agent_notes, created_at, updated_at`

var lookupColumns = map[model.LookupField]string{
	model.LookupContainerNo: "container_no",
	model.LookupMasterBill:  "master_bill",
	model.LookupID:          "id",
}

// Store is a SQLite-backed storage.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection serializes writers and keeps ":memory:" databases whole.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Name() string { return "sqlite" }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanShipment(row scanner) (model.Shipment, error) {
	var (
		sh                                   model.Shipment
		containerNo, masterBill, vessel      sql.NullString
		voyage, statusDesc, etd, eta, curLoc sql.NullString
		notes                                sql.NullString
		lat, lng                             sql.NullFloat64
		status, createdAt, updatedAt         string
		risk                                 int
	)
	if err := row.Scan(&sh.ID, &containerNo, &masterBill, &vessel, &voyage,
		&sh.OriginPort, &sh.DestinationPort, &status, &statusDesc, &etd, &eta,
		&curLoc, &lat, &lng, &risk, &notes, &createdAt, &updatedAt); err != nil {
		return model.Shipment{}, err
	}
	sh.ContainerNo = nullStr(containerNo)
	sh.MasterBill = nullStr(masterBill)
	sh.VesselName = nullStr(vessel)
	sh.VoyageNumber = nullStr(voyage)
	sh.Status = model.ShipmentStatus(status)
	sh.StatusDescription = nullStr(statusDesc)
	sh.CurrentLocation = nullStr(curLoc)
	sh.AgentNotes = nullStr(notes)
	sh.RiskFlag = risk != 0
	if lat.Valid && lng.Valid {
		sh.CurrentLat, sh.CurrentLng = &lat.Float64, &lng.Float64
	}
	var err error
	if sh.ETD, err = nullTime(etd); err != nil {
		return model.Shipment{}, err
	}
	if sh.ETA, err = nullTime(eta); err != nil {
		return model.Shipment{}, err
	}
	if sh.CreatedAt, err = time.Parse(tsLayout, createdAt); err != nil {
		return model.Shipment{}, err
	}
	if sh.UpdatedAt, err = time.Parse(tsLayout, updatedAt); err != nil {
		return model.Shipment{}, err
	}
	return sh, nil
}

func (s *Store) Get(ctx context.Context, field model.LookupField, value string) (model.Shipment, error) {
	col, ok := lookupColumns[field]
	if !ok {
		return model.Shipment{}, fmt.Errorf("sqlite: unknown lookup field %q", field)
	}
	sh, err := scanShipment(s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM shipments WHERE `+col+` = ? ORDER BY created_at, id LIMIT 1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Shipment{}, storage.ErrNotFound
		}
		return model.Shipment{}, fmt.Errorf("sqlite: get shipment: %w", err)
	}
	return sh, nil
}

func (s *Store) Scan(ctx context.Context, pred storage.Predicate) ([]model.Shipment, error) {
	if pred == nil {
		pred = storage.All
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM shipments ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan shipments: %w", err)
	}
	defer rows.Close()

	var out []model.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan shipment row: %w", err)
		}
		if pred(sh) {
			out = append(out, sh)
		}
	}
	return out, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, sh model.Shipment) (model.Shipment, error) {
	var stored model.Shipment
	err := storage.RetryMutation(ctx, func() error {
		var err error
		stored, err = s.upsert(ctx, sh)
		return err
	})
	return stored, err
}

func (s *Store) upsert(ctx context.Context, sh model.Shipment) (model.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Shipment{}, fmt.Errorf("sqlite: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing *model.Shipment
	cur, err := scanShipment(tx.QueryRowContext(ctx,
		`SELECT `+columns+` FROM shipments WHERE id = ?`, sh.ID))
	switch {
	case err == nil:
		existing = &cur
	case !errors.Is(err, sql.ErrNoRows):
		return model.Shipment{}, fmt.Errorf("sqlite: load shipment %s: %w", sh.ID, err)
	}

	stored, err := storage.PrepareUpsert(sh, existing, s.now())
	if err != nil {
		return model.Shipment{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO shipments (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shipmentArgs(stored)...); err != nil {
		return model.Shipment{}, fmt.Errorf("sqlite: upsert shipment %s: %w", sh.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Shipment{}, fmt.Errorf("sqlite: commit upsert: %w", err)
	}
	return stored, nil
}

// Mutate runs fn inside an immediate transaction, so concurrent writers
// queue on the database lock rather than interleaving. A write that still
// finds the database busy starts over.
func (s *Store) Mutate(ctx context.Context, id string, fn storage.MutateFunc) (model.Mutation, error) {
	var m model.Mutation
	err := storage.RetryMutation(ctx, func() error {
		var err error
		m, err = s.mutate(ctx, id, fn)
		return err
	})
	return m, err
}

func (s *Store) mutate(ctx context.Context, id string, fn storage.MutateFunc) (model.Mutation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Mutation{}, fmt.Errorf("sqlite: begin mutate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanShipment(tx.QueryRowContext(ctx,
		`SELECT `+columns+` FROM shipments WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Mutation{}, storage.ErrNotFound
		}
		return model.Mutation{}, fmt.Errorf("sqlite: load shipment %s: %w", id, err)
	}

	m, err := storage.ApplyMutation(cur, fn, s.now())
	if err != nil {
		return model.Mutation{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO shipments (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shipmentArgs(m.After)...); err != nil {
		return model.Mutation{}, fmt.Errorf("sqlite: update shipment %s: %w", id, err)
	}
	a := m.Audit
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (id, shipment_id, action, field_name, old_value, new_value, reason, agent_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.ShipmentID, string(a.Action), a.FieldName,
		a.OldValue, a.NewValue, a.Reason, a.AgentID, a.CreatedAt.UTC().Format(tsLayout)); err != nil {
		return model.Mutation{}, fmt.Errorf("sqlite: insert audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Mutation{}, fmt.Errorf("sqlite: commit mutate: %w", err)
	}
	return m, nil
}

func (s *Store) History(ctx context.Context, shipmentID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, shipment_id, action, field_name, old_value, new_value, reason, agent_id, created_at
		 FROM audit_log WHERE shipment_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		shipmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query audit log: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e                                   model.AuditEntry
			id, action, createdAt               string
			oldValue, newValue, reason, agentID sql.NullString
		)
		if err := rows.Scan(&id, &e.ShipmentID, &action, &e.FieldName,
			&oldValue, &newValue, &reason, &agentID, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite: parse audit id: %w", err)
		}
		if e.CreatedAt, err = time.Parse(tsLayout, createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: parse audit time: %w", err)
		}
		e.Action = model.AuditAction(action)
		e.OldValue, e.NewValue = nullStr(oldValue), nullStr(newValue)
		e.Reason, e.AgentID = nullStr(reason), nullStr(agentID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func shipmentArgs(sh model.Shipment) []any {
	risk := 0
	if sh.RiskFlag {
		risk = 1
	}
	return []any{
		sh.ID, sh.ContainerNo, sh.MasterBill, sh.VesselName, sh.VoyageNumber,
		sh.OriginPort, sh.DestinationPort, string(sh.Status), sh.StatusDescription,
		fmtTime(sh.ETD), fmtTime(sh.ETA), sh.CurrentLocation, sh.CurrentLat, sh.CurrentLng,
		risk, sh.AgentNotes, sh.CreatedAt.UTC().Format(tsLayout), sh.UpdatedAt.UTC().Format(tsLayout),
	}
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(tsLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func fmtTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(tsLayout)
}
