package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kaiun/internal/model"
)

const shipmentColumns = `id, container_no, master_bill, vessel_name, voyage_number,
	origin_port, destination_port, status_code, status_description, etd, eta,
	current_location, current_lat, current_lng, risk_flag, agent_notes, created_at, updated_at`

// lookupColumns maps lookup fields to column names. Only these values are
// ever interpolated into SQL.
var lookupColumns = map[model.LookupField]string{
	model.LookupContainerNo: "container_no",
	model.LookupMasterBill:  "master_bill",
	model.LookupID:          "id",
}

func scanShipment(row pgx.Row) (model.Shipment, error) {
	var s model.Shipment
	var status string
	err := row.Scan(
		&s.ID, &s.ContainerNo, &s.MasterBill, &s.VesselName, &s.VoyageNumber,
		&s.OriginPort, &s.DestinationPort, &status, &s.StatusDescription, &s.ETD, &s.ETA,
		&s.CurrentLocation, &s.CurrentLat, &s.CurrentLng, &s.RiskFlag, &s.AgentNotes,
		&s.CreatedAt, &s.UpdatedAt,
	)
	s.Status = model.ShipmentStatus(status)
	return s, err
}

// Get returns the first shipment whose field equals value.
func (db *DB) Get(ctx context.Context, field model.LookupField, value string) (model.Shipment, error) {
	col, ok := lookupColumns[field]
	if !ok {
		return model.Shipment{}, fmt.Errorf("storage: unknown lookup field %q", field)
	}
	s, err := scanShipment(db.pool.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE `+col+` = $1
		 ORDER BY created_at, id LIMIT 1`, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Shipment{}, ErrNotFound
		}
		return model.Shipment{}, fmt.Errorf("storage: get shipment: %w", err)
	}
	return s, nil
}

// Scan streams every shipment in default order and keeps those matching pred.
func (db *DB) Scan(ctx context.Context, pred Predicate) ([]model.Shipment, error) {
	if pred == nil {
		pred = All
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+shipmentColumns+` FROM shipments ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: scan shipments: %w", err)
	}
	defer rows.Close()

	var out []model.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan shipment row: %w", err)
		}
		if pred(s) {
			out = append(out, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan shipments: %w", err)
	}
	return out, nil
}

// Upsert inserts s or replaces the existing row with the same id. The stored
// created_at is never overwritten.
func (db *DB) Upsert(ctx context.Context, s model.Shipment) (model.Shipment, error) {
	var stored model.Shipment
	err := RetryMutation(ctx, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		var existing *model.Shipment
		cur, err := scanShipment(tx.QueryRow(ctx,
			`SELECT `+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, s.ID))
		switch {
		case err == nil:
			existing = &cur
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		stored, err = PrepareUpsert(s, existing, time.Now().UTC())
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO shipments (`+shipmentColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			 ON CONFLICT (id) DO UPDATE SET
			   container_no = EXCLUDED.container_no,
			   master_bill = EXCLUDED.master_bill,
			   vessel_name = EXCLUDED.vessel_name,
			   voyage_number = EXCLUDED.voyage_number,
			   origin_port = EXCLUDED.origin_port,
			   destination_port = EXCLUDED.destination_port,
			   status_code = EXCLUDED.status_code,
			   status_description = EXCLUDED.status_description,
			   etd = EXCLUDED.etd,
			   eta = EXCLUDED.eta,
			   current_location = EXCLUDED.current_location,
			   current_lat = EXCLUDED.current_lat,
			   current_lng = EXCLUDED.current_lng,
			   risk_flag = EXCLUDED.risk_flag,
			   agent_notes = EXCLUDED.agent_notes,
			   updated_at = EXCLUDED.updated_at`,
			shipmentArgs(stored)...,
		); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return model.Shipment{}, fmt.Errorf("storage: upsert shipment %s: %w", s.ID, err)
	}
	return stored, nil
}

// Mutate locks the row, applies fn, and writes the updated row and its audit
// entry in one transaction. Errors returned by fn are passed through as is.
func (db *DB) Mutate(ctx context.Context, id string, fn MutateFunc) (model.Mutation, error) {
	var (
		out     model.Mutation
		userErr error
	)
	err := RetryMutation(ctx, func() error {
		userErr = nil
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		cur, err := scanShipment(tx.QueryRow(ctx,
			`SELECT `+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		m, err := ApplyMutation(cur, fn, time.Now().UTC())
		if err != nil {
			userErr = err
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE shipments SET
			   container_no = $2, master_bill = $3, vessel_name = $4, voyage_number = $5,
			   origin_port = $6, destination_port = $7, status_code = $8, status_description = $9,
			   etd = $10, eta = $11, current_location = $12, current_lat = $13, current_lng = $14,
			   risk_flag = $15, agent_notes = $16, created_at = $17, updated_at = $18
			 WHERE id = $1`,
			shipmentArgs(m.After)...,
		); err != nil {
			return err
		}
		if err := insertAudit(ctx, tx, m.Audit); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		out = m
		return nil
	})
	if userErr != nil {
		return model.Mutation{}, userErr
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Mutation{}, ErrNotFound
		}
		return model.Mutation{}, fmt.Errorf("storage: mutate shipment %s: %w", id, err)
	}
	return out, nil
}

func shipmentArgs(s model.Shipment) []any {
	return []any{
		s.ID, s.ContainerNo, s.MasterBill, s.VesselName, s.VoyageNumber,
		s.OriginPort, s.DestinationPort, string(s.Status), s.StatusDescription, s.ETD, s.ETA,
		s.CurrentLocation, s.CurrentLat, s.CurrentLng, s.RiskFlag, s.AgentNotes,
		s.CreatedAt, s.UpdatedAt,
	}
}
