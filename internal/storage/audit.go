package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kaiun/internal/model"
)

// DefaultHistoryLimit bounds History when the caller passes a non-positive limit.
const DefaultHistoryLimit = 100

// insertAudit appends e inside tx. The audit table is append-only.
func insertAudit(ctx context.Context, tx pgx.Tx, e model.AuditEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO audit_log (id, shipment_id, action, field_name, old_value, new_value, reason, agent_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ShipmentID, string(e.Action), e.FieldName, e.OldValue, e.NewValue, e.Reason, e.AgentID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit entry: %w", err)
	}
	return nil
}

// History returns audit entries for a shipment, newest first.
func (db *DB) History(ctx context.Context, shipmentID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, shipment_id, action, field_name, old_value, new_value, reason, agent_id, created_at
		 FROM audit_log WHERE shipment_id = $1
		 ORDER BY seq DESC LIMIT $2`, shipmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query audit log: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var action string
		if err := rows.Scan(&e.ID, &e.ShipmentID, &action, &e.FieldName,
			&e.OldValue, &e.NewValue, &e.Reason, &e.AgentID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit entry: %w", err)
		}
		e.Action = model.AuditAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
