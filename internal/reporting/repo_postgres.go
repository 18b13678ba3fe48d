package reporting

import (
	"context"
	"database/sql"
	"time"

	"wellsync-platform/internal/audit"
	"wellsync-platform/internal/engine"
)

// PostgresRepo reads the immutable sync_records and audit_entries tables.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListRecords(ctx context.Context, ownerID string, from, to time.Time) ([]engine.SyncRecord, error) {
	const q = `
SELECT id, source, entity_type, external_id, owner_id, operation,
       idempotency_key, processed, error, created_at
FROM sync_records
WHERE owner_id = $1 AND created_at >= $2 AND created_at <= $3
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.SyncRecord
	for rows.Next() {
		var (
			rec    engine.SyncRecord
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Source,
			&rec.EntityType,
			&rec.ExternalID,
			&rec.OwnerID,
			&rec.Operation,
			&rec.IdempotencyKey,
			&rec.Processed,
			&errMsg,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListAuditEntries(ctx context.Context, ownerID string, from, to time.Time) ([]audit.Entry, error) {
	const q = `
SELECT id, owner_id, action, entity_type, entity_id, actor, details, created_at
FROM audit_entries
WHERE owner_id = $1 AND created_at >= $2 AND created_at <= $3
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e        audit.Entry
			entityID sql.NullString
			details  sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.OwnerID,
			&e.Action,
			&e.EntityType,
			&entityID,
			&e.Actor,
			&details,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if details.Valid {
			e.Details = details.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
