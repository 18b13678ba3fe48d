package audit

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql needed to append entries. Both *sql.DB
// and *sql.Tx satisfy it; the sync engine binds a repo to its transaction so
// audit writes commit or roll back with the rest of the unit of work.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type PostgresRepo struct {
	db DBTX
}

func NewPostgresRepo(db DBTX) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO audit_entries (
  id, owner_id, action, entity_type, entity_id, actor, details, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.OwnerID,
		e.Action,
		e.EntityType,
		e.EntityID,
		e.Actor,
		e.Details,
		e.CreatedAt,
	)
	return err
}
