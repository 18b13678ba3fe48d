package engine

import (
	"context"

	"wellsync-platform/internal/audit"
)

// Store is the persistence contract the orchestrator runs against.
//
// Invariants implementations must provide:
// - WithinTx is atomic: either every operation performed through the Tx is
//   durable, or none is.
// - InsertRecord enforces global uniqueness of the idempotency key and
//   returns ErrKeyTaken when another transaction holds it. The constraint is
//   the sole source of truth; no in-memory cache is authoritative.
// - AppendAudit participates in the transaction: a failed audit write fails
//   the whole unit of work.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// FindRecord reads a committed sync record outside any transaction. Used
	// for the skip fast path and for re-reading after a lost same-key race.
	FindRecord(ctx context.Context, idempotencyKey string) (SyncRecord, bool, error)
}

// Tx is the unit-of-work surface handed to the orchestrator and appliers.
type Tx interface {
	// FindRecord locks and returns the record for the key, if any, so that
	// concurrent retries of the same stale attempt serialize.
	FindRecord(ctx context.Context, idempotencyKey string) (SyncRecord, bool, error)

	// InsertRecord reserves the idempotency key. Returns ErrKeyTaken on a
	// uniqueness violation.
	InsertRecord(ctx context.Context, rec SyncRecord) error

	// FinalizeRecord overwrites the record's outcome fields (processed,
	// state_before/state_after, error, processed_at).
	FinalizeRecord(ctx context.Context, rec SyncRecord) error

	// LoadEntity is a pure read; no locking beyond the transaction's
	// isolation level. The bool is false when no row exists.
	LoadEntity(ctx context.Context, t EntityType, ownerID, externalID string) (EntityRow, bool, error)

	// SaveEntity upserts the row's full resolved state. Columns absent from
	// Fields keep their stored value.
	SaveEntity(ctx context.Context, row EntityRow) (EntityRow, error)

	// DeleteEntity hard-deletes the row. The bool is false when no row
	// matched.
	DeleteEntity(ctx context.Context, t EntityType, ownerID, externalID string) (bool, error)

	// AppendAudit appends an entry within the transaction.
	AppendAudit(ctx context.Context, e audit.Entry) error
}
