package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyTaken is returned by Tx.InsertRecord when another transaction
	// already holds the idempotency key. The store's unique constraint is the
	// sole source of truth for this condition.
	ErrKeyTaken = errors.New("engine: idempotency key already taken")

	// ErrContention is returned when a same-key race was lost and the winner
	// did not commit a processed record. Safe to retry.
	ErrContention = errors.New("engine: idempotency key contention, retry")

	// ErrNotFound is returned by record lookups for unknown idempotency keys.
	ErrNotFound = errors.New("engine: not found")
)

// ValidationError describes a malformed event. It names the offending field
// so the caller can surface a client-fixable message. Never retried
// automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("engine: invalid field %q: %s", e.Field, e.Reason)
}

// ApplierError is an entity-specific business-rule violation, e.g. deleting a
// row that does not exist. The transaction rolls back and the idempotency key
// remains usable for a corrected retry.
type ApplierError struct {
	EntityType EntityType
	Reason     string
}

func (e *ApplierError) Error() string {
	return fmt.Sprintf("engine: %s applier: %s", e.EntityType, e.Reason)
}

// IsValidation reports whether err is client-fixable (400-equivalent).
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
