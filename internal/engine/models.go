package engine

import (
	"encoding/json"
	"time"
)

// Source identifies which data owner produced a change event.
type Source string

const (
	SourceClient Source = "client"
	SourceSystem Source = "system"
)

// EntityType enumerates the synced entity variants. The set is closed:
// appliers are dispatched over these three values with no runtime fallback.
type EntityType string

const (
	EntityTypeProfile  EntityType = "profile"
	EntityTypeActivity EntityType = "activity"
	EntityTypeGoal     EntityType = "goal"
)

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ChangeEvent is the engine's input. It is constructed by the caller and
// never mutated here.
//
// IdempotencyKey must be stable across delivery retries of the same logical
// change and unique across different logical changes. It is the engine's sole
// deduplication input.
type ChangeEvent struct {
	Source         Source         `json:"source"`
	EntityType     EntityType     `json:"entity_type"`
	ExternalID     string         `json:"external_id"`
	OwnerID        string         `json:"owner_id"`
	Operation      Operation      `json:"operation"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// SyncRecord is the engine's own bookkeeping row, one per processed change
// event.
//
// Invariants:
// - idempotency_key is globally unique (enforced by the store).
// - a record with processed = true is immutable thereafter.
// - a record with processed = false is a stale in-flight attempt and may have
//   its outcome overwritten by a retry of the same key.
type SyncRecord struct {
	ID             string          `json:"id" db:"id"`
	Source         Source          `json:"source" db:"source"`
	EntityType     EntityType      `json:"entity_type" db:"entity_type"`
	ExternalID     string          `json:"external_id" db:"external_id"`
	OwnerID        string          `json:"owner_id" db:"owner_id"`
	Operation      Operation       `json:"operation" db:"operation"`
	StateBefore    json.RawMessage `json:"state_before,omitempty" db:"state_before"`
	StateAfter     json.RawMessage `json:"state_after,omitempty" db:"state_after"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	Processed      bool            `json:"processed" db:"processed"`
	Error          string          `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt    time.Time       `json:"processed_at,omitempty" db:"processed_at"`
}

// EntityRow is the engine's view of a business entity record. The engine
// reads and writes these rows but does not own their lifecycle.
//
// Identity: profiles are one-per-owner and addressed by OwnerID alone;
// activities and goals are addressed by (OwnerID, ExternalID).
type EntityRow struct {
	EntityType EntityType     `json:"entity_type"`
	OwnerID    string         `json:"owner_id"`
	ExternalID string         `json:"external_id,omitempty"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ID returns the identifier recorded in audit entries for this row.
func (r EntityRow) ID() string {
	if r.EntityType == EntityTypeProfile {
		return r.OwnerID
	}
	return r.ExternalID
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
)

// SyncResult is the outcome of a Process call. Errors are returned
// separately; a SyncResult is only produced when the call did not fail.
type SyncResult struct {
	Status Status     `json:"status"`
	Data   *EntityRow `json:"data,omitempty"`
}

func validSource(s Source) bool {
	switch s {
	case SourceClient, SourceSystem:
		return true
	default:
		return false
	}
}

func validEntityType(t EntityType) bool {
	switch t {
	case EntityTypeProfile, EntityTypeActivity, EntityTypeGoal:
		return true
	default:
		return false
	}
}

func validOperation(op Operation) bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// keyExternalID normalizes the external id used for entity identity.
// Profiles are keyed by owner, so their external id does not participate.
func keyExternalID(t EntityType, externalID string) string {
	if t == EntityTypeProfile {
		return ""
	}
	return externalID
}

func cloneFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
