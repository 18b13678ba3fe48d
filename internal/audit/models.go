package audit

import "time"

// Entry is an immutable, append-only audit record of a sync decision.
//
// Invariants:
// - Entries are never updated or deleted.
// - owner_id is required; every decision is attributable to a data owner.
// - One entry per meaningful decision (apply, conflict resolution, reject).
//
// Storage (Postgres):
// - Table audit_entries with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Entry struct {
	ID      string `json:"id" db:"id"`
	OwnerID string `json:"owner_id" db:"owner_id"`

	// Action is the decision being recorded.
	Action Action `json:"action" db:"action"`

	// EntityType/EntityID identify the business row the decision concerned.
	EntityType string `json:"entity_type" db:"entity_type"`
	EntityID   string `json:"entity_id,omitempty" db:"entity_id"`

	// Actor is whose authority the decision rests on.
	Actor Actor `json:"actor" db:"actor"`

	// Details is optional JSON with the full decision context
	// (store as JSONB in Postgres).
	Details string `json:"details,omitempty" db:"details"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Action string

const (
	ActionCreate           Action = "create"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionConflictResolved Action = "conflict_resolved"
	ActionReject           Action = "reject"
)

// Actor identifies which party a decision is attributed to.
//
// Owner is the end user behind the client application, System is the system
// of record, and Counterparty marks decisions where the *other* data owner's
// stored value prevailed over the event sender's write.
type Actor string

const (
	ActorOwner        Actor = "owner"
	ActorSystem       Actor = "system"
	ActorCounterparty Actor = "counterparty"
)
