package engine

import (
	"context"
	"fmt"
	"time"
)

// Applier turns a resolved logical state into concrete row operations for one
// entity type. The set of appliers is closed over the EntityType variants;
// dispatch is a switch, not a runtime registry, so an unknown type cannot
// reach an applier.
type Applier interface {
	EntityType() EntityType

	// Validate checks an incoming payload against the entity's declared
	// schema: unknown fields and type mismatches fail fast as
	// *ValidationError before any state is touched.
	Validate(op Operation, payload map[string]any) error

	// Apply persists the resolved state. Create on an existing identity is
	// treated as an upsert so redelivered creates stay idempotent; update
	// keeps columns absent from resolved; delete is a hard delete and a
	// missing row is an *ApplierError.
	Apply(ctx context.Context, tx Tx, ownerID, externalID string, op Operation, resolved map[string]any) (EntityRow, error)
}

func applierFor(t EntityType) (Applier, bool) {
	switch t {
	case EntityTypeProfile:
		return profileApplier{}, true
	case EntityTypeActivity:
		return activityApplier{}, true
	case EntityTypeGoal:
		return goalApplier{}, true
	default:
		return nil, false
	}
}

// fieldKind is the declared type of a payload field.
type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindObject
	kindTimestamp // RFC3339 string
)

type fieldSpec struct {
	kind     fieldKind
	required bool // required in the resolved state of a live row
}

var profileSchema = map[string]fieldSpec{
	"age":             {kind: kindInt},
	"height_cm":       {kind: kindFloat},
	"activity_level":  {kind: kindString},
	"engagement_tier": {kind: kindString},
	"risk_score":      {kind: kindFloat},
	"last_active_at":  {kind: kindTimestamp},
}

var activitySchema = map[string]fieldSpec{
	"category":    {kind: kindString, required: true},
	"title":       {kind: kindString},
	"metadata":    {kind: kindObject},
	"occurred_at": {kind: kindTimestamp},
	"verified":    {kind: kindBool},
}

var goalSchema = map[string]fieldSpec{
	"title":        {kind: kindString, required: true},
	"target_value": {kind: kindFloat},
	"unit":         {kind: kindString},
	"status":       {kind: kindString},
	"due_date":     {kind: kindTimestamp},
}

type profileApplier struct{}

func (profileApplier) EntityType() EntityType { return EntityTypeProfile }

func (profileApplier) Validate(op Operation, payload map[string]any) error {
	return validateShape(profileSchema, op, payload)
}

func (a profileApplier) Apply(ctx context.Context, tx Tx, ownerID, externalID string, op Operation, resolved map[string]any) (EntityRow, error) {
	return applyRow(ctx, tx, a.EntityType(), profileSchema, ownerID, externalID, op, resolved)
}

type activityApplier struct{}

func (activityApplier) EntityType() EntityType { return EntityTypeActivity }

func (activityApplier) Validate(op Operation, payload map[string]any) error {
	return validateShape(activitySchema, op, payload)
}

func (a activityApplier) Apply(ctx context.Context, tx Tx, ownerID, externalID string, op Operation, resolved map[string]any) (EntityRow, error) {
	return applyRow(ctx, tx, a.EntityType(), activitySchema, ownerID, externalID, op, resolved)
}

type goalApplier struct{}

func (goalApplier) EntityType() EntityType { return EntityTypeGoal }

func (goalApplier) Validate(op Operation, payload map[string]any) error {
	return validateShape(goalSchema, op, payload)
}

func (a goalApplier) Apply(ctx context.Context, tx Tx, ownerID, externalID string, op Operation, resolved map[string]any) (EntityRow, error) {
	return applyRow(ctx, tx, a.EntityType(), goalSchema, ownerID, externalID, op, resolved)
}

// applyRow is the shared row mutation path. The per-type appliers differ only
// in schema; keeping one implementation means the upsert/delete policy cannot
// drift between entity types.
func applyRow(ctx context.Context, tx Tx, t EntityType, schema map[string]fieldSpec, ownerID, externalID string, op Operation, resolved map[string]any) (EntityRow, error) {
	if op == OperationDelete {
		deleted, err := tx.DeleteEntity(ctx, t, ownerID, keyExternalID(t, externalID))
		if err != nil {
			return EntityRow{}, err
		}
		if !deleted {
			return EntityRow{}, &ApplierError{EntityType: t, Reason: "delete of non-existent row"}
		}
		return EntityRow{EntityType: t, OwnerID: ownerID, ExternalID: keyExternalID(t, externalID)}, nil
	}

	if err := requireFields(schema, resolved); err != nil {
		return EntityRow{}, err
	}

	row := EntityRow{
		EntityType: t,
		OwnerID:    ownerID,
		ExternalID: keyExternalID(t, externalID),
		Fields:     cloneFields(resolved),
	}
	return tx.SaveEntity(ctx, row)
}

func validateShape(schema map[string]fieldSpec, op Operation, payload map[string]any) error {
	if op == OperationDelete {
		// Ownership rules and payload schemas do not apply to deletions.
		return nil
	}
	if len(payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "payload required"}
	}
	for field, value := range payload {
		spec, ok := schema[field]
		if !ok {
			return &ValidationError{Field: field, Reason: "unknown field"}
		}
		if err := checkKind(field, spec.kind, value); err != nil {
			return err
		}
	}
	return nil
}

func requireFields(schema map[string]fieldSpec, resolved map[string]any) error {
	for field, spec := range schema {
		if !spec.required {
			continue
		}
		v, ok := resolved[field]
		if !ok {
			return &ValidationError{Field: field, Reason: "required field missing"}
		}
		if s, isStr := v.(string); isStr && s == "" {
			return &ValidationError{Field: field, Reason: "required field empty"}
		}
	}
	return nil
}

func checkKind(field string, kind fieldKind, value any) error {
	if value == nil {
		return &ValidationError{Field: field, Reason: "must not be null"}
	}
	switch kind {
	case kindString:
		if _, ok := value.(string); !ok {
			return &ValidationError{Field: field, Reason: "must be a string"}
		}
	case kindInt:
		switch n := value.(type) {
		case int, int64:
		case float64:
			if n != float64(int64(n)) {
				return &ValidationError{Field: field, Reason: "must be an integer"}
			}
		default:
			return &ValidationError{Field: field, Reason: "must be an integer"}
		}
	case kindFloat:
		switch value.(type) {
		case float64, int, int64:
		default:
			return &ValidationError{Field: field, Reason: "must be a number"}
		}
	case kindBool:
		if _, ok := value.(bool); !ok {
			return &ValidationError{Field: field, Reason: "must be a boolean"}
		}
	case kindObject:
		if _, ok := value.(map[string]any); !ok {
			return &ValidationError{Field: field, Reason: "must be an object"}
		}
	case kindTimestamp:
		s, ok := value.(string)
		if !ok {
			return &ValidationError{Field: field, Reason: "must be an RFC3339 timestamp"}
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("must be an RFC3339 timestamp: %v", err)}
		}
	}
	return nil
}
