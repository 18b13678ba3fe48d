package engine

import (
	"reflect"
	"testing"
)

func TestResolve_NoCurrentTakesIncomingVerbatim(t *testing.T) {
	incoming := map[string]any{"age": 31, "engagement_tier": "gold"}

	resolved, overridden := Resolve(nil, incoming, SourceClient, EntityTypeProfile)
	if !reflect.DeepEqual(resolved, incoming) {
		t.Fatalf("expected incoming verbatim, got %v", resolved)
	}
	if len(overridden) != 0 {
		t.Fatalf("expected no overrides, got %v", overridden)
	}
}

func TestResolve_SystemOwnedFieldWinsOverClient(t *testing.T) {
	current := &EntityRow{
		EntityType: EntityTypeProfile,
		OwnerID:    "u1",
		Fields:     map[string]any{"age": 30},
	}
	incoming := map[string]any{"age": 31, "engagement_tier": "gold"}

	resolved, overridden := Resolve(current, incoming, SourceClient, EntityTypeProfile)
	if resolved["age"] != 30 {
		t.Fatalf("expected system-owned age 30 kept, got %v", resolved["age"])
	}
	if resolved["engagement_tier"] != "gold" {
		t.Fatalf("expected client-owned engagement_tier updated, got %v", resolved["engagement_tier"])
	}
	if !reflect.DeepEqual(overridden, []string{"age"}) {
		t.Fatalf("expected age reported overridden, got %v", overridden)
	}
}

func TestResolve_SystemSourceWritesSystemOwnedFields(t *testing.T) {
	current := &EntityRow{
		EntityType: EntityTypeProfile,
		OwnerID:    "u1",
		Fields:     map[string]any{"age": 30},
	}

	resolved, overridden := Resolve(current, map[string]any{"age": 33}, SourceSystem, EntityTypeProfile)
	if resolved["age"] != 33 {
		t.Fatalf("expected system write to win, got %v", resolved["age"])
	}
	if len(overridden) != 0 {
		t.Fatalf("expected no overrides for system source, got %v", overridden)
	}
}

func TestResolve_AbsentFieldsRetainCurrentValue(t *testing.T) {
	current := &EntityRow{
		EntityType: EntityTypeGoal,
		OwnerID:    "u1",
		Fields:     map[string]any{"title": "Run 5k", "unit": "km"},
	}

	resolved, _ := Resolve(current, map[string]any{"target_value": 5.0}, SourceClient, EntityTypeGoal)
	if resolved["title"] != "Run 5k" || resolved["unit"] != "km" {
		t.Fatalf("expected absent fields retained, got %v", resolved)
	}
	if resolved["target_value"] != 5.0 {
		t.Fatalf("expected incoming field applied, got %v", resolved)
	}
}

func TestResolve_FirstWriteOfSystemOwnedFieldAccepted(t *testing.T) {
	current := &EntityRow{
		EntityType: EntityTypeActivity,
		OwnerID:    "u1",
		Fields:     map[string]any{"category": "log"},
	}

	// verified is system-owned but was never set; a client write lands.
	resolved, overridden := Resolve(current, map[string]any{"verified": true}, SourceClient, EntityTypeActivity)
	if resolved["verified"] != true {
		t.Fatalf("expected first write accepted, got %v", resolved)
	}
	if len(overridden) != 0 {
		t.Fatalf("expected no overrides, got %v", overridden)
	}
}

func TestResolve_EqualValuesNotReportedAsConflict(t *testing.T) {
	current := &EntityRow{
		EntityType: EntityTypeProfile,
		OwnerID:    "u1",
		Fields:     map[string]any{"age": 30},
	}

	_, overridden := Resolve(current, map[string]any{"age": 30}, SourceClient, EntityTypeProfile)
	if len(overridden) != 0 {
		t.Fatalf("expected matching values not to count as a conflict, got %v", overridden)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	current := &EntityRow{
		EntityType: EntityTypeProfile,
		OwnerID:    "u1",
		Fields:     map[string]any{"age": 30, "risk_score": 0.2},
	}
	incoming := map[string]any{"age": 31, "risk_score": 0.9, "engagement_tier": "gold"}

	a, ao := Resolve(current, incoming, SourceClient, EntityTypeProfile)
	b, bo := Resolve(current, incoming, SourceClient, EntityTypeProfile)
	if !reflect.DeepEqual(a, b) || !reflect.DeepEqual(ao, bo) {
		t.Fatalf("expected identical outputs for identical inputs")
	}
}

func TestResolve_DoesNotMutateInputs(t *testing.T) {
	current := &EntityRow{
		EntityType: EntityTypeProfile,
		OwnerID:    "u1",
		Fields:     map[string]any{"age": 30},
	}
	incoming := map[string]any{"age": 31}

	Resolve(current, incoming, SourceClient, EntityTypeProfile)
	if current.Fields["age"] != 30 || incoming["age"] != 31 {
		t.Fatalf("inputs mutated: current=%v incoming=%v", current.Fields, incoming)
	}
}
