package engine

import (
	"context"
	"errors"
	"testing"

	"wellsync-platform/internal/audit"
)

func TestMemoryStore_RollbackDiscardsStagedWrites(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.InsertRecord(ctx, SyncRecord{ID: "r1", IdempotencyKey: "k1"}); err != nil {
			return err
		}
		if _, err := tx.SaveEntity(ctx, EntityRow{
			EntityType: EntityTypeGoal,
			OwnerID:    "u1",
			ExternalID: "g1",
			Fields:     map[string]any{"title": "x"},
		}); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, audit.Entry{OwnerID: "u1", Action: audit.ActionCreate, Actor: audit.ActorOwner}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if got := len(store.Records()); got != 0 {
		t.Fatalf("expected no records after rollback, got %d", got)
	}
	if _, ok := store.Entity(EntityTypeGoal, "u1", "g1"); ok {
		t.Fatalf("expected no entity after rollback")
	}
	if got := len(store.AuditEntries()); got != 0 {
		t.Fatalf("expected no audit entries after rollback, got %d", got)
	}
}

func TestMemoryStore_InsertRecordEnforcesUniqueKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertRecord(ctx, SyncRecord{ID: "r1", IdempotencyKey: "k1"})
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertRecord(ctx, SyncRecord{ID: "r2", IdempotencyKey: "k1"})
	})
	if !errors.Is(err, ErrKeyTaken) {
		t.Fatalf("expected ErrKeyTaken, got %v", err)
	}
}

func TestMemoryStore_SaveEntityKeepsAbsentColumns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.SaveEntity(ctx, EntityRow{
			EntityType: EntityTypeProfile,
			OwnerID:    "u1",
			Fields:     map[string]any{"age": 30, "engagement_tier": "silver"},
		}); err != nil {
			return err
		}
		_, err := tx.SaveEntity(ctx, EntityRow{
			EntityType: EntityTypeProfile,
			OwnerID:    "u1",
			Fields:     map[string]any{"engagement_tier": "gold"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	row, ok := store.Entity(EntityTypeProfile, "u1", "")
	if !ok {
		t.Fatalf("expected profile row")
	}
	if row.Fields["age"] != 30 {
		t.Fatalf("expected absent column kept, got %v", row.Fields["age"])
	}
	if row.Fields["engagement_tier"] != "gold" {
		t.Fatalf("expected column updated, got %v", row.Fields["engagement_tier"])
	}
}

func TestMemoryStore_AuditValidationEnforced(t *testing.T) {
	store := NewMemoryStore()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.AppendAudit(ctx, audit.Entry{Action: audit.ActionCreate, Actor: audit.ActorOwner})
	})
	if !errors.Is(err, audit.ErrInvalidEntry) {
		t.Fatalf("expected audit validation to fail the unit of work, got %v", err)
	}
}
