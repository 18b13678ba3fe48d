package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresOwnerActionActor(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Entry{Action: ActionCreate, Actor: ActorOwner}); err == nil {
		t.Fatalf("expected error for missing owner")
	}
	if err := svc.Append(context.Background(), Entry{OwnerID: "u1", Actor: ActorOwner}); err == nil {
		t.Fatalf("expected error for missing action")
	}
	if err := svc.Append(context.Background(), Entry{OwnerID: "u1", Action: ActionCreate}); err == nil {
		t.Fatalf("expected error for missing actor")
	}
}

func TestService_AppendFillsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	err := svc.Append(context.Background(), Entry{
		OwnerID:    "u1",
		Action:     ActionConflictResolved,
		EntityType: "profile",
		EntityID:   "u1",
		Actor:      ActorCounterparty,
		Details:    `{"overridden_fields":["age"]}`,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	entries := repo.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ID == "" {
		t.Fatalf("expected id generated")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at filled")
	}
	if entries[0].Actor != ActorCounterparty {
		t.Fatalf("expected actor preserved, got %s", entries[0].Actor)
	}
}
