package reporting

import (
	"context"
	"time"

	"wellsync-platform/internal/audit"
	"wellsync-platform/internal/engine"
)

// MemoryRepo is an in-memory repository for tests. Populate the exported
// slices directly.

type MemoryRepo struct {
	Records []engine.SyncRecord
	Audits  []audit.Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListRecords(ctx context.Context, ownerID string, from, to time.Time) ([]engine.SyncRecord, error) {
	var out []engine.SyncRecord
	for _, rec := range r.Records {
		if rec.OwnerID != ownerID {
			continue
		}
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *MemoryRepo) ListAuditEntries(ctx context.Context, ownerID string, from, to time.Time) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range r.Audits {
		if e.OwnerID != ownerID {
			continue
		}
		if e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
