package reporting

import (
	"context"
	"errors"
	"time"

	"wellsync-platform/internal/audit"
	"wellsync-platform/internal/engine"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce owner filtering.
// - Implementations must query the immutable sources only (sync_records,
//   audit_entries); reporting never reads mutable business rows.

type Repository interface {
	ListRecords(ctx context.Context, ownerID string, from, to time.Time) ([]engine.SyncRecord, error)
	ListAuditEntries(ctx context.Context, ownerID string, from, to time.Time) ([]audit.Entry, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if req.OwnerID == "" {
		return Summary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("reporting: repository not configured")
	}

	records, err := s.repo.ListRecords(ctx, req.OwnerID, req.Range.From, req.Range.To)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		OwnerID:      req.OwnerID,
		ByEntityType: map[string]int{},
		ByOperation:  map[string]int{},
	}
	for _, r := range records {
		out.TotalEvents++
		if r.Processed {
			out.Applied++
		} else {
			out.Failed++
		}
		out.ByEntityType[string(r.EntityType)]++
		out.ByOperation[string(r.Operation)]++
	}

	entries, err := s.repo.ListAuditEntries(ctx, req.OwnerID, req.Range.From, req.Range.To)
	if err != nil {
		return Summary{}, err
	}
	for _, e := range entries {
		if e.Action == audit.ActionConflictResolved {
			out.ConflictsResolved++
		}
	}
	return out, nil
}
