package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"wellsync-platform/internal/audit"
	"wellsync-platform/pkg/logger"

	"github.com/google/uuid"
)

// Service is the sync orchestrator. One Process call is one atomic unit of
// work: reserve the idempotency key, load current entity state, resolve
// field-level conflicts, apply the result, append audit entries, finalize the
// sync record, commit. Any failure rolls the whole unit back.
//
// The service holds no long-lived in-process state and is safe to call from
// arbitrarily many goroutines.
type Service struct {
	store Store
	dedup *DedupCache
	// timeout bounds each Process call; on expiry the transaction rolls back
	// in full. External calls (notifications etc.) must happen after commit,
	// never inside the transaction.
	timeout time.Duration
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type ServiceOptions struct {
	// ProcessTimeout bounds each Process call. Zero means the caller's
	// context deadline alone applies.
	ProcessTimeout time.Duration
	// Dedup is an optional advisory cache of processed keys.
	Dedup *DedupCache
}

func NewService(store Store, opts ServiceOptions) *Service {
	return &Service{
		store:   store,
		dedup:   opts.Dedup,
		timeout: opts.ProcessTimeout,
		clock:   time.Now,
	}
}

// Process applies one change event exactly once.
//
// Calling Process twice with the same idempotency key yields success then
// skipped, including when the two calls race: the loser of the unique-key
// insert re-reads the winner's committed record and reports skipped.
func (s *Service) Process(ctx context.Context, ev ChangeEvent) (SyncResult, error) {
	if err := validateEvent(ev); err != nil {
		return SyncResult{}, err
	}
	applier, _ := applierFor(ev.EntityType)
	if err := applier.Validate(ev.Operation, ev.Payload); err != nil {
		s.recordFailure(ctx, ev, err)
		return SyncResult{}, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// Advisory fast path: a cache hit still verifies against the committed
	// record before skipping.
	if s.dedup.Seen(ctx, ev.IdempotencyKey) {
		if rec, ok, err := s.store.FindRecord(ctx, ev.IdempotencyKey); err == nil && ok && rec.Processed {
			return skippedResult(rec), nil
		}
	}

	var out SyncResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return s.processTx(ctx, tx, applier, ev, &out)
	})
	if err != nil {
		if errors.Is(err, ErrKeyTaken) {
			return s.afterLostRace(ctx, ev)
		}
		s.recordFailure(ctx, ev, err)
		return SyncResult{}, err
	}

	if out.Status == StatusSuccess {
		s.dedup.Mark(ctx, ev.IdempotencyKey)
	}
	return out, nil
}

// Record returns the sync record for an idempotency key, or ErrNotFound.
func (s *Service) Record(ctx context.Context, idempotencyKey string) (SyncRecord, error) {
	if idempotencyKey == "" {
		return SyncRecord{}, &ValidationError{Field: "idempotency_key", Reason: "required"}
	}
	rec, ok, err := s.store.FindRecord(ctx, idempotencyKey)
	if err != nil {
		return SyncRecord{}, err
	}
	if !ok {
		return SyncRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *Service) processTx(ctx context.Context, tx Tx, applier Applier, ev ChangeEvent, out *SyncResult) error {
	prior, found, err := tx.FindRecord(ctx, ev.IdempotencyKey)
	if err != nil {
		return err
	}
	if found && prior.Processed {
		// Short-circuit: this exact change was already fully applied.
		*out = skippedResult(prior)
		return nil
	}

	now := s.clock().UTC()
	rec := newRecord(ev, now)
	if found {
		// A prior attempt crashed mid-flight. Adopt its row and overwrite the
		// outcome; an abandoned in-flight record is not a permanent block.
		rec.ID = prior.ID
		rec.CreatedAt = prior.CreatedAt
	} else if err := tx.InsertRecord(ctx, rec); err != nil {
		return err
	}

	current, exists, err := tx.LoadEntity(ctx, ev.EntityType, ev.OwnerID, ev.ExternalID)
	if err != nil {
		return err
	}

	// Ownership rules do not apply to deletions; the applier just removes
	// the row.
	var resolved map[string]any
	var overridden []string
	if ev.Operation != OperationDelete {
		var cur *EntityRow
		if exists {
			cur = &current
		}
		resolved, overridden = Resolve(cur, ev.Payload, ev.Source, ev.EntityType)
	}

	applied, err := applier.Apply(ctx, tx, ev.OwnerID, ev.ExternalID, ev.Operation, resolved)
	if err != nil {
		return err
	}

	details, err := json.Marshal(map[string]any{
		"operation":       ev.Operation,
		"source":          ev.Source,
		"idempotency_key": ev.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	if err := tx.AppendAudit(ctx, audit.Entry{
		OwnerID:    ev.OwnerID,
		Action:     actionFor(ev.Operation),
		EntityType: string(ev.EntityType),
		EntityID:   applied.ID(),
		Actor:      actorFor(ev.Source),
		Details:    string(details),
	}); err != nil {
		return err
	}
	if len(overridden) > 0 {
		conflictDetails, err := json.Marshal(map[string]any{
			"overridden_fields": overridden,
			"idempotency_key":   ev.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, audit.Entry{
			OwnerID:    ev.OwnerID,
			Action:     audit.ActionConflictResolved,
			EntityType: string(ev.EntityType),
			EntityID:   applied.ID(),
			Actor:      audit.ActorCounterparty,
			Details:    string(conflictDetails),
		}); err != nil {
			return err
		}
	}

	if exists {
		before, err := json.Marshal(current.Fields)
		if err != nil {
			return err
		}
		rec.StateBefore = before
	}
	if ev.Operation == OperationDelete {
		rec.StateAfter = json.RawMessage(`{"deleted":true}`)
	} else {
		after, err := json.Marshal(applied.Fields)
		if err != nil {
			return err
		}
		rec.StateAfter = after
	}
	rec.Processed = true
	rec.ProcessedAt = now
	rec.Error = ""
	if err := tx.FinalizeRecord(ctx, rec); err != nil {
		return err
	}

	res := SyncResult{Status: StatusSuccess}
	if ev.Operation != OperationDelete {
		row := applied
		res.Data = &row
	}
	*out = res
	return nil
}

// afterLostRace handles losing a concurrent insert of the same idempotency
// key. The aborted transaction is gone; re-read the winner's committed
// record. Contention is not an error when the winner succeeded.
func (s *Service) afterLostRace(ctx context.Context, ev ChangeEvent) (SyncResult, error) {
	rec, ok, err := s.store.FindRecord(ctx, ev.IdempotencyKey)
	if err != nil {
		return SyncResult{}, err
	}
	if ok && rec.Processed {
		return skippedResult(rec), nil
	}
	// The winner rolled back or is still unresolved; let the caller retry.
	return SyncResult{}, ErrContention
}

// recordFailure persists the failed attempt in its own short transaction,
// after the work transaction rolled back: a sync record with processed =
// false plus a reject audit entry. Best-effort; a later retry of the key
// overwrites the outcome.
func (s *Service) recordFailure(ctx context.Context, ev ChangeEvent, cause error) {
	ctx = context.WithoutCancel(ctx)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		prior, found, err := tx.FindRecord(ctx, ev.IdempotencyKey)
		if err != nil {
			return err
		}
		if found && prior.Processed {
			// Processed records are immutable.
			return nil
		}

		now := s.clock().UTC()
		rec := newRecord(ev, now)
		rec.Error = cause.Error()
		rec.ProcessedAt = now
		if found {
			rec.ID = prior.ID
			rec.CreatedAt = prior.CreatedAt
			if err := tx.FinalizeRecord(ctx, rec); err != nil {
				return err
			}
		} else if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}

		details, err := json.Marshal(map[string]any{
			"error":           cause.Error(),
			"operation":       ev.Operation,
			"idempotency_key": ev.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.Entry{
			OwnerID:    ev.OwnerID,
			Action:     audit.ActionReject,
			EntityType: string(ev.EntityType),
			EntityID:   keyExternalID(ev.EntityType, ev.ExternalID),
			Actor:      actorFor(ev.Source),
			Details:    string(details),
		})
	})
	if err != nil {
		logger.From(ctx).Error("sync failure record write failed",
			"err", err, "idempotency_key", ev.IdempotencyKey)
	}
}

func newRecord(ev ChangeEvent, now time.Time) SyncRecord {
	return SyncRecord{
		ID:             uuid.NewString(),
		Source:         ev.Source,
		EntityType:     ev.EntityType,
		ExternalID:     ev.ExternalID,
		OwnerID:        ev.OwnerID,
		Operation:      ev.Operation,
		IdempotencyKey: ev.IdempotencyKey,
		CreatedAt:      now,
	}
}

func skippedResult(rec SyncRecord) SyncResult {
	res := SyncResult{Status: StatusSkipped}
	if rec.Operation != OperationDelete && len(rec.StateAfter) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(rec.StateAfter, &fields); err == nil {
			res.Data = &EntityRow{
				EntityType: rec.EntityType,
				OwnerID:    rec.OwnerID,
				ExternalID: keyExternalID(rec.EntityType, rec.ExternalID),
				Fields:     fields,
			}
		}
	}
	return res
}

func validateEvent(ev ChangeEvent) error {
	if ev.IdempotencyKey == "" {
		return &ValidationError{Field: "idempotency_key", Reason: "required"}
	}
	if ev.OwnerID == "" {
		return &ValidationError{Field: "owner_id", Reason: "required"}
	}
	if !validSource(ev.Source) {
		return &ValidationError{Field: "source", Reason: "must be client or system"}
	}
	if !validEntityType(ev.EntityType) {
		return &ValidationError{Field: "entity_type", Reason: "must be profile, activity or goal"}
	}
	if !validOperation(ev.Operation) {
		return &ValidationError{Field: "operation", Reason: "must be create, update or delete"}
	}
	if ev.EntityType != EntityTypeProfile && ev.ExternalID == "" {
		return &ValidationError{Field: "external_id", Reason: "required for this entity type"}
	}
	return nil
}

func actionFor(op Operation) audit.Action {
	switch op {
	case OperationCreate:
		return audit.ActionCreate
	case OperationUpdate:
		return audit.ActionUpdate
	default:
		return audit.ActionDelete
	}
}

func actorFor(s Source) audit.Actor {
	if s == SourceSystem {
		return audit.ActorSystem
	}
	return audit.ActorOwner
}
