package engine

import (
	"context"
	"sync"
	"time"

	"wellsync-platform/internal/audit"
)

// MemoryStore is an in-memory Store useful for tests. Transactions run
// serialized under one mutex against staged copies, so commit/rollback
// semantics match the real store: nothing is visible until the unit of work
// returns nil. It is not intended for production use.

type entityKey struct {
	entityType EntityType
	ownerID    string
	externalID string
}

type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]SyncRecord
	entities map[entityKey]EntityRow
	audits   []audit.Entry
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  map[string]SyncRecord{},
		entities: map[entityKey]EntityRow{},
		clock:    time.Now,
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		records:  make(map[string]SyncRecord, len(s.records)),
		entities: make(map[entityKey]EntityRow, len(s.entities)),
		clock:    s.clock,
	}
	for k, v := range s.records {
		tx.records[k] = v
	}
	for k, v := range s.entities {
		tx.entities[k] = v
	}
	tx.audit = audit.NewService(txAuditRepo{tx: tx})

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.records = tx.records
	s.entities = tx.entities
	s.audits = append(s.audits, tx.audits...)
	return nil
}

func (s *MemoryStore) FindRecord(ctx context.Context, key string) (SyncRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return r, ok, nil
}

// Records returns all committed sync records, for tests.
func (s *MemoryStore) Records() []SyncRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SyncRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// AuditEntries returns all committed audit entries, for tests.
func (s *MemoryStore) AuditEntries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, len(s.audits))
	copy(out, s.audits)
	return out
}

// Entity returns the committed row for the identity, for tests.
func (s *MemoryStore) Entity(t EntityType, ownerID, externalID string) (EntityRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.entities[entityKey{t, ownerID, keyExternalID(t, externalID)}]
	if ok {
		row.Fields = cloneFields(row.Fields)
	}
	return row, ok
}

// SeedEntity installs a row directly, bypassing the sync path. Used by tests
// to stage the system of record's current state.
func (s *MemoryStore) SeedEntity(row EntityRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ExternalID = keyExternalID(row.EntityType, row.ExternalID)
	row.Fields = cloneFields(row.Fields)
	s.entities[entityKey{row.EntityType, row.OwnerID, row.ExternalID}] = row
}

type memTx struct {
	records  map[string]SyncRecord
	entities map[entityKey]EntityRow
	audits   []audit.Entry
	audit    *audit.Service
	clock    func() time.Time
}

type txAuditRepo struct{ tx *memTx }

func (r txAuditRepo) Append(ctx context.Context, e audit.Entry) error {
	r.tx.audits = append(r.tx.audits, e)
	return nil
}

func (t *memTx) FindRecord(ctx context.Context, key string) (SyncRecord, bool, error) {
	r, ok := t.records[key]
	return r, ok, nil
}

func (t *memTx) InsertRecord(ctx context.Context, r SyncRecord) error {
	if _, exists := t.records[r.IdempotencyKey]; exists {
		return ErrKeyTaken
	}
	t.records[r.IdempotencyKey] = r
	return nil
}

func (t *memTx) FinalizeRecord(ctx context.Context, r SyncRecord) error {
	t.records[r.IdempotencyKey] = r
	return nil
}

func (t *memTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	return t.audit.Append(ctx, e)
}

func (t *memTx) LoadEntity(ctx context.Context, et EntityType, ownerID, externalID string) (EntityRow, bool, error) {
	row, ok := t.entities[entityKey{et, ownerID, keyExternalID(et, externalID)}]
	if !ok {
		return EntityRow{}, false, nil
	}
	row.Fields = cloneFields(row.Fields)
	return row, true, nil
}

func (t *memTx) SaveEntity(ctx context.Context, row EntityRow) (EntityRow, error) {
	now := t.clock().UTC()
	key := entityKey{row.EntityType, row.OwnerID, keyExternalID(row.EntityType, row.ExternalID)}

	existing, ok := t.entities[key]
	if !ok {
		stored := EntityRow{
			EntityType: row.EntityType,
			OwnerID:    row.OwnerID,
			ExternalID: key.externalID,
			Fields:     cloneFields(row.Fields),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		t.entities[key] = stored
		stored.Fields = cloneFields(stored.Fields)
		return stored, nil
	}

	// Columns absent from the resolved state keep their stored value.
	merged := cloneFields(existing.Fields)
	for k, v := range row.Fields {
		merged[k] = v
	}
	existing.Fields = merged
	existing.UpdatedAt = now
	t.entities[key] = existing
	existing.Fields = cloneFields(existing.Fields)
	return existing, nil
}

func (t *memTx) DeleteEntity(ctx context.Context, et EntityType, ownerID, externalID string) (bool, error) {
	key := entityKey{et, ownerID, keyExternalID(et, externalID)}
	if _, ok := t.entities[key]; !ok {
		return false, nil
	}
	delete(t.entities, key)
	return true, nil
}
