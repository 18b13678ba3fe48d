package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"wellsync-platform/internal/audit"
	"wellsync-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This store assumes the following tables exist:
// - sync_records   with UNIQUE (idempotency_key)
// - profiles       PRIMARY KEY (owner_id)
// - activities     PRIMARY KEY (owner_id, external_id)
// - goals          PRIMARY KEY (owner_id, external_id)
// - audit_entries  (immutable, INSERT-only)
//
// The unique constraint on sync_records.idempotency_key is the engine's
// idempotency source of truth.

const pgUniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		pt := &pgTx{
			tx:    tx,
			audit: audit.NewService(audit.NewPostgresRepo(tx)),
			clock: s.clock,
		}
		return fn(ctx, pt)
	})
}

func (s *PostgresStore) FindRecord(ctx context.Context, key string) (SyncRecord, bool, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecordSQL, key))
}

type pgTx struct {
	tx    *sql.Tx
	audit *audit.Service
	clock func() time.Time
}

const selectRecordSQL = `
SELECT id, source, entity_type, external_id, owner_id, operation,
       state_before, state_after, idempotency_key, processed, error,
       created_at, processed_at
FROM sync_records
WHERE idempotency_key = $1
`

func (t *pgTx) FindRecord(ctx context.Context, key string) (SyncRecord, bool, error) {
	// Lock the row so concurrent retries of a stale attempt serialize.
	return scanRecord(t.tx.QueryRowContext(ctx, selectRecordSQL+"FOR UPDATE\n", key))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (SyncRecord, bool, error) {
	var (
		r           SyncRecord
		stateBefore []byte
		stateAfter  []byte
		errMsg      sql.NullString
		processedAt sql.NullTime
	)
	err := row.Scan(
		&r.ID,
		&r.Source,
		&r.EntityType,
		&r.ExternalID,
		&r.OwnerID,
		&r.Operation,
		&stateBefore,
		&stateAfter,
		&r.IdempotencyKey,
		&r.Processed,
		&errMsg,
		&r.CreatedAt,
		&processedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SyncRecord{}, false, nil
		}
		return SyncRecord{}, false, err
	}
	r.StateBefore = stateBefore
	r.StateAfter = stateAfter
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if processedAt.Valid {
		r.ProcessedAt = processedAt.Time
	}
	return r, true, nil
}

func (t *pgTx) InsertRecord(ctx context.Context, r SyncRecord) error {
	const q = `
INSERT INTO sync_records (
  id, source, entity_type, external_id, owner_id, operation,
  state_before, state_after, idempotency_key, processed, error,
  created_at, processed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	_, err := t.tx.ExecContext(ctx, q,
		r.ID,
		r.Source,
		r.EntityType,
		r.ExternalID,
		r.OwnerID,
		r.Operation,
		nullJSON(r.StateBefore),
		nullJSON(r.StateAfter),
		r.IdempotencyKey,
		r.Processed,
		nullStr(r.Error),
		r.CreatedAt,
		nullTime(r.ProcessedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrKeyTaken
		}
		return err
	}
	return nil
}

func (t *pgTx) FinalizeRecord(ctx context.Context, r SyncRecord) error {
	const q = `
UPDATE sync_records
SET source = $2, entity_type = $3, external_id = $4, owner_id = $5,
    operation = $6, state_before = $7, state_after = $8,
    processed = $9, error = $10, processed_at = $11
WHERE id = $1
`
	_, err := t.tx.ExecContext(ctx, q,
		r.ID,
		r.Source,
		r.EntityType,
		r.ExternalID,
		r.OwnerID,
		r.Operation,
		nullJSON(r.StateBefore),
		nullJSON(r.StateAfter),
		r.Processed,
		nullStr(r.Error),
		nullTime(r.ProcessedAt),
	)
	return err
}

func (t *pgTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	return t.audit.Append(ctx, e)
}

func (t *pgTx) LoadEntity(ctx context.Context, et EntityType, ownerID, externalID string) (EntityRow, bool, error) {
	switch et {
	case EntityTypeProfile:
		return t.loadProfile(ctx, ownerID)
	case EntityTypeActivity:
		return t.loadActivity(ctx, ownerID, externalID)
	case EntityTypeGoal:
		return t.loadGoal(ctx, ownerID, externalID)
	default:
		return EntityRow{}, false, &ValidationError{Field: "entity_type", Reason: "unknown entity type"}
	}
}

func (t *pgTx) SaveEntity(ctx context.Context, row EntityRow) (EntityRow, error) {
	switch row.EntityType {
	case EntityTypeProfile:
		return t.saveProfile(ctx, row)
	case EntityTypeActivity:
		return t.saveActivity(ctx, row)
	case EntityTypeGoal:
		return t.saveGoal(ctx, row)
	default:
		return EntityRow{}, &ValidationError{Field: "entity_type", Reason: "unknown entity type"}
	}
}

func (t *pgTx) DeleteEntity(ctx context.Context, et EntityType, ownerID, externalID string) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch et {
	case EntityTypeProfile:
		res, err = t.tx.ExecContext(ctx, `DELETE FROM profiles WHERE owner_id = $1`, ownerID)
	case EntityTypeActivity:
		res, err = t.tx.ExecContext(ctx, `DELETE FROM activities WHERE owner_id = $1 AND external_id = $2`, ownerID, externalID)
	case EntityTypeGoal:
		res, err = t.tx.ExecContext(ctx, `DELETE FROM goals WHERE owner_id = $1 AND external_id = $2`, ownerID, externalID)
	default:
		return false, &ValidationError{Field: "entity_type", Reason: "unknown entity type"}
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- profiles ---

func (t *pgTx) loadProfile(ctx context.Context, ownerID string) (EntityRow, bool, error) {
	const q = `
SELECT owner_id, age, height_cm, activity_level, engagement_tier, risk_score,
       last_active_at, created_at, updated_at
FROM profiles
WHERE owner_id = $1
`
	return scanProfile(t.tx.QueryRowContext(ctx, q, ownerID))
}

func (t *pgTx) saveProfile(ctx context.Context, row EntityRow) (EntityRow, error) {
	const q = `
INSERT INTO profiles (
  owner_id, age, height_cm, activity_level, engagement_tier, risk_score,
  last_active_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (owner_id)
DO UPDATE SET age             = COALESCE(EXCLUDED.age, profiles.age),
              height_cm       = COALESCE(EXCLUDED.height_cm, profiles.height_cm),
              activity_level  = COALESCE(EXCLUDED.activity_level, profiles.activity_level),
              engagement_tier = COALESCE(EXCLUDED.engagement_tier, profiles.engagement_tier),
              risk_score      = COALESCE(EXCLUDED.risk_score, profiles.risk_score),
              last_active_at  = COALESCE(EXCLUDED.last_active_at, profiles.last_active_at),
              updated_at      = EXCLUDED.updated_at
RETURNING owner_id, age, height_cm, activity_level, engagement_tier, risk_score,
          last_active_at, created_at, updated_at
`
	now := t.clock().UTC()
	f := row.Fields
	out, _, err := scanProfile(t.tx.QueryRowContext(ctx, q,
		row.OwnerID,
		fieldInt(f, "age"),
		fieldFloat(f, "height_cm"),
		fieldStr(f, "activity_level"),
		fieldStr(f, "engagement_tier"),
		fieldFloat(f, "risk_score"),
		fieldTime(f, "last_active_at"),
		now,
	))
	return out, err
}

func scanProfile(row rowScanner) (EntityRow, bool, error) {
	var (
		ownerID        string
		age            sql.NullInt64
		heightCM       sql.NullFloat64
		activityLevel  sql.NullString
		engagementTier sql.NullString
		riskScore      sql.NullFloat64
		lastActiveAt   sql.NullTime
		createdAt      time.Time
		updatedAt      time.Time
	)
	err := row.Scan(&ownerID, &age, &heightCM, &activityLevel, &engagementTier,
		&riskScore, &lastActiveAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EntityRow{}, false, nil
		}
		return EntityRow{}, false, err
	}

	fields := map[string]any{}
	putInt(fields, "age", age)
	putFloat(fields, "height_cm", heightCM)
	putStr(fields, "activity_level", activityLevel)
	putStr(fields, "engagement_tier", engagementTier)
	putFloat(fields, "risk_score", riskScore)
	putTime(fields, "last_active_at", lastActiveAt)

	return EntityRow{
		EntityType: EntityTypeProfile,
		OwnerID:    ownerID,
		Fields:     fields,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, true, nil
}

// --- activities ---

func (t *pgTx) loadActivity(ctx context.Context, ownerID, externalID string) (EntityRow, bool, error) {
	const q = `
SELECT owner_id, external_id, category, title, metadata, occurred_at, verified,
       created_at, updated_at
FROM activities
WHERE owner_id = $1 AND external_id = $2
`
	return scanActivity(t.tx.QueryRowContext(ctx, q, ownerID, externalID))
}

func (t *pgTx) saveActivity(ctx context.Context, row EntityRow) (EntityRow, error) {
	const q = `
INSERT INTO activities (
  owner_id, external_id, category, title, metadata, occurred_at, verified,
  created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (owner_id, external_id)
DO UPDATE SET category    = COALESCE(EXCLUDED.category, activities.category),
              title       = COALESCE(EXCLUDED.title, activities.title),
              metadata    = COALESCE(EXCLUDED.metadata, activities.metadata),
              occurred_at = COALESCE(EXCLUDED.occurred_at, activities.occurred_at),
              verified    = COALESCE(EXCLUDED.verified, activities.verified),
              updated_at  = EXCLUDED.updated_at
RETURNING owner_id, external_id, category, title, metadata, occurred_at, verified,
          created_at, updated_at
`
	now := t.clock().UTC()
	f := row.Fields
	metadata, err := fieldJSON(f, "metadata")
	if err != nil {
		return EntityRow{}, err
	}
	out, _, err := scanActivity(t.tx.QueryRowContext(ctx, q,
		row.OwnerID,
		row.ExternalID,
		fieldStr(f, "category"),
		fieldStr(f, "title"),
		metadata,
		fieldTime(f, "occurred_at"),
		fieldBool(f, "verified"),
		now,
	))
	return out, err
}

func scanActivity(row rowScanner) (EntityRow, bool, error) {
	var (
		ownerID    string
		externalID string
		category   sql.NullString
		title      sql.NullString
		metadata   []byte
		occurredAt sql.NullTime
		verified   sql.NullBool
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(&ownerID, &externalID, &category, &title, &metadata,
		&occurredAt, &verified, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EntityRow{}, false, nil
		}
		return EntityRow{}, false, err
	}

	fields := map[string]any{}
	putStr(fields, "category", category)
	putStr(fields, "title", title)
	if len(metadata) > 0 {
		var m map[string]any
		if err := json.Unmarshal(metadata, &m); err != nil {
			return EntityRow{}, false, err
		}
		fields["metadata"] = m
	}
	putTime(fields, "occurred_at", occurredAt)
	if verified.Valid {
		fields["verified"] = verified.Bool
	}

	return EntityRow{
		EntityType: EntityTypeActivity,
		OwnerID:    ownerID,
		ExternalID: externalID,
		Fields:     fields,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, true, nil
}

// --- goals ---

func (t *pgTx) loadGoal(ctx context.Context, ownerID, externalID string) (EntityRow, bool, error) {
	const q = `
SELECT owner_id, external_id, title, target_value, unit, status, due_date,
       created_at, updated_at
FROM goals
WHERE owner_id = $1 AND external_id = $2
`
	return scanGoal(t.tx.QueryRowContext(ctx, q, ownerID, externalID))
}

func (t *pgTx) saveGoal(ctx context.Context, row EntityRow) (EntityRow, error) {
	const q = `
INSERT INTO goals (
  owner_id, external_id, title, target_value, unit, status, due_date,
  created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (owner_id, external_id)
DO UPDATE SET title        = COALESCE(EXCLUDED.title, goals.title),
              target_value = COALESCE(EXCLUDED.target_value, goals.target_value),
              unit         = COALESCE(EXCLUDED.unit, goals.unit),
              status       = COALESCE(EXCLUDED.status, goals.status),
              due_date     = COALESCE(EXCLUDED.due_date, goals.due_date),
              updated_at   = EXCLUDED.updated_at
RETURNING owner_id, external_id, title, target_value, unit, status, due_date,
          created_at, updated_at
`
	now := t.clock().UTC()
	f := row.Fields
	out, _, err := scanGoal(t.tx.QueryRowContext(ctx, q,
		row.OwnerID,
		row.ExternalID,
		fieldStr(f, "title"),
		fieldFloat(f, "target_value"),
		fieldStr(f, "unit"),
		fieldStr(f, "status"),
		fieldTime(f, "due_date"),
		now,
	))
	return out, err
}

func scanGoal(row rowScanner) (EntityRow, bool, error) {
	var (
		ownerID     string
		externalID  string
		title       sql.NullString
		targetValue sql.NullFloat64
		unit        sql.NullString
		status      sql.NullString
		dueDate     sql.NullTime
		createdAt   time.Time
		updatedAt   time.Time
	)
	err := row.Scan(&ownerID, &externalID, &title, &targetValue, &unit, &status,
		&dueDate, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EntityRow{}, false, nil
		}
		return EntityRow{}, false, err
	}

	fields := map[string]any{}
	putStr(fields, "title", title)
	putFloat(fields, "target_value", targetValue)
	putStr(fields, "unit", unit)
	putStr(fields, "status", status)
	putTime(fields, "due_date", dueDate)

	return EntityRow{
		EntityType: EntityTypeGoal,
		OwnerID:    ownerID,
		ExternalID: externalID,
		Fields:     fields,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, true, nil
}

// --- field <-> column conversions ---
//
// Payload values come from JSON decoding, so numbers arrive as float64.
// Appliers have already type-checked them against the entity schema.

func fieldStr(f map[string]any, key string) sql.NullString {
	if v, ok := f[key]; ok {
		if s, ok := v.(string); ok {
			return sql.NullString{String: s, Valid: true}
		}
	}
	return sql.NullString{}
}

func fieldInt(f map[string]any, key string) sql.NullInt64 {
	switch v := f[key].(type) {
	case int:
		return sql.NullInt64{Int64: int64(v), Valid: true}
	case int64:
		return sql.NullInt64{Int64: v, Valid: true}
	case float64:
		return sql.NullInt64{Int64: int64(v), Valid: true}
	default:
		return sql.NullInt64{}
	}
}

func fieldFloat(f map[string]any, key string) sql.NullFloat64 {
	switch v := f[key].(type) {
	case float64:
		return sql.NullFloat64{Float64: v, Valid: true}
	case int:
		return sql.NullFloat64{Float64: float64(v), Valid: true}
	case int64:
		return sql.NullFloat64{Float64: float64(v), Valid: true}
	default:
		return sql.NullFloat64{}
	}
}

func fieldBool(f map[string]any, key string) sql.NullBool {
	if v, ok := f[key].(bool); ok {
		return sql.NullBool{Bool: v, Valid: true}
	}
	return sql.NullBool{}
}

func fieldTime(f map[string]any, key string) sql.NullTime {
	if s, ok := f[key].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return sql.NullTime{Time: ts.UTC(), Valid: true}
		}
	}
	return sql.NullTime{}
}

func fieldJSON(f map[string]any, key string) ([]byte, error) {
	v, ok := f[key]
	if !ok {
		return nil, nil
	}
	return json.Marshal(v)
}

func putStr(f map[string]any, key string, v sql.NullString) {
	if v.Valid {
		f[key] = v.String
	}
}

func putInt(f map[string]any, key string, v sql.NullInt64) {
	if v.Valid {
		f[key] = v.Int64
	}
}

func putFloat(f map[string]any, key string, v sql.NullFloat64) {
	if v.Valid {
		f[key] = v.Float64
	}
}

func putTime(f map[string]any, key string, v sql.NullTime) {
	if v.Valid {
		f[key] = v.Time.UTC().Format(time.RFC3339)
	}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
