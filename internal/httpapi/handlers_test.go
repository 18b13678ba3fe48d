package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wellsync-platform/internal/engine"
	"wellsync-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, *engine.MemoryStore, *reporting.MemoryRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := engine.NewMemoryStore()
	repo := reporting.NewMemoryRepo()
	h := Handlers{
		Sync:      engine.NewService(store, engine.ServiceOptions{}),
		Reporting: reporting.NewService(repo),
	}

	r := gin.New()
	r.POST("/v1/sync/events", h.IngestClientEvent)
	r.POST("/webhooks/system/sync", h.IngestSystemEvent)
	r.GET("/v1/sync/records/:key", h.GetRecord)
	r.GET("/v1/sync/summary", h.GetSummary)
	return r, store, repo
}

func postEvent(t *testing.T, r *gin.Engine, path, key string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngest_AcceptsAndReplaysSkip(t *testing.T) {
	r, store, _ := newTestRouter(t)

	body := map[string]any{
		"entity_type": "activity",
		"operation":   "create",
		"owner_id":    "owner_1",
		"external_id": "act_1",
		"payload":     map[string]any{"category": "walk", "title": "Morning walk"},
	}

	w := postEvent(t, r, "/v1/sync/events", "evt-1", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var res engine.SyncResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Status != engine.StatusSuccess {
		t.Fatalf("expected success, got %q", res.Status)
	}

	// Same key again: no new record, skipped outcome.
	w = postEvent(t, r, "/v1/sync/events", "evt-1", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on replay, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode replay response: %v", err)
	}
	if res.Status != engine.StatusSkipped {
		t.Fatalf("expected skipped on replay, got %q", res.Status)
	}
	if got := len(store.Records()); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestIngest_BodyKeyAcceptedWhenHeaderAbsent(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := postEvent(t, r, "/webhooks/system/sync", "", map[string]any{
		"entity_type":     "goal",
		"operation":       "create",
		"owner_id":        "owner_1",
		"external_id":     "goal_1",
		"payload":         map[string]any{"title": "Run 5k"},
		"idempotency_key": "hook-1",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIngest_MissingIdempotencyKey(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := postEvent(t, r, "/v1/sync/events", "", map[string]any{
		"entity_type": "activity",
		"operation":   "create",
		"owner_id":    "owner_1",
		"payload":     map[string]any{"category": "walk"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestIngest_ValidationErrorNamesField(t *testing.T) {
	r, store, _ := newTestRouter(t)

	w := postEvent(t, r, "/v1/sync/events", "evt-bad", map[string]any{
		"entity_type": "medication",
		"operation":   "create",
		"owner_id":    "owner_1",
		"payload":     map[string]any{"dose": 1},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Field string `json:"field"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Field != "entity_type" {
		t.Fatalf("expected field entity_type, got %q", body.Field)
	}
	if got := len(store.Records()); got != 0 {
		t.Fatalf("expected no record for rejected event, got %d", got)
	}
}

func TestIngest_InvalidJSON(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/events", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "evt-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetRecord(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := postEvent(t, r, "/v1/sync/events", "evt-rec", map[string]any{
		"entity_type": "profile",
		"operation":   "update",
		"owner_id":    "owner_1",
		"payload":     map[string]any{"engagement_tier": "gold"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("ingest failed: %d %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sync/records/evt-rec", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rec engine.SyncRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.IdempotencyKey != "evt-rec" || !rec.Processed {
		t.Fatalf("unexpected record: %+v", rec)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sync/records/unknown-key", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", w.Code)
	}
}

func TestGetSummary(t *testing.T) {
	r, _, repo := newTestRouter(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.Records = []engine.SyncRecord{
		{IdempotencyKey: "k1", OwnerID: "owner_1", EntityType: engine.EntityTypeActivity, Operation: engine.OperationCreate, Processed: true, CreatedAt: now},
		{IdempotencyKey: "k2", OwnerID: "owner_1", EntityType: engine.EntityTypeGoal, Operation: engine.OperationUpdate, Processed: false, CreatedAt: now},
	}

	req := httptest.NewRequest(http.MethodGet,
		"/v1/sync/summary?owner_id=owner_1&from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum reporting.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.TotalEvents != 2 || sum.Applied != 1 || sum.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	// Missing owner is a caller error.
	req = httptest.NewRequest(http.MethodGet,
		"/v1/sync/summary?from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without owner_id, got %d", w.Code)
	}

	// Unparseable bounds are rejected before the service runs.
	req = httptest.NewRequest(http.MethodGet, "/v1/sync/summary?owner_id=owner_1&from=yesterday&to=now", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad time bounds, got %d", w.Code)
	}
}
