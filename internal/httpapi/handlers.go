package httpapi

import (
	"errors"
	"net/http"

	"wellsync-platform/internal/engine"
	"wellsync-platform/internal/reporting"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Sync      *engine.Service
	Reporting *reporting.Service
}

const headerIdempotencyKey = "Idempotency-Key"

type changeEventRequest struct {
	EntityType     string         `json:"entity_type"`
	Operation      string         `json:"operation"`
	OwnerID        string         `json:"owner_id"`
	ExternalID     string         `json:"external_id,omitempty"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// IngestClientEvent accepts a change event originating from the client
// application.
func (h Handlers) IngestClientEvent(c *gin.Context) {
	h.ingest(c, engine.SourceClient)
}

// IngestSystemEvent accepts a change event originating from the system of
// record (webhook delivery).
func (h Handlers) IngestSystemEvent(c *gin.Context) {
	h.ingest(c, engine.SourceSystem)
}

// ingest maps the engine's outcome onto the wire contract:
// success/skipped -> 202, validation -> 400, contention/persistence -> 5xx.
func (h Handlers) ingest(c *gin.Context, source engine.Source) {
	if h.Sync == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sync engine not configured"})
		return
	}

	var req changeEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	// The header takes precedence; a body field is accepted for callers that
	// cannot set headers.
	key := c.GetHeader(headerIdempotencyKey)
	if key == "" {
		key = req.IdempotencyKey
	}
	if key == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key required", "field": "idempotency_key"})
		return
	}

	externalID := req.ExternalID
	if externalID == "" && engine.EntityType(req.EntityType) != engine.EntityTypeProfile {
		externalID = uuid.NewString()
	}

	result, err := h.Sync.Process(c.Request.Context(), engine.ChangeEvent{
		Source:         source,
		EntityType:     engine.EntityType(req.EntityType),
		ExternalID:     externalID,
		OwnerID:        req.OwnerID,
		Operation:      engine.Operation(req.Operation),
		Payload:        req.Payload,
		IdempotencyKey: key,
	})
	if err != nil {
		var ve *engine.ValidationError
		switch {
		case errors.As(err, &ve):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"status": "error", "error": ve.Error(), "field": ve.Field})
		case errors.Is(err, engine.ErrContention):
			// The same logical change is mid-flight elsewhere; the caller's
			// retry will observe the committed outcome.
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "concurrent delivery in flight, retry"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// GetRecord returns the sync record for an idempotency key.
func (h Handlers) GetRecord(c *gin.Context) {
	if h.Sync == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sync engine not configured"})
		return
	}
	key := c.Param("key")
	rec, err := h.Sync.Record(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown idempotency key"})
			return
		}
		if engine.IsValidation(err) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "record lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetSummary returns aggregated sync outcomes for an owner and window.
func (h Handlers) GetSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	var req reporting.SummaryRequest
	req.OwnerID = c.Query("owner_id")
	if err := bindTimeRange(c, &req.Range); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.Reporting.Summary(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner_id, from and to required"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}
