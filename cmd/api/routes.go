package main

import (
	"database/sql"
	"net/http"
	"time"

	"wellsync-platform/internal/httpapi"
	"wellsync-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
//
// Authentication is owned by the edge in front of this service; both ingest
// surfaces assume the caller was already verified there.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, db *sql.DB) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// System-of-record webhook deliveries (at-least-once).
	r.POST("/webhooks/system/sync", h.IngestSystemEvent)

	// Client application API
	v1 := r.Group("/v1")
	{
		syncGroup := v1.Group("/sync")
		{
			syncGroup.POST("/events", h.IngestClientEvent)
			syncGroup.GET("/records/:key", h.GetRecord)
			syncGroup.GET("/summary", h.GetSummary)
		}
	}
}
