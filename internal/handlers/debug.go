package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"groupchat/internal/telemetry"
)

// RealtimeStats reports local gateway load.
type RealtimeStats interface {
	ClientCount() int
	RoomCount() int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, stats RealtimeStats, enabled bool) {
	if !enabled {
		return
	}

	debug := router.Group("/debug")
	debug.GET("/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitAudit(c, emitter, telemetry.AuditRecord{Action: "debug.audit_test", Text: "audit test"})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	debug.GET("/realtime", func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime gateway not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"connections": stats.ClientCount(), "rooms": stats.RoomCount()})
	})
}
