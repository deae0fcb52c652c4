package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"groupchat/internal/observability"
	"groupchat/internal/telemetry"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(observability.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader(observability.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(observability.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetString("userID"); userID != "" {
		return &userID
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		return &header
	}
	return nil
}

func emitAudit(c *gin.Context, audit auditEmitter, rec telemetry.AuditRecord) {
	if audit == nil {
		return
	}
	rec.RequestID = requestIDFromContext(c)
	rec.UserID = userIDFromContext(c)
	audit.Emit(c.Request.Context(), rec)
}
