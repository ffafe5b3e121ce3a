package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditDenied records requests refused for authentication or rate limiting.
// Successful operations are audited by the services themselves.
func AuditDenied(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if !isDenied(status) {
			return
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    status,
			"client_ip": c.ClientIP(),
		})

		actor, ok := Operator(c)
		if !ok {
			actor, _ = Caller(c)
		}
		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			Action:       domain.AuditActionAccessDenied,
			ResourceType: "http",
			ResourceID:   c.FullPath(),
			Actor:        actor,
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func isDenied(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
