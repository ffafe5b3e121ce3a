package middleware

import (
	"net/http"
	"strings"
	"time"

	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/pkg/apperror"
	"agent-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderRequestID = "X-Request-ID"

	// Context keys
	CtxOperator  = "operator"
	CtxCaller    = "caller"
	CtxRequestID = "request_id"
)

// OperatorAuth admits approver tokens and stores their subject.
// Decisions are attributed to that subject.
func OperatorAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return bearerAuth(tokenSvc, ports.ScopeApprovals, CtxOperator, log)
}

// WorkflowAuth admits tokens issued to the workflows that submit payments.
func WorkflowAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return bearerAuth(tokenSvc, ports.ScopePayments, CtxCaller, log)
}

func bearerAuth(tokenSvc ports.TokenService, scope, ctxKey string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenStr == "" {
			response.Error(c, apperror.ErrMissingToken())
			c.Abort()
			return
		}

		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("bearer token rejected")
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}
		if claims.Scope != scope {
			log.Debug().Str("scope", claims.Scope).Str("subject", claims.Subject).Str("path", c.Request.URL.Path).Msg("token scope refused")
			response.Error(c, apperror.ErrTokenScope(scope))
			c.Abort()
			return
		}

		c.Set(ctxKey, claims.Subject)
		c.Next()
	}
}

// Operator returns the authenticated operator subject, if any.
func Operator(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxOperator)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Caller returns the authenticated workflow subject, if any.
func Caller(c *gin.Context) (string, bool) {
	s, ok := c.Get(CtxCaller)
	if !ok {
		return "", false
	}
	caller, ok := s.(string)
	return caller, ok && caller != ""
}

// RequestID propagates X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(CtxRequestID)).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// MaxBodySize limits the request body size. Once the limit is exceeded the
// reader returns an error and binding fails.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
