package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAuditDenied_RecordsUnauthorized(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)

	var captured *domain.AuditLog
	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, entry *domain.AuditLog) { captured = entry },
	)

	r := gin.New()
	r.Use(AuditDenied(mockAudit))
	r.POST("/api/v1/approvals/:id/decision", func(c *gin.Context) {
		c.Status(http.StatusUnauthorized)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/approvals/abc/decision", nil))

	require.NotNil(t, captured)
	assert.Equal(t, domain.AuditActionAccessDenied, captured.Action)
	assert.Equal(t, "/api/v1/approvals/:id/decision", captured.ResourceID)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(captured.Details), &details))
	assert.Equal(t, float64(401), details["status"])
	assert.Equal(t, "/api/v1/approvals/abc/decision", details["path"])
}

func TestAuditDenied_RecordsOperatorOnRateLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, entry *domain.AuditLog) {
			assert.Equal(t, "alice", entry.Actor)
		},
	)

	r := gin.New()
	r.Use(AuditDenied(mockAudit))
	r.POST("/limited", func(c *gin.Context) {
		c.Set(CtxOperator, "alice")
		c.Status(http.StatusTooManyRequests)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/limited", nil))
}

func TestAuditDenied_SkipsOtherStatuses(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No expectations: Log must not be called.
	mockAudit := mocks.NewMockAuditService(ctrl)

	r := gin.New()
	r.Use(AuditDenied(mockAudit))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/bad", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
}
