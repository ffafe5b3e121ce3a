package service

import (
	"context"
	"testing"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

// nopAudit discards audit entries synchronously.
type nopAudit struct{}

func (nopAudit) Log(context.Context, *domain.AuditLog) {}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
