package service

import (
	"context"
	"testing"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports/mocks"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestAuditService_Log_PersistsToRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	done := make(chan struct{})
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) error {
			assert.Equal(t, domain.AuditActionApprovalResolved, log.Action)
			assert.Equal(t, "operator-1", log.Actor)
			assert.JSONEq(t, `{"verdict":"APPROVED"}`, log.Details)
			close(done)
			return nil
		},
	)

	svc.Log(context.Background(), newAuditEntry(
		domain.AuditActionApprovalResolved, "approval", "a-1", "operator-1",
		map[string]string{"verdict": "APPROVED"},
	))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit log not persisted in time")
	}
}

func TestAuditService_Log_SurvivesCancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	done := make(chan struct{})
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ *domain.AuditLog) error {
			assert.NoError(t, ctx.Err())
			close(done)
			return nil
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Log(ctx, newAuditEntry(domain.AuditActionWalletReset, "wallet", "", "admin", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit log not persisted in time")
	}
}

func TestAuditService_Log_NilRepo(t *testing.T) {
	svc := NewAuditService(nil, newTestLogger())

	svc.Log(context.Background(), newAuditEntry(domain.AuditActionWalletReady, "wallet", "", "", nil))

	time.Sleep(50 * time.Millisecond) // let goroutine run
}

func TestNewAuditEntry_NoDetails(t *testing.T) {
	entry := newAuditEntry(domain.AuditActionApprovalExpired, "approval", "x", "", nil)
	assert.Empty(t, entry.Details)
	assert.NotEqual(t, [16]byte{}, [16]byte(entry.ID))
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestRecordAudit_NilService(t *testing.T) {
	assert.NotPanics(t, func() {
		recordAudit(context.Background(), nil, newAuditEntry(domain.AuditActionWalletReset, "wallet", "", "", nil))
	})
}
