package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"agent-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepository(mock)
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionTransferSettled,
		ResourceType: "payment",
		ResourceID:   uuid.NewString(),
		Actor:        "system",
		Details:      `{"tx_hash":"0xfeed"}`,
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, "TRANSFER_SETTLED", "payment", entry.ResourceID, "system", &entry.Details, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Create_EmptyDetailsStoredAsNull(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepository(mock)
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionWalletReset,
		ResourceType: "wallet",
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, "WALLET_RESET", "wallet", "", "", (*string)(nil), entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Create_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepository(mock)

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnError(errors.New("disk full"))

	err = repo.Create(context.Background(), &domain.AuditLog{ID: uuid.New(), Action: domain.AuditActionWalletReady})
	assert.Error(t, err)
}
