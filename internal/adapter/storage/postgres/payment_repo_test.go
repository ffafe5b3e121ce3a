package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"agent-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment() *domain.Payment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Payment{
		ID:          uuid.New(),
		ReferenceID: "inv-1001",
		Request: domain.TransferRequest{
			Destination: "0x1111111111111111111111111111111111111111",
			Amount:      decimal.RequireFromString("12.5"),
			Asset:       "USDC",
			Memo:        "invoice 1001",
			Network:     "base-sepolia",
		},
		State:       domain.PaymentStateQuoted,
		CallbackURL: "https://merchant.example/hooks",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func paymentColumns() []string {
	return []string{
		"id", "reference_id", "approval_id", "destination", "amount", "asset", "memo", "network",
		"state", "tx_hash", "failure_reason", "callback_url", "created_at", "updated_at",
	}
}

func paymentRow(p *domain.Payment, amount string) *pgxmock.Rows {
	return pgxmock.NewRows(paymentColumns()).AddRow(
		p.ID, p.ReferenceID, p.ApprovalID, p.Request.Destination, amount,
		p.Request.Asset, p.Request.Memo, p.Request.Network,
		string(p.State), p.TxHash, p.FailureReason, p.CallbackURL, p.CreatedAt, p.UpdatedAt,
	)
}

func TestPaymentRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	p := newTestPayment()

	mock.ExpectExec("INSERT INTO payments").
		WithArgs(
			p.ID, "inv-1001", p.ApprovalID, p.Request.Destination, "12.5",
			"USDC", "invoice 1001", "base-sepolia",
			"QUOTED", "", "", "https://merchant.example/hooks", p.CreatedAt, p.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_Create_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)

	mock.ExpectExec("INSERT INTO payments").
		WillReturnError(errors.New("duplicate key value"))

	err = repo.Create(context.Background(), newTestPayment())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert payment")
}

func TestPaymentRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	p := newTestPayment()
	approvalID := uuid.New()
	p.ApprovalID = &approvalID
	p.State = domain.PaymentStateSettled
	p.TxHash = "0xfeed"

	mock.ExpectExec("UPDATE payments SET approval_id").
		WithArgs(p.ApprovalID, "SETTLED", "0xfeed", "", p.UpdatedAt, p.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Update(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_Update_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	p := newTestPayment()

	mock.ExpectExec("UPDATE payments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), p.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.Error(t, repo.Update(context.Background(), p))
}

func TestPaymentRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	p := newTestPayment()
	approvalID := uuid.New()
	p.ApprovalID = &approvalID
	p.State = domain.PaymentStateAwaitingApproval

	mock.ExpectQuery("SELECT .+ FROM payments WHERE id").
		WithArgs(p.ID).
		WillReturnRows(paymentRow(p, "12.500000000000000000"))

	got, err := repo.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, domain.PaymentStateAwaitingApproval, got.State)
	assert.True(t, decimal.RequireFromString("12.5").Equal(got.Request.Amount))
	require.NotNil(t, got.ApprovalID)
	assert.Equal(t, approvalID, *got.ApprovalID)
	assert.Equal(t, "https://merchant.example/hooks", got.CallbackURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM payments WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestPaymentRepo_GetByID_BadAmount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	p := newTestPayment()

	mock.ExpectQuery("SELECT .+ FROM payments WHERE id").
		WithArgs(p.ID).
		WillReturnRows(paymentRow(p, "twelve"))

	_, err = repo.GetByID(context.Background(), p.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse payment amount")
}

func TestPaymentRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	older := newTestPayment()
	newer := newTestPayment()
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)
	newer.State = domain.PaymentStateSettled
	newer.TxHash = "0xabc"

	rows := pgxmock.NewRows(paymentColumns())
	for _, p := range []*domain.Payment{newer, older} {
		rows.AddRow(
			p.ID, p.ReferenceID, p.ApprovalID, p.Request.Destination, "12.5",
			p.Request.Asset, p.Request.Memo, p.Request.Network,
			string(p.State), p.TxHash, p.FailureReason, p.CallbackURL, p.CreatedAt, p.UpdatedAt,
		)
	}
	mock.ExpectQuery("SELECT .+ FROM payments ORDER BY created_at DESC LIMIT").
		WithArgs(10).
		WillReturnRows(rows)

	got, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, domain.PaymentStateSettled, got[0].State)
	assert.Equal(t, "0xabc", got[0].TxHash)
	assert.Equal(t, older.ID, got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_List_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	mock.ExpectQuery("SELECT .+ FROM payments ORDER BY").
		WithArgs(5).
		WillReturnError(errors.New("connection reset"))

	_, err = repo.List(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list payments")
}
