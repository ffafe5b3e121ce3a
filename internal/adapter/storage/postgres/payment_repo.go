package postgres

import (
	"context"
	"errors"
	"fmt"

	"agent-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create inserts a new payment.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (id, reference_id, approval_id, destination, amount, asset, memo, network,
		state, tx_hash, failure_reason, callback_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.ReferenceID, p.ApprovalID, p.Request.Destination, p.Request.Amount.String(),
		p.Request.Asset, p.Request.Memo, p.Request.Network,
		string(p.State), p.TxHash, p.FailureReason, p.CallbackURL, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// Update stores the latest state of a payment.
func (r *PaymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	query := `UPDATE payments SET approval_id = $1, state = $2, tx_hash = $3, failure_reason = $4, updated_at = $5
		WHERE id = $6`

	tag, err := r.pool.Exec(ctx, query,
		p.ApprovalID, string(p.State), p.TxHash, p.FailureReason, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment not found: %s", p.ID)
	}
	return nil
}

const paymentSelectColumns = `id, reference_id, approval_id, destination, amount::text, asset, memo, network,
		state, tx_hash, failure_reason, callback_url, created_at, updated_at`

// GetByID fetches a payment by UUID. Returns nil, nil when it does not exist.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentSelectColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// List returns the most recent payments, newest first.
func (r *PaymentRepo) List(ctx context.Context, limit int) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentSelectColumns + ` FROM payments ORDER BY created_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]*domain.Payment, 0, limit)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	p := &domain.Payment{}
	var amount, state string
	err := row.Scan(
		&p.ID, &p.ReferenceID, &p.ApprovalID, &p.Request.Destination, &amount,
		&p.Request.Asset, &p.Request.Memo, &p.Request.Network,
		&state, &p.TxHash, &p.FailureReason, &p.CallbackURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	if p.Request.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse payment amount %q: %w", amount, err)
	}
	p.State = domain.PaymentState(state)
	return p, nil
}
