package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agent-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ApprovalRepo implements ports.ApprovalRepository.
type ApprovalRepo struct {
	pool Pool
}

// NewApprovalRepo creates a new ApprovalRepo.
func NewApprovalRepo(pool Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

// Create inserts a new approval request.
func (r *ApprovalRepo) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	query := `INSERT INTO approval_requests (id, description, status, resolved_by, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		req.ID, req.Description, string(req.Status), req.ResolvedBy, req.CreatedAt, req.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// Update stores the outcome of a request.
func (r *ApprovalRepo) Update(ctx context.Context, req *domain.ApprovalRequest) error {
	query := `UPDATE approval_requests SET status = $1, resolved_by = $2, resolved_at = $3 WHERE id = $4`

	tag, err := r.pool.Exec(ctx, query, string(req.Status), req.ResolvedBy, req.ResolvedAt, req.ID)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approval request not found: %s", req.ID)
	}
	return nil
}

// GetByID fetches a request by UUID. Returns nil, nil when it does not exist.
func (r *ApprovalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	query := `SELECT id, description, status, resolved_by, created_at, resolved_at
		FROM approval_requests WHERE id = $1`

	req := &domain.ApprovalRequest{}
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.Description, &status, &req.ResolvedBy, &req.CreatedAt, &req.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan approval request: %w", err)
	}
	req.Status = domain.ApprovalStatus(status)
	return req, nil
}

// ExpirePending marks every PENDING request EXPIRED.
func (r *ApprovalRepo) ExpirePending(ctx context.Context, at time.Time) (int64, error) {
	query := `UPDATE approval_requests SET status = 'EXPIRED', resolved_at = $1 WHERE status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query, at)
	if err != nil {
		return 0, fmt.Errorf("expire pending approvals: %w", err)
	}
	return tag.RowsAffected(), nil
}
