package ports

import (
	"context"
	"time"

	"agent-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_repositories.go -package=mocks . ApprovalRepository,PaymentRepository,AuditRepository,ReferenceGuard

// ApprovalRepository persists approval requests for audit.
// GetByID returns nil, nil when the request does not exist.
type ApprovalRepository interface {
	Create(ctx context.Context, req *domain.ApprovalRequest) error
	Update(ctx context.Context, req *domain.ApprovalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error)
	// ExpirePending marks every request still PENDING as EXPIRED and returns how many changed.
	ExpirePending(ctx context.Context, at time.Time) (int64, error)
}

// PaymentRepository persists payment orchestrator runs.
// GetByID returns nil, nil when the payment does not exist.
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	Update(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	List(ctx context.Context, limit int) ([]*domain.Payment, error)
}

// AuditRepository defines persistence for audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// ReferenceGuard deduplicates client payment references across instances.
type ReferenceGuard interface {
	// Claim binds referenceID to paymentID if unclaimed. When the reference is
	// already bound it returns the existing payment id and claimed=false.
	Claim(ctx context.Context, referenceID, paymentID string, ttl time.Duration) (existing string, claimed bool, err error)
	Release(ctx context.Context, referenceID string) error
}
