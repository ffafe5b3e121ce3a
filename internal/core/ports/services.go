package ports

import (
	"context"
	"time"

	"agent-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_services.go -package=mocks . WalletService,ApprovalGate,ToolGuard,PaymentService,AuditService,TokenService,SignatureService,ResultNotifier

// WalletService owns the lazily initialized wallet backend.
type WalletService interface {
	EnsureReady(ctx context.Context) (Ledger, error)
	GetBalance(ctx context.Context, asset string) (*domain.Balance, error)
	GetAddress(ctx context.Context) (string, error)
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error)
	Info(ctx context.Context) (*domain.WalletInfo, error)
	State() domain.WalletStatus
	// Reset drops the active backend so the next call initializes again.
	Reset(ctx context.Context, actor string)
}

// ApprovalGate lets one goroutine block until another delivers a human decision.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, description string) (uuid.UUID, error)
	AwaitDecision(ctx context.Context, id uuid.UUID, timeout time.Duration) (*domain.Decision, error)
	Resolve(ctx context.Context, id uuid.UUID, decision domain.Decision) error
	Get(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error)
	ListPending() []domain.ApprovalRequest
	Shutdown()
}

// ToolFunc performs a gated tool call and returns its output.
type ToolFunc func(ctx context.Context) (string, error)

// ToolGuard holds workflow tool calls until a human approves them.
type ToolGuard interface {
	Submit(ctx context.Context, call domain.ToolCall, next ToolFunc) (uuid.UUID, error)
	Outcome(id uuid.UUID) (*domain.ToolOutcome, error)
}

// PaymentService runs the balance check, approval and transfer sequence.
type PaymentService interface {
	ExecutePayment(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error)
	SubmitPayment(ctx context.Context, req SubmitPaymentRequest) (*domain.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	ListPayments(ctx context.Context, limit int) ([]*domain.Payment, error)
}

// SubmitPaymentRequest holds validated input for an asynchronous payment.
type SubmitPaymentRequest struct {
	ReferenceID string
	Transfer    domain.TransferRequest
	CallbackURL string
}

// AuditService records audited actions without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// Token scopes. An approver token cannot submit payments and a workflow
// token cannot decide approvals.
const (
	ScopeApprovals = "approvals:decide"
	ScopePayments  = "payments:submit"
)

// TokenService handles bearer JWT operations.
type TokenService interface {
	Generate(subject, scope string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
	Scope   string
}

// SignatureService signs outbound callbacks with HMAC-SHA256.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	CanonicalPayload(timestamp int64, body []byte) string
}

// ResultNotifier tells the workflow layer that a submitted payment finished.
type ResultNotifier interface {
	Notify(ctx context.Context, payment *domain.Payment, callbackURL string) error
}
