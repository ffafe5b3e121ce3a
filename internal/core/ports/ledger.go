package ports

import (
	"context"

	"agent-payment-gateway/internal/core/domain"
)

//go:generate mockgen -destination=mocks/mock_ledger.go -package=mocks . Ledger

// Ledger is a concrete wallet backend. Every implementation reports failures with
// the same WAL_* taxonomy: NotConfigured for missing or invalid credentials,
// BackendUnavailable for transport failures, Unsupported for capability gaps.
type Ledger interface {
	// Kind reports whether this is the primary or the fallback backend.
	Kind() domain.BackendKind
	// Capabilities is only meaningful after EnsureReady succeeded.
	Capabilities() domain.Capabilities
	Network() string
	EnsureReady(ctx context.Context) error
	GetBalance(ctx context.Context, asset string) (*domain.Balance, error)
	GetAddress(ctx context.Context) (string, error)
	// Transfer submits exactly one transfer. Implementations never retry.
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error)
}
