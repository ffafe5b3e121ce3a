package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/pkg/apperror"

	"github.com/rs/zerolog"
)

// WalletManager implements ports.WalletService.
//
// Backends are tried in order on first use and the first one that initializes
// stays active until Reset. Initialization runs under mu, so concurrent callers
// share a single attempt and observe the same outcome.
type WalletManager struct {
	backends []ports.Ledger
	audit    ports.AuditService
	log      zerolog.Logger

	mu     sync.Mutex
	state  domain.WalletState
	active ports.Ledger
	reason string

	attempts int // initialization attempts, for observability
}

// NewWalletManager creates a manager over an ordered list of backends, primary first.
func NewWalletManager(backends []ports.Ledger, audit ports.AuditService, log zerolog.Logger) *WalletManager {
	return &WalletManager{
		backends: backends,
		audit:    audit,
		log:      log,
		state:    domain.WalletStateUninitialized,
	}
}

// EnsureReady returns the active backend, initializing it on first use.
func (m *WalletManager) EnsureReady(ctx context.Context) (ports.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case domain.WalletStateReady:
		return m.active, nil
	case domain.WalletStateFailed:
		return nil, apperror.ErrWalletNotConfigured(errors.New(m.reason))
	}

	m.state = domain.WalletStateInitializing
	m.attempts++

	var errs []error
	for _, backend := range m.backends {
		err := backend.EnsureReady(ctx)
		if err == nil {
			m.state = domain.WalletStateReady
			m.active = backend
			m.reason = ""
			m.log.Info().
				Str("backend", string(backend.Kind())).
				Str("network", backend.Network()).
				Msg("wallet backend ready")
			recordAudit(ctx, m.audit, newAuditEntry(domain.AuditActionWalletReady, "wallet", "", "",
				map[string]string{"backend": string(backend.Kind()), "network": backend.Network()}))
			return backend, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller went away; that says nothing about configuration.
			m.state = domain.WalletStateUninitialized
			return nil, fmt.Errorf("initializing wallet: %w", ctxErr)
		}

		m.log.Warn().Err(err).Str("backend", string(backend.Kind())).Msg("wallet backend failed to initialize, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", backend.Kind(), err))
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no wallet backends configured"))
	}
	joined := errors.Join(errs...)
	m.state = domain.WalletStateFailed
	m.reason = joined.Error()
	m.log.Error().Err(joined).Msg("no wallet backend could be initialized")

	return nil, apperror.ErrWalletNotConfigured(joined)
}

// GetBalance queries the live balance of asset from the active backend.
func (m *WalletManager) GetBalance(ctx context.Context, asset string) (*domain.Balance, error) {
	backend, err := m.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}
	if !backend.Capabilities().Balances {
		return nil, apperror.ErrWalletUnsupported("balance query")
	}
	return backend.GetBalance(ctx, asset)
}

// GetAddress returns the address of the active backend.
func (m *WalletManager) GetAddress(ctx context.Context) (string, error) {
	backend, err := m.EnsureReady(ctx)
	if err != nil {
		return "", err
	}
	return backend.GetAddress(ctx)
}

// Transfer submits req to the active backend exactly once. The submission is
// detached from ctx cancellation so its outcome is always observed.
func (m *WalletManager) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	backend, err := m.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}
	if !backend.Capabilities().Transfers {
		return nil, apperror.ErrWalletUnsupported("transfer")
	}
	if req.Network != "" && !domain.SameNetwork(req.Network, backend.Network()) {
		return nil, apperror.ErrWalletUnsupported(fmt.Sprintf("transfer on %s", req.Network))
	}

	m.log.Info().
		Str("destination", req.Destination).
		Str("amount", req.Amount.String()).
		Str("asset", req.Asset).
		Str("backend", string(backend.Kind())).
		Msg("submitting transfer")

	return backend.Transfer(context.WithoutCancel(ctx), req)
}

// Info summarizes the active wallet. Balances are omitted when unsupported.
func (m *WalletManager) Info(ctx context.Context) (*domain.WalletInfo, error) {
	backend, err := m.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}

	address, err := backend.GetAddress(ctx)
	if err != nil {
		return nil, err
	}

	caps := backend.Capabilities()
	info := &domain.WalletInfo{
		Address:    address,
		Network:    backend.Network(),
		Backend:    backend.Kind(),
		WalletType: backend.Kind().WalletType(),
		Gasless:    caps.Gasless && backend.Kind() == domain.BackendPrimary,
	}

	if caps.Balances {
		if b, err := backend.GetBalance(ctx, domain.AssetUSDC.Symbol); err == nil {
			info.USDCBalance = &b.Amount
		} else {
			m.log.Warn().Err(err).Msg("wallet info: usdc balance unavailable")
		}
		if b, err := backend.GetBalance(ctx, domain.AssetETH.Symbol); err == nil {
			info.ETHBalance = &b.Amount
		} else {
			m.log.Warn().Err(err).Msg("wallet info: eth balance unavailable")
		}
	}

	return info, nil
}

// State returns a snapshot of the manager state.
func (m *WalletManager) State() domain.WalletStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := domain.WalletStatus{State: m.state, Reason: m.reason}
	if m.active != nil {
		status.Backend = m.active.Kind()
	}
	return status
}

// Reset drops the active backend; the next call initializes again.
func (m *WalletManager) Reset(ctx context.Context, actor string) {
	m.mu.Lock()
	previous := m.state
	m.state = domain.WalletStateUninitialized
	m.active = nil
	m.reason = ""
	m.mu.Unlock()

	m.log.Info().Str("previous_state", string(previous)).Str("actor", actor).Msg("wallet manager reset")
	recordAudit(ctx, m.audit, newAuditEntry(domain.AuditActionWalletReset, "wallet", "", actor,
		map[string]string{"previous_state": string(previous)}))
}

// Ping reports whether a wallet backend is usable.
func (m *WalletManager) Ping(ctx context.Context) error {
	_, err := m.EnsureReady(ctx)
	return err
}

// Name implements ports.HealthChecker.
func (m *WalletManager) Name() string {
	return "wallet"
}

// initAttempts returns how many initialization attempts ran.
func (m *WalletManager) initAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
