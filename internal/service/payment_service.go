package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agent-payment-gateway/service"

// PaymentConfig tunes the orchestrator.
type PaymentConfig struct {
	Network              string        // used when a request names no network
	ApprovalTimeout      time.Duration // passed to AwaitDecision
	BalanceAttempts      int
	BalanceRetryInterval time.Duration
	ReferenceTTL         time.Duration // also how long finished payments stay in memory
}

// PaymentServiceImpl implements ports.PaymentService.
type PaymentServiceImpl struct {
	wallet   ports.WalletService
	gate     ports.ApprovalGate
	repo     ports.PaymentRepository // optional
	refs     ports.ReferenceGuard    // optional
	notifier ports.ResultNotifier    // optional
	audit    ports.AuditService
	cfg      PaymentConfig
	tracer   trace.Tracer
	log      zerolog.Logger

	mu       sync.Mutex
	payments map[uuid.UUID]*domain.Payment
	closed   bool

	// Background flows run on runCtx, not on the submitting request.
	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// NewPaymentService creates a new PaymentServiceImpl. repo, refs and notifier may be nil.
func NewPaymentService(
	wallet ports.WalletService,
	gate ports.ApprovalGate,
	repo ports.PaymentRepository,
	refs ports.ReferenceGuard,
	notifier ports.ResultNotifier,
	audit ports.AuditService,
	cfg PaymentConfig,
	log zerolog.Logger,
) *PaymentServiceImpl {
	if cfg.Network == "" {
		cfg.Network = domain.DefaultNetworkID
	}
	if cfg.BalanceAttempts < 1 {
		cfg.BalanceAttempts = 1
	}
	if cfg.ReferenceTTL <= 0 {
		cfg.ReferenceTTL = 24 * time.Hour
	}
	runCtx, stop := context.WithCancel(context.Background())
	return &PaymentServiceImpl{
		wallet:   wallet,
		gate:     gate,
		repo:     repo,
		refs:     refs,
		notifier: notifier,
		audit:    audit,
		cfg:      cfg,
		tracer:   otel.Tracer(tracerName),
		log:      log,
		payments: make(map[uuid.UUID]*domain.Payment),
		runCtx:   runCtx,
		stop:     stop,
	}
}

// ExecutePayment checks the balance, waits for a human approval and submits
// the transfer at most once.
func (s *PaymentServiceImpl) ExecutePayment(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	p := s.newPayment("", req, "")
	s.track(p)
	s.create(ctx, p)

	return s.run(ctx, p)
}

// SubmitPayment records the payment and runs the flow in the background.
// The returned payment is a QUOTED snapshot; poll GetPayment for progress.
func (s *PaymentServiceImpl) SubmitPayment(ctx context.Context, in ports.SubmitPaymentRequest) (*domain.Payment, error) {
	req, err := s.validate(in.Transfer)
	if err != nil {
		return nil, err
	}

	p := s.newPayment(in.ReferenceID, req, in.CallbackURL)

	if in.ReferenceID != "" && s.refs != nil {
		existing, claimed, err := s.refs.Claim(ctx, in.ReferenceID, p.ID.String(), s.cfg.ReferenceTTL)
		if err != nil {
			return nil, apperror.ErrCacheError(fmt.Errorf("claim reference: %w", err))
		}
		if !claimed {
			return nil, apperror.ErrDuplicatePayment(existing)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.releaseReference(ctx, in.ReferenceID)
		return nil, apperror.ErrApprovalShutDown()
	}
	s.pruneLocked(time.Now().UTC())
	s.payments[p.ID] = p
	snapshot := *p
	s.wg.Add(1)
	s.mu.Unlock()

	s.create(ctx, &snapshot)

	go func() {
		defer s.wg.Done()
		_, err := s.run(s.runCtx, p)
		if err != nil && !isBusinessOutcome(err) {
			s.log.Error().Err(err).Str("payment_id", p.ID.String()).Msg("submitted payment did not settle")
		}
		s.notify(p)
	}()

	s.log.Info().
		Str("payment_id", p.ID.String()).
		Str("reference_id", in.ReferenceID).
		Str("amount", req.Amount.String()).
		Str("asset", req.Asset).
		Msg("payment submitted")

	return &snapshot, nil
}

// GetPayment returns the payment from memory, falling back to the repository.
func (s *PaymentServiceImpl) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	s.mu.Lock()
	if p, ok := s.payments[id]; ok {
		snapshot := *p
		s.mu.Unlock()
		return &snapshot, nil
	}
	s.mu.Unlock()

	if s.repo == nil {
		return nil, apperror.ErrPaymentNotFound()
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payment: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrPaymentNotFound()
	}
	return p, nil
}

// ListPayments returns up to limit payments, newest first. Payments still in
// memory override their stored snapshot.
func (s *PaymentServiceImpl) ListPayments(ctx context.Context, limit int) ([]*domain.Payment, error) {
	if limit <= 0 {
		return nil, apperror.Validation("limit must be greater than zero")
	}

	byID := make(map[uuid.UUID]*domain.Payment)
	if s.repo != nil {
		stored, err := s.repo.List(ctx, limit)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("list payments: %w", err))
		}
		for _, p := range stored {
			byID[p.ID] = p
		}
	}

	s.mu.Lock()
	for id, p := range s.payments {
		snapshot := *p
		byID[id] = &snapshot
	}
	s.mu.Unlock()

	payments := make([]*domain.Payment, 0, len(byID))
	for _, p := range byID {
		payments = append(payments, p)
	}
	slices.SortFunc(payments, func(a, b *domain.Payment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

// Close cancels flows still waiting for approval and waits for every
// background flow to finish. Transfers already submitted run to completion.
func (s *PaymentServiceImpl) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
}

// run drives one payment through the state machine.
func (s *PaymentServiceImpl) run(ctx context.Context, p *domain.Payment) (*domain.TransferResult, error) {
	req := p.Request
	ctx, span := s.tracer.Start(ctx, "payment.execute", trace.WithAttributes(
		attribute.String("payment.id", p.ID.String()),
		attribute.String("payment.asset", req.Asset),
		attribute.String("payment.amount", req.Amount.String()),
		attribute.String("payment.network", req.Network),
	))
	defer span.End()

	result, err := s.orchestrate(ctx, p)
	if err != nil {
		span.SetAttributes(attribute.String("payment.error_code", apperror.CodeOf(err)))
		if !isBusinessOutcome(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.SetAttributes(attribute.String("payment.state", string(s.stateOf(p))))
	return result, err
}

func (s *PaymentServiceImpl) orchestrate(ctx context.Context, p *domain.Payment) (*domain.TransferResult, error) {
	req := p.Request
	log := s.log.With().Str("payment_id", p.ID.String()).Logger()

	// 1. Network and balance
	if err := s.checkNetwork(ctx, req.Network); err != nil {
		log.Warn().Err(err).Str("network", req.Network).Msg("payment refused: network not served by wallet")
		s.fail(ctx, p, domain.PaymentStateFailed, err)
		return nil, err
	}
	balance, err := s.checkBalance(ctx, req.Asset)
	if err != nil {
		s.fail(ctx, p, domain.PaymentStateFailed, err)
		return nil, err
	}
	if balance.Amount.LessThan(req.Amount) {
		err := apperror.ErrInsufficientFunds(req.Amount, balance.Amount)
		log.Info().
			Str("required", req.Amount.String()).
			Str("available", balance.Amount.String()).
			Msg("payment refused: insufficient funds")
		s.fail(ctx, p, domain.PaymentStateFailed, err)
		return nil, err
	}
	s.transition(ctx, p, domain.PaymentStateBalanceChecked, nil)

	// 2. Approval
	approvalID, err := s.gate.RequestApproval(ctx, describePayment(req))
	if err != nil {
		s.fail(ctx, p, domain.PaymentStateFailed, err)
		return nil, fmt.Errorf("requesting approval: %w", err)
	}
	s.transition(ctx, p, domain.PaymentStateAwaitingApproval, func(p *domain.Payment) {
		p.ApprovalID = &approvalID
	})

	decision, err := s.gate.AwaitDecision(ctx, approvalID, s.cfg.ApprovalTimeout)
	if err != nil {
		s.fail(ctx, p, domain.PaymentStateExpired, err)
		return nil, fmt.Errorf("awaiting approval %s: %w", approvalID, err)
	}

	// 3. Rejection
	if !decision.Approved() {
		s.transition(ctx, p, domain.PaymentStateRejected, nil)
		s.fail(ctx, p, domain.PaymentStateCancelled, apperror.ErrUserRejected())
		log.Info().Str("approval_id", approvalID.String()).Str("reason", decision.Reason).Msg("payment rejected by approver")
		recordAudit(ctx, s.audit, newAuditEntry(domain.AuditActionPaymentRejected, "payment", p.ID.String(), decision.ResolvedBy,
			map[string]string{"approval_id": approvalID.String(), "reason": decision.Reason}))
		return nil, apperror.ErrUserRejected()
	}
	s.transition(ctx, p, domain.PaymentStateApproved, nil)

	// 4. Transfer, exactly once
	if !s.canTransfer(p) {
		return nil, apperror.InternalError(fmt.Errorf("payment %s not approved", p.ID))
	}
	s.transition(ctx, p, domain.PaymentStateTransferring, nil)
	recordAudit(ctx, s.audit, newAuditEntry(domain.AuditActionTransferSubmitted, "payment", p.ID.String(), decision.ResolvedBy,
		map[string]string{"amount": req.Amount.String(), "asset": req.Asset, "destination": req.Destination}))

	result, err := s.wallet.Transfer(ctx, req)
	if err == nil && (result == nil || !result.Success) {
		err = errors.New(transferError(result))
	}
	if err != nil {
		terr := apperror.ErrTransferFailed(err)
		log.Error().Err(err).Str("approval_id", approvalID.String()).Msg("transfer failed")
		s.fail(ctx, p, domain.PaymentStateFailed, terr)
		recordAudit(ctx, s.audit, newAuditEntry(domain.AuditActionTransferFailed, "payment", p.ID.String(), "",
			map[string]string{"error": err.Error()}))
		return nil, terr
	}

	// 5. Settled
	s.transition(ctx, p, domain.PaymentStateSettled, func(p *domain.Payment) {
		p.TxHash = result.TxHash
	})
	log.Info().Str("tx_hash", result.TxHash).Str("amount", req.Amount.String()).Str("asset", req.Asset).Msg("payment settled")
	recordAudit(ctx, s.audit, newAuditEntry(domain.AuditActionTransferSettled, "payment", p.ID.String(), "",
		map[string]string{"tx_hash": result.TxHash}))

	return result, nil
}

// checkNetwork refuses a payment on a network other than the active backend's.
func (s *PaymentServiceImpl) checkNetwork(ctx context.Context, network string) error {
	backend, err := s.wallet.EnsureReady(ctx)
	if err != nil {
		return err
	}
	if active := backend.Network(); !domain.SameNetwork(active, network) {
		return apperror.ErrWalletUnsupported(fmt.Sprintf("transfer on %s (wallet is on %s)", network, active))
	}
	return nil
}

// checkBalance retries only BackendUnavailable, with linear backoff.
func (s *PaymentServiceImpl) checkBalance(ctx context.Context, asset string) (*domain.Balance, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.BalanceAttempts; attempt++ {
		balance, err := s.wallet.GetBalance(ctx, asset)
		if err == nil {
			return balance, nil
		}
		if !apperror.HasCode(err, apperror.CodeWalletBackendUnavailable) {
			return nil, err
		}
		lastErr = err
		if attempt == s.cfg.BalanceAttempts {
			break
		}

		s.log.Warn().Err(err).Int("attempt", attempt).Str("asset", asset).Msg("balance query failed, retrying")
		select {
		case <-time.After(s.cfg.BalanceRetryInterval * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, fmt.Errorf("balance query: %w", ctx.Err())
		}
	}
	return nil, lastErr
}

// validate normalizes req and rejects anything that cannot be transferred.
func (s *PaymentServiceImpl) validate(req domain.TransferRequest) (domain.TransferRequest, error) {
	req.Destination = strings.TrimSpace(req.Destination)
	if !common.IsHexAddress(req.Destination) {
		return req, apperror.ErrInvalidPayment("destination must be a 0x-prefixed EVM address")
	}

	asset, ok := domain.LookupAsset(req.Asset)
	if !ok {
		return req, apperror.ErrInvalidPayment(fmt.Sprintf("unsupported asset %q", req.Asset))
	}
	req.Asset = asset.Symbol

	if !req.Amount.IsPositive() {
		return req, apperror.ErrInvalidPayment("amount must be greater than zero")
	}
	if _, err := asset.ToUnits(req.Amount); err != nil {
		return req, apperror.ErrInvalidPayment(err.Error())
	}

	if req.Network == "" {
		req.Network = s.cfg.Network
	}
	network, ok := domain.LookupNetwork(req.Network)
	if !ok {
		return req, apperror.ErrInvalidPayment(fmt.Sprintf("unknown network %q", req.Network))
	}
	req.Network = network.ID

	return req, nil
}

func (s *PaymentServiceImpl) newPayment(referenceID string, req domain.TransferRequest, callbackURL string) *domain.Payment {
	now := time.Now().UTC()
	return &domain.Payment{
		ID:          uuid.New(),
		ReferenceID: referenceID,
		Request:     req,
		State:       domain.PaymentStateQuoted,
		CallbackURL: callbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *PaymentServiceImpl) track(p *domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now().UTC())
	s.payments[p.ID] = p
}

// transition moves p to state under mu and persists the new snapshot.
func (s *PaymentServiceImpl) transition(ctx context.Context, p *domain.Payment, state domain.PaymentState, mutate func(*domain.Payment)) {
	s.mu.Lock()
	p.State = state
	p.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(p)
	}
	snapshot := *p
	s.mu.Unlock()

	s.update(ctx, &snapshot)
}

func (s *PaymentServiceImpl) fail(ctx context.Context, p *domain.Payment, state domain.PaymentState, cause error) {
	s.transition(ctx, p, state, func(p *domain.Payment) {
		p.FailureReason = cause.Error()
	})
}

func (s *PaymentServiceImpl) stateOf(p *domain.Payment) domain.PaymentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.State
}

func (s *PaymentServiceImpl) canTransfer(p *domain.Payment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.CanTransfer()
}

func (s *PaymentServiceImpl) create(ctx context.Context, p *domain.Payment) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Create(context.WithoutCancel(ctx), p); err != nil {
		s.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("failed to persist payment")
	}
}

func (s *PaymentServiceImpl) update(ctx context.Context, p *domain.Payment) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Update(context.WithoutCancel(ctx), p); err != nil {
		s.log.Warn().Err(err).Str("payment_id", p.ID.String()).Str("state", string(p.State)).Msg("failed to persist payment state")
	}
}

func (s *PaymentServiceImpl) notify(p *domain.Payment) {
	if s.notifier == nil || p.CallbackURL == "" {
		return
	}
	s.mu.Lock()
	snapshot := *p
	s.mu.Unlock()

	if err := s.notifier.Notify(context.Background(), &snapshot, snapshot.CallbackURL); err != nil {
		s.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("failed to schedule result callback")
	}
}

func (s *PaymentServiceImpl) releaseReference(ctx context.Context, referenceID string) {
	if referenceID == "" || s.refs == nil {
		return
	}
	if err := s.refs.Release(ctx, referenceID); err != nil {
		s.log.Warn().Err(err).Str("reference_id", referenceID).Msg("failed to release payment reference")
	}
}

// pruneLocked forgets finished payments older than ReferenceTTL.
func (s *PaymentServiceImpl) pruneLocked(now time.Time) {
	for id, p := range s.payments {
		if p.IsTerminal() && now.Sub(p.UpdatedAt) > s.cfg.ReferenceTTL {
			delete(s.payments, id)
		}
	}
}

// describePayment is the question shown to the approver.
func describePayment(req domain.TransferRequest) string {
	desc := fmt.Sprintf("Send %s %s to %s on %s", req.Amount.String(), req.Asset, req.Destination, req.Network)
	if req.Memo != "" {
		desc += fmt.Sprintf(" (memo: %s)", req.Memo)
	}
	return desc + "?"
}

func transferError(result *domain.TransferResult) string {
	if result == nil || result.Error == "" {
		return "backend reported an unsuccessful transfer"
	}
	return result.Error
}

// isBusinessOutcome reports errors that end a payment without anything being broken.
func isBusinessOutcome(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch apperror.CodeOf(err) {
	case apperror.CodeInsufficientFunds, apperror.CodeUserRejected,
		apperror.CodeApprovalTimedOut, apperror.CodeApprovalShutDown:
		return true
	}
	return false
}
