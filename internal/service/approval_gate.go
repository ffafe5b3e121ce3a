package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ApprovalGateConfig tunes the gate.
type ApprovalGateConfig struct {
	// Timeout applies when AwaitDecision is called without one.
	Timeout time.Duration
	// TombstoneTTL is how long settled requests are remembered in memory.
	TombstoneTTL time.Duration
}

// ApprovalGate implements ports.ApprovalGate.
//
// Each request owns a single-slot channel. Resolve fills the slot under mu, so
// at most one decision is ever delivered, and a decision that arrives before
// the waiter starts is kept until it is consumed. Settled requests stay in the
// map as tombstones so late decisions are rejected instead of silently lost.
type ApprovalGate struct {
	repo   ports.ApprovalRepository // optional
	audit  ports.AuditService
	cfg    ApprovalGateConfig
	log    zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu      sync.Mutex
	entries map[uuid.UUID]*approvalEntry
	closed  bool
	done    chan struct{}
}

type approvalEntry struct {
	req       domain.ApprovalRequest
	decision  chan domain.Decision
	awaited   bool
	settledAt time.Time
}

// NewApprovalGate creates a gate. repo may be nil when persistence is disabled.
func NewApprovalGate(repo ports.ApprovalRepository, audit ports.AuditService, cfg ApprovalGateConfig, log zerolog.Logger) *ApprovalGate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = time.Hour
	}
	return &ApprovalGate{
		repo:    repo,
		audit:   audit,
		cfg:     cfg,
		log:     log,
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[uuid.UUID]*approvalEntry),
		done:    make(chan struct{}),
	}
}

// RequestApproval registers a PENDING request and returns its id without waiting.
func (g *ApprovalGate) RequestApproval(ctx context.Context, description string) (uuid.UUID, error) {
	now := g.now()
	req := domain.ApprovalRequest{
		ID:          uuid.New(),
		Description: description,
		Status:      domain.ApprovalStatusPending,
		CreatedAt:   now,
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return uuid.Nil, apperror.ErrApprovalShutDown()
	}
	g.pruneLocked(now)
	g.entries[req.ID] = &approvalEntry{
		req:      req,
		decision: make(chan domain.Decision, 1),
	}
	g.mu.Unlock()

	if g.repo != nil {
		if err := g.repo.Create(context.WithoutCancel(ctx), &req); err != nil {
			g.log.Warn().Err(err).Str("approval_id", req.ID.String()).Msg("failed to persist approval request")
		}
	}

	g.log.Info().Str("approval_id", req.ID.String()).Str("description", description).Msg("approval requested")
	recordAudit(ctx, g.audit, newAuditEntry(domain.AuditActionApprovalRequested, "approval", req.ID.String(), "",
		map[string]string{"description": description}))

	return req.ID, nil
}

// AwaitDecision blocks until the request is resolved, the timeout elapses,
// ctx is cancelled or the gate shuts down. Anything but a decision expires the request.
func (g *ApprovalGate) AwaitDecision(ctx context.Context, id uuid.UUID, timeout time.Duration) (*domain.Decision, error) {
	ctx, span := g.tracer.Start(ctx, "approval.await", trace.WithAttributes(
		attribute.String("approval.id", id.String()),
	))
	defer span.End()

	d, err := g.awaitDecision(ctx, id, timeout)
	if err != nil {
		span.SetAttributes(attribute.String("error.code", apperror.CodeOf(err)))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("approval.verdict", string(d.Verdict)))
	return d, nil
}

func (g *ApprovalGate) awaitDecision(ctx context.Context, id uuid.UUID, timeout time.Duration) (*domain.Decision, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, apperror.ErrApprovalShutDown()
	}
	e, ok := g.entries[id]
	if !ok {
		g.mu.Unlock()
		return nil, apperror.ErrApprovalNotFound()
	}
	if e.awaited {
		g.mu.Unlock()
		return nil, apperror.ErrApprovalAlreadyAwaited()
	}
	if e.req.Status == domain.ApprovalStatusExpired {
		g.mu.Unlock()
		return nil, apperror.ErrApprovalExpired()
	}
	e.awaited = true
	ch := e.decision
	g.mu.Unlock()

	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		return &d, nil
	case <-timer.C:
		return g.expire(ctx, id, ch, apperror.ErrApprovalTimedOut())
	case <-ctx.Done():
		return g.expire(ctx, id, ch, fmt.Errorf("awaiting approval %s: %w", id, ctx.Err()))
	case <-g.done:
		return g.expire(ctx, id, ch, apperror.ErrApprovalShutDown())
	}
}

// expire marks a waited-on request EXPIRED unless a decision won the race.
func (g *ApprovalGate) expire(ctx context.Context, id uuid.UUID, ch <-chan domain.Decision, cause error) (*domain.Decision, error) {
	now := g.now()

	g.mu.Lock()
	e, ok := g.entries[id]
	if !ok {
		g.mu.Unlock()
		return nil, cause
	}
	switch e.req.Status {
	case domain.ApprovalStatusApproved, domain.ApprovalStatusRejected:
		g.mu.Unlock()
		// Resolve fills the slot before it releases mu.
		d := <-ch
		return &d, nil
	case domain.ApprovalStatusExpired:
		g.mu.Unlock()
		return nil, cause
	}
	e.req.Status = domain.ApprovalStatusExpired
	e.req.ResolvedAt = &now
	e.settledAt = now
	req := e.req
	g.mu.Unlock()

	g.log.Info().Err(cause).Str("approval_id", id.String()).Msg("approval expired")
	g.persist(ctx, &req)
	recordAudit(ctx, g.audit, newAuditEntry(domain.AuditActionApprovalExpired, "approval", id.String(), "",
		map[string]string{"cause": cause.Error()}))

	return nil, cause
}

// Resolve delivers one decision for id. A second decision, or one for an
// unknown or expired request, is rejected.
func (g *ApprovalGate) Resolve(ctx context.Context, id uuid.UUID, decision domain.Decision) error {
	if decision.Verdict != domain.VerdictApproved && decision.Verdict != domain.VerdictRejected {
		return apperror.Validation(fmt.Sprintf("unknown verdict %q", decision.Verdict))
	}
	now := g.now()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return apperror.ErrApprovalShutDown()
	}
	g.pruneLocked(now)

	e, ok := g.entries[id]
	if !ok {
		g.mu.Unlock()
		return g.resolveUnknown(ctx, id)
	}
	switch e.req.Status {
	case domain.ApprovalStatusApproved, domain.ApprovalStatusRejected:
		g.mu.Unlock()
		return apperror.ErrApprovalAlreadyResolved()
	case domain.ApprovalStatusExpired:
		g.mu.Unlock()
		return apperror.ErrApprovalExpired()
	}

	decision.RequestID = id
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = now
	}
	e.req.Status = decision.Verdict.Status()
	e.req.ResolvedAt = &now
	e.req.ResolvedBy = decision.ResolvedBy
	e.settledAt = now
	e.decision <- decision
	req := e.req
	g.mu.Unlock()

	g.log.Info().
		Str("approval_id", id.String()).
		Str("verdict", string(decision.Verdict)).
		Str("resolved_by", decision.ResolvedBy).
		Msg("approval resolved")
	g.persist(ctx, &req)
	recordAudit(ctx, g.audit, newAuditEntry(domain.AuditActionApprovalResolved, "approval", id.String(), decision.ResolvedBy,
		map[string]string{"verdict": string(decision.Verdict), "reason": decision.Reason}))

	return nil
}

// resolveUnknown answers a decision for an id this process does not hold.
// A persisted request still PENDING was lost with a previous process and is expired.
func (g *ApprovalGate) resolveUnknown(ctx context.Context, id uuid.UUID) error {
	if g.repo == nil {
		return apperror.ErrApprovalNotFound()
	}

	stored, err := g.repo.GetByID(ctx, id)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("get approval: %w", err))
	}
	if stored == nil {
		return apperror.ErrApprovalNotFound()
	}

	switch stored.Status {
	case domain.ApprovalStatusApproved, domain.ApprovalStatusRejected:
		return apperror.ErrApprovalAlreadyResolved()
	case domain.ApprovalStatusPending:
		now := g.now()
		stored.Status = domain.ApprovalStatusExpired
		stored.ResolvedAt = &now
		g.log.Warn().Str("approval_id", id.String()).Msg("decision for orphaned approval, marking expired")
		g.persist(ctx, stored)
	}
	return apperror.ErrApprovalExpired()
}

// Get returns the current view of a request.
func (g *ApprovalGate) Get(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	g.mu.Lock()
	if e, ok := g.entries[id]; ok {
		req := e.req
		g.mu.Unlock()
		return &req, nil
	}
	g.mu.Unlock()

	if g.repo != nil {
		stored, err := g.repo.GetByID(ctx, id)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("get approval: %w", err))
		}
		if stored != nil {
			return stored, nil
		}
	}
	return nil, apperror.ErrApprovalNotFound()
}

// ListPending returns a snapshot of PENDING requests, oldest first.
func (g *ApprovalGate) ListPending() []domain.ApprovalRequest {
	g.mu.Lock()
	out := make([]domain.ApprovalRequest, 0, len(g.entries))
	for _, e := range g.entries {
		if e.req.Status == domain.ApprovalStatusPending {
			out = append(out, e.req)
		}
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown expires every pending request and wakes all waiters. It is idempotent.
func (g *ApprovalGate) Shutdown() {
	now := g.now()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	var expired []domain.ApprovalRequest
	for _, e := range g.entries {
		if e.req.Status != domain.ApprovalStatusPending {
			continue
		}
		e.req.Status = domain.ApprovalStatusExpired
		e.req.ResolvedAt = &now
		e.settledAt = now
		expired = append(expired, e.req)
	}
	close(g.done)
	g.mu.Unlock()

	for i := range expired {
		g.persist(context.Background(), &expired[i])
	}
	g.log.Info().Int("expired", len(expired)).Msg("approval gate shut down")
}

// ExpireOrphaned marks persisted requests left PENDING by a previous process as
// EXPIRED. Call it once at startup, before the first RequestApproval.
func (g *ApprovalGate) ExpireOrphaned(ctx context.Context) (int64, error) {
	if g.repo == nil {
		return 0, nil
	}
	n, err := g.repo.ExpirePending(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("expiring orphaned approvals: %w", err)
	}
	if n > 0 {
		g.log.Warn().Int64("count", n).Msg("expired approvals orphaned by a previous process")
	}
	return n, nil
}

func (g *ApprovalGate) persist(ctx context.Context, req *domain.ApprovalRequest) {
	if g.repo == nil {
		return
	}
	if err := g.repo.Update(context.WithoutCancel(ctx), req); err != nil {
		g.log.Warn().Err(err).Str("approval_id", req.ID.String()).Msg("failed to persist approval status")
	}
}

// pruneLocked forgets settled requests older than the tombstone TTL.
func (g *ApprovalGate) pruneLocked(now time.Time) {
	for id, e := range g.entries {
		if e.req.Status != domain.ApprovalStatusPending && now.Sub(e.settledAt) > g.cfg.TombstoneTTL {
			delete(g.entries, id)
		}
	}
}
