package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequireApproval runs next only after a human approves call. A rejection is a
// normal outcome and is reported through ToolOutcome, not as an error.
func RequireApproval(
	ctx context.Context,
	gate ports.ApprovalGate,
	call domain.ToolCall,
	timeout time.Duration,
	next ports.ToolFunc,
) (*domain.ToolOutcome, error) {
	id, err := gate.RequestApproval(ctx, call.Describe())
	if err != nil {
		return nil, fmt.Errorf("requesting approval for %s: %w", call.Name, err)
	}
	return awaitTool(ctx, gate, id, call, timeout, next)
}

func awaitTool(
	ctx context.Context,
	gate ports.ApprovalGate,
	id uuid.UUID,
	call domain.ToolCall,
	timeout time.Duration,
	next ports.ToolFunc,
) (*domain.ToolOutcome, error) {
	decision, err := gate.AwaitDecision(ctx, id, timeout)
	if err != nil {
		return nil, fmt.Errorf("awaiting approval for %s: %w", call.Name, err)
	}

	outcome := &domain.ToolOutcome{ApprovalID: id, Tool: call.Name, Approved: decision.Approved(), Reason: decision.Reason}
	if !outcome.Approved {
		outcome.Done = true
		return outcome, nil
	}

	out, err := next(ctx)
	outcome.Done = true
	if err != nil {
		outcome.Error = err.Error()
		return outcome, fmt.Errorf("running %s: %w", call.Name, err)
	}
	outcome.Output = out
	return outcome, nil
}

// ToolGuardImpl implements ports.ToolGuard. Each submitted call waits for its
// decision in the background; callers poll Outcome by approval id.
type ToolGuardImpl struct {
	gate      ports.ApprovalGate
	audit     ports.AuditService
	timeout   time.Duration
	retention time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	outcomes map[uuid.UUID]*toolEntry
	closed   bool

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

type toolEntry struct {
	outcome domain.ToolOutcome
	doneAt  time.Time
}

// NewToolGuard creates a ToolGuardImpl. Finished outcomes are kept for retention.
func NewToolGuard(gate ports.ApprovalGate, audit ports.AuditService, timeout, retention time.Duration, log zerolog.Logger) *ToolGuardImpl {
	if retention <= 0 {
		retention = time.Hour
	}
	runCtx, stop := context.WithCancel(context.Background())
	return &ToolGuardImpl{
		gate:      gate,
		audit:     audit,
		timeout:   timeout,
		retention: retention,
		log:       log,
		outcomes:  make(map[uuid.UUID]*toolEntry),
		runCtx:    runCtx,
		stop:      stop,
	}
}

// Submit opens an approval request for call and returns its id. next runs in
// the background once the request is approved.
func (g *ToolGuardImpl) Submit(ctx context.Context, call domain.ToolCall, next ports.ToolFunc) (uuid.UUID, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return uuid.Nil, apperror.ErrApprovalShutDown()
	}

	id, err := g.gate.RequestApproval(ctx, call.Describe())
	if err != nil {
		return uuid.Nil, fmt.Errorf("requesting approval for %s: %w", call.Name, err)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return uuid.Nil, apperror.ErrApprovalShutDown()
	}
	g.pruneLocked(time.Now().UTC())
	g.outcomes[id] = &toolEntry{outcome: domain.ToolOutcome{ApprovalID: id, Tool: call.Name}}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		g.finish(id, call, next)
	}()

	g.log.Info().Str("tool", call.Name).Str("approval_id", id.String()).Msg("tool call awaiting approval")
	return id, nil
}

func (g *ToolGuardImpl) finish(id uuid.UUID, call domain.ToolCall, next ports.ToolFunc) {
	log := g.log.With().Str("tool", call.Name).Str("approval_id", id.String()).Logger()

	// Once approved the tool runs to completion even if the guard is closing.
	detached := func(ctx context.Context) (string, error) { return next(context.WithoutCancel(ctx)) }
	outcome, err := awaitTool(g.runCtx, g.gate, id, call, g.timeout, detached)
	if outcome == nil {
		outcome = &domain.ToolOutcome{ApprovalID: id, Tool: call.Name, Done: true, Error: err.Error()}
	}
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("gated tool call did not complete")
	case outcome.Approved:
		log.Info().Msg("gated tool call completed")
	default:
		log.Info().Str("reason", outcome.Reason).Msg("gated tool call rejected")
	}

	g.mu.Lock()
	g.outcomes[id] = &toolEntry{outcome: *outcome, doneAt: time.Now().UTC()}
	g.mu.Unlock()

	recordAudit(context.Background(), g.audit, newAuditEntry(domain.AuditActionToolCompleted, "tool", id.String(), "",
		map[string]string{"tool": call.Name, "approved": fmt.Sprint(outcome.Approved), "error": outcome.Error}))
}

// Outcome returns the current outcome of a submitted call.
func (g *ToolGuardImpl) Outcome(id uuid.UUID) (*domain.ToolOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.outcomes[id]
	if !ok {
		return nil, apperror.ErrApprovalNotFound()
	}
	outcome := entry.outcome
	return &outcome, nil
}

// Close stops waiting for pending decisions and waits for running tools.
func (g *ToolGuardImpl) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.stop()
	g.wg.Wait()
}

func (g *ToolGuardImpl) pruneLocked(now time.Time) {
	for id, entry := range g.outcomes {
		if entry.outcome.Done && now.Sub(entry.doneAt) > g.retention {
			delete(g.outcomes, id)
		}
	}
}
