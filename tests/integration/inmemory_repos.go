package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- In-Memory Approval Repo ---

type inMemoryApprovalRepo struct {
	mu        sync.RWMutex
	approvals map[uuid.UUID]domain.ApprovalRequest
}

func newInMemoryApprovalRepo() *inMemoryApprovalRepo {
	return &inMemoryApprovalRepo{approvals: make(map[uuid.UUID]domain.ApprovalRequest)}
}

func (r *inMemoryApprovalRepo) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.approvals[req.ID]; ok {
		return fmt.Errorf("approval %s already exists", req.ID)
	}
	r.approvals[req.ID] = *req
	return nil
}

func (r *inMemoryApprovalRepo) Update(ctx context.Context, req *domain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.approvals[req.ID]; !ok {
		return fmt.Errorf("approval %s not found", req.ID)
	}
	r.approvals[req.ID] = *req
	return nil
}

func (r *inMemoryApprovalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.approvals[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (r *inMemoryApprovalRepo) ExpirePending(ctx context.Context, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, req := range r.approvals {
		if req.Status == domain.ApprovalStatusPending {
			req.Status = domain.ApprovalStatusExpired
			req.ResolvedAt = &at
			r.approvals[id] = req
			n++
		}
	}
	return n, nil
}

// --- In-Memory Payment Repo ---

type inMemoryPaymentRepo struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]domain.Payment
}

func newInMemoryPaymentRepo() *inMemoryPaymentRepo {
	return &inMemoryPaymentRepo{payments: make(map[uuid.UUID]domain.Payment)}
}

func (r *inMemoryPaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[p.ID] = *p
	return nil
}

func (r *inMemoryPaymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; !ok {
		return fmt.Errorf("payment %s not found", p.ID)
	}
	r.payments[p.ID] = *p
	return nil
}

func (r *inMemoryPaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *inMemoryPaymentRepo) List(ctx context.Context, limit int) ([]*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- In-Memory Audit Repo ---

type inMemoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func (r *inMemoryAuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *log)
	return nil
}

func (r *inMemoryAuditRepo) count(action domain.AuditAction) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// --- Scripted Ledger ---

// scriptedLedger is a ports.Ledger whose balances and failures are set by the test.
type scriptedLedger struct {
	kind    domain.BackendKind
	address string
	initErr error

	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	transfers []domain.TransferRequest
	initCalls atomic.Int32
}

func newScriptedLedger(kind domain.BackendKind, address string) *scriptedLedger {
	return &scriptedLedger{
		kind:     kind,
		address:  address,
		balances: make(map[string]decimal.Decimal),
	}
}

func (l *scriptedLedger) withBalance(asset, amount string) *scriptedLedger {
	l.balances[asset] = decimal.RequireFromString(amount)
	return l
}

func (l *scriptedLedger) Kind() domain.BackendKind { return l.kind }

func (l *scriptedLedger) Network() string { return domain.DefaultNetworkID }

func (l *scriptedLedger) Capabilities() domain.Capabilities {
	return domain.Capabilities{Balances: true, Transfers: true, Gasless: l.kind == domain.BackendPrimary}
}

func (l *scriptedLedger) EnsureReady(ctx context.Context) error {
	l.initCalls.Add(1)
	return l.initErr
}

func (l *scriptedLedger) GetBalance(ctx context.Context, asset string) (*domain.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &domain.Balance{Asset: asset, Amount: l.balances[asset], AsOf: time.Now().UTC()}, nil
}

func (l *scriptedLedger) GetAddress(ctx context.Context) (string, error) {
	return l.address, nil
}

func (l *scriptedLedger) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balances[req.Asset]
	if balance.LessThan(req.Amount) {
		return nil, apperror.ErrWalletBackendUnavailable(fmt.Errorf("balance moved below %s", req.Amount))
	}
	l.balances[req.Asset] = balance.Sub(req.Amount)
	l.transfers = append(l.transfers, req)

	result := domain.NewTransferResult(req)
	result.Success = true
	result.TxHash = fmt.Sprintf("0x%064x", len(l.transfers))
	return result, nil
}

func (l *scriptedLedger) transferCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transfers)
}
