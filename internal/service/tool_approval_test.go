package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports/mocks"
	"agent-payment-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRequireApproval_Approved(t *testing.T) {
	ctrl := gomock.NewController(t)
	gate := mocks.NewMockApprovalGate(ctrl)
	id := uuid.New()

	gate.EXPECT().RequestApproval(gomock.Any(), `Allow tool "search" to run?`).Return(id, nil)
	gate.EXPECT().AwaitDecision(gomock.Any(), id, time.Minute).
		Return(&domain.Decision{RequestID: id, Verdict: domain.VerdictApproved}, nil)

	ran := 0
	out, err := RequireApproval(context.Background(), gate, domain.ToolCall{Name: "search"}, time.Minute,
		func(context.Context) (string, error) {
			ran++
			return "3 results", nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.True(t, out.Approved)
	assert.Equal(t, id, out.ApprovalID)
	assert.Equal(t, "3 results", out.Output)
}

func TestRequireApproval_RejectedSkipsTool(t *testing.T) {
	ctrl := gomock.NewController(t)
	gate := mocks.NewMockApprovalGate(ctrl)
	id := uuid.New()

	gate.EXPECT().RequestApproval(gomock.Any(), gomock.Any()).Return(id, nil)
	gate.EXPECT().AwaitDecision(gomock.Any(), id, gomock.Any()).
		Return(&domain.Decision{Verdict: domain.VerdictRejected, Reason: "too expensive"}, nil)

	out, err := RequireApproval(context.Background(), gate, domain.ToolCall{Name: "book_hotel"}, 0,
		func(context.Context) (string, error) {
			t.Fatal("tool must not run when rejected")
			return "", nil
		})
	require.NoError(t, err)
	assert.False(t, out.Approved)
	assert.Equal(t, "too expensive", out.Reason)
	assert.True(t, out.Done)
}

func TestRequireApproval_GateErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	gate := mocks.NewMockApprovalGate(ctrl)
	id := uuid.New()

	gate.EXPECT().RequestApproval(gomock.Any(), gomock.Any()).Return(id, nil)
	gate.EXPECT().AwaitDecision(gomock.Any(), id, gomock.Any()).Return(nil, apperror.ErrApprovalTimedOut())

	_, err := RequireApproval(context.Background(), gate, domain.ToolCall{Name: "x"}, time.Millisecond,
		func(context.Context) (string, error) { return "", nil })
	assertAppError(t, err, apperror.CodeApprovalTimedOut)
}

func TestRequireApproval_WithRealGate(t *testing.T) {
	g := newTestGate(time.Minute)
	ctx := context.Background()

	done := make(chan *domain.ToolOutcome, 1)
	go func() {
		out, err := RequireApproval(ctx, g, domain.ToolCall{Name: "send_email"}, 0,
			func(context.Context) (string, error) { return "", errors.New("smtp down") })
		assert.Error(t, err)
		done <- out
	}()

	var id uuid.UUID
	require.Eventually(t, func() bool {
		pending := g.ListPending()
		if len(pending) == 1 {
			id = pending[0].ID
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	require.NoError(t, g.Resolve(ctx, id, approve("op")))

	select {
	case out := <-done:
		assert.True(t, out.Approved)
	case <-time.After(2 * time.Second):
		t.Fatal("tool guard did not return")
	}
}

func waitForPending(t *testing.T, g *ApprovalGate) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	require.Eventually(t, func() bool {
		pending := g.ListPending()
		if len(pending) == 1 {
			id = pending[0].ID
			return true
		}
		return false
	}, time.Second, time.Millisecond)
	return id
}

func TestToolGuard_RunsAfterApproval(t *testing.T) {
	g := newTestGate(time.Minute)
	guard := NewToolGuard(g, nopAudit{}, 0, time.Hour, newTestLogger())
	t.Cleanup(guard.Close)
	ctx := context.Background()

	var ran atomic.Int32
	id, err := guard.Submit(ctx, domain.ToolCall{Name: "wallet_reset"}, func(context.Context) (string, error) {
		ran.Add(1)
		return "UNINITIALIZED", nil
	})
	require.NoError(t, err)
	assert.Equal(t, id, waitForPending(t, g))

	pending, err := guard.Outcome(id)
	require.NoError(t, err)
	assert.False(t, pending.Done)
	assert.Equal(t, "wallet_reset", pending.Tool)

	require.NoError(t, g.Resolve(ctx, id, approve("op")))

	require.Eventually(t, func() bool {
		out, err := guard.Outcome(id)
		return err == nil && out.Done
	}, 2*time.Second, time.Millisecond)

	out, err := guard.Outcome(id)
	require.NoError(t, err)
	assert.True(t, out.Approved)
	assert.Equal(t, "UNINITIALIZED", out.Output)
	assert.Equal(t, int32(1), ran.Load())
}

func TestToolGuard_RejectedNeverRuns(t *testing.T) {
	g := newTestGate(time.Minute)
	guard := NewToolGuard(g, nopAudit{}, 0, time.Hour, newTestLogger())
	t.Cleanup(guard.Close)
	ctx := context.Background()

	id, err := guard.Submit(ctx, domain.ToolCall{Name: "wallet_reset"}, func(context.Context) (string, error) {
		t.Error("tool must not run when rejected")
		return "", nil
	})
	require.NoError(t, err)
	waitForPending(t, g)
	require.NoError(t, g.Resolve(ctx, id, reject("op")))

	require.Eventually(t, func() bool {
		out, err := guard.Outcome(id)
		return err == nil && out.Done
	}, 2*time.Second, time.Millisecond)

	out, err := guard.Outcome(id)
	require.NoError(t, err)
	assert.False(t, out.Approved)
}

func TestToolGuard_CloseEndsPendingCall(t *testing.T) {
	g := newTestGate(time.Minute)
	guard := NewToolGuard(g, nopAudit{}, 0, time.Hour, newTestLogger())
	ctx := context.Background()

	id, err := guard.Submit(ctx, domain.ToolCall{Name: "wallet_reset"}, func(context.Context) (string, error) {
		t.Error("tool must not run after close")
		return "", nil
	})
	require.NoError(t, err)

	guard.Close()

	out, err := guard.Outcome(id)
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.False(t, out.Approved)
	assert.NotEmpty(t, out.Error)

	_, err = guard.Submit(ctx, domain.ToolCall{Name: "wallet_reset"}, nil)
	assertAppError(t, err, apperror.CodeApprovalShutDown)

	_, err = guard.Outcome(uuid.New())
	assertAppError(t, err, apperror.CodeApprovalNotFound)
}
