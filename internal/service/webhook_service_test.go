package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"agent-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	url     string
	headers http.Header
	body    []byte
}

// fakeHTTPClient replays a scripted list of responses and records requests.
type fakeHTTPClient struct {
	mu       sync.Mutex
	statuses []int
	errs     []error
	calls    []recordedCall
	done     chan struct{}
	expect   int
}

func newFakeHTTPClient(expect int, statuses []int, errs []error) *fakeHTTPClient {
	return &fakeHTTPClient{statuses: statuses, errs: errs, done: make(chan struct{}), expect: expect}
}

func (c *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)

	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.calls)
	c.calls = append(c.calls, recordedCall{url: req.URL.String(), headers: req.Header.Clone(), body: body})
	if len(c.calls) == c.expect {
		close(c.done)
	}

	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	status := http.StatusOK
	if i < len(c.statuses) {
		status = c.statuses[i]
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (c *fakeHTTPClient) wait(t *testing.T) []recordedCall {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback deliveries did not happen in time")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedCall(nil), c.calls...)
}

func settledPayment() *domain.Payment {
	approvalID := uuid.New()
	return &domain.Payment{
		ID:          uuid.New(),
		ReferenceID: "order-17",
		ApprovalID:  &approvalID,
		Request: domain.TransferRequest{
			Destination: "0x1111111111111111111111111111111111111111",
			Amount:      decimal.RequireFromString("12.5"),
			Asset:       "USDC",
			Network:     "base-sepolia",
		},
		State:  domain.PaymentStateSettled,
		TxHash: "0xabc",
	}
}

func TestWebhookService_Notify_SignsAndDelivers(t *testing.T) {
	client := newFakeHTTPClient(1, nil, nil)
	sig := NewHMACSignatureService()
	svc := NewWebhookService(sig, "cb-secret", client, []time.Duration{}, newTestLogger())
	payment := settledPayment()

	err := svc.Notify(context.Background(), payment, "https://agent.example.com/callback")
	require.NoError(t, err)

	calls := client.wait(t)
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, "https://agent.example.com/callback", call.url)
	assert.Equal(t, "application/json", call.headers.Get("Content-Type"))

	ts, err := strconv.ParseInt(call.headers.Get(HeaderCallbackTimestamp), 10, 64)
	require.NoError(t, err)
	assert.True(t, sig.Verify("cb-secret", sig.CanonicalPayload(ts, call.body), call.headers.Get(HeaderCallbackSignature)))

	var payload CallbackPayload
	require.NoError(t, json.Unmarshal(call.body, &payload))
	assert.Equal(t, EventPaymentUpdate, payload.EventType)
	assert.Equal(t, payment.ID.String(), payload.Data.PaymentID)
	assert.Equal(t, payment.ApprovalID.String(), payload.Data.ApprovalID)
	assert.Equal(t, "SETTLED", payload.Data.State)
	assert.Equal(t, "12.5", payload.Data.Amount)
	assert.Equal(t, "0xabc", payload.Data.TxHash)
}

func TestWebhookService_Notify_RetriesUntilSuccess(t *testing.T) {
	client := newFakeHTTPClient(3,
		[]int{0, http.StatusInternalServerError, http.StatusNoContent},
		[]error{errors.New("connection refused")},
	)
	svc := NewWebhookService(NewHMACSignatureService(), "s", client,
		[]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, newTestLogger())

	require.NoError(t, svc.Notify(context.Background(), settledPayment(), "https://agent.example.com/cb"))

	calls := client.wait(t)
	assert.Len(t, calls, 3)

	// Success on the third attempt stops the schedule.
	time.Sleep(20 * time.Millisecond)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.calls, 3)
}

func TestWebhookService_Notify_GivesUpAfterSchedule(t *testing.T) {
	client := newFakeHTTPClient(3, []int{500, 500, 500, 500}, nil)
	svc := NewWebhookService(NewHMACSignatureService(), "s", client,
		[]time.Duration{time.Millisecond, time.Millisecond}, newTestLogger())

	require.NoError(t, svc.Notify(context.Background(), settledPayment(), "https://agent.example.com/cb"))

	calls := client.wait(t)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, calls, 3)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.calls, 3)
}

func TestWebhookService_Notify_NoCallbackURL(t *testing.T) {
	client := newFakeHTTPClient(1, nil, nil)
	svc := NewWebhookService(NewHMACSignatureService(), "s", client, nil, newTestLogger())

	require.NoError(t, svc.Notify(context.Background(), settledPayment(), ""))

	time.Sleep(10 * time.Millisecond)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.calls)
}
