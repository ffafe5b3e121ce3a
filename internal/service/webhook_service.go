package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// DefaultCallbackRetryIntervals are the pauses between callback delivery attempts.
var DefaultCallbackRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

const (
	EventPaymentUpdate = "PAYMENT_UPDATE"

	HeaderCallbackSignature = "X-Callback-Signature"
	HeaderCallbackTimestamp = "X-Callback-Timestamp"
)

// CallbackPayload is the JSON body posted to a payment's callback URL.
type CallbackPayload struct {
	EventType string              `json:"event_type"`
	Data      CallbackPayloadData `json:"data"`
}

// CallbackPayloadData describes the terminal state of a payment.
type CallbackPayloadData struct {
	PaymentID   string `json:"payment_id"`
	ReferenceID string `json:"reference_id,omitempty"`
	ApprovalID  string `json:"approval_id,omitempty"`
	State       string `json:"state"`
	TxHash      string `json:"tx_hash,omitempty"`
	Amount      string `json:"amount"`
	Asset       string `json:"asset"`
	Destination string `json:"destination"`
	Network     string `json:"network"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// webhookService implements ports.ResultNotifier.
type webhookService struct {
	sigSvc     ports.SignatureService
	secret     string
	httpClient HTTPClient
	retries    []time.Duration
	log        zerolog.Logger
}

// NewWebhookService creates a callback notifier. Bodies are signed with secret.
func NewWebhookService(sigSvc ports.SignatureService, secret string, httpClient HTTPClient, retries []time.Duration, log zerolog.Logger) ports.ResultNotifier {
	if retries == nil {
		retries = DefaultCallbackRetryIntervals
	}
	return &webhookService{
		sigSvc:     sigSvc,
		secret:     secret,
		httpClient: httpClient,
		retries:    retries,
		log:        log,
	}
}

// Notify posts the payment outcome to callbackURL asynchronously with retries.
func (s *webhookService) Notify(ctx context.Context, payment *domain.Payment, callbackURL string) error {
	if callbackURL == "" {
		return nil
	}

	data := CallbackPayloadData{
		PaymentID:   payment.ID.String(),
		ReferenceID: payment.ReferenceID,
		State:       string(payment.State),
		TxHash:      payment.TxHash,
		Amount:      payment.Request.Amount.String(),
		Asset:       payment.Request.Asset,
		Destination: payment.Request.Destination,
		Network:     payment.Request.Network,
		Reason:      payment.FailureReason,
		Timestamp:   time.Now().Unix(),
	}
	if payment.ApprovalID != nil {
		data.ApprovalID = payment.ApprovalID.String()
	}

	body, err := json.Marshal(CallbackPayload{EventType: EventPaymentUpdate, Data: data})
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	go s.deliverWithRetries(context.WithoutCancel(ctx), callbackURL, body, data.PaymentID)
	return nil
}

// deliverWithRetries posts body until a 2xx answer or the retry schedule runs out.
func (s *webhookService) deliverWithRetries(ctx context.Context, url string, body []byte, paymentID string) {
	for attempt := 0; attempt <= len(s.retries); attempt++ {
		if attempt > 0 {
			time.Sleep(s.retries[attempt-1])
		}

		ts := time.Now().Unix()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			s.log.Error().Err(err).Str("payment_id", paymentID).Msg("callback: invalid request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderCallbackTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderCallbackSignature, s.sigSvc.Sign(s.secret, s.sigSvc.CanonicalPayload(ts, body)))

		resp, err := s.httpClient.Do(req)
		if err != nil {
			s.log.Warn().Err(err).Str("payment_id", paymentID).Int("attempt", attempt+1).Msg("callback: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.log.Info().Str("payment_id", paymentID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("callback: delivered")
			return
		}

		s.log.Warn().Str("payment_id", paymentID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("callback: non-2xx response, retrying")
	}

	s.log.Error().Str("payment_id", paymentID).Msg("callback: all retry attempts exhausted")
}
