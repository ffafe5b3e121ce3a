package handler

import (
	"strconv"
	"strings"

	"agent-payment-gateway/internal/adapter/http/dto"
	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/pkg/apperror"
	"agent-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HeaderIdempotencyKey supplies the reference id when the body omits it.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// PaymentHandler handles payment-related endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// SubmitPayment handles POST /api/v1/payments. The payment runs in the
// background; the response carries its QUOTED snapshot.
func (h *PaymentHandler) SubmitPayment(c *gin.Context) {
	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	referenceID := req.ReferenceID
	if referenceID == "" {
		referenceID = strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if referenceID != "" && (len(referenceID) > 100 || !dto.IsSafeID(referenceID)) {
			response.Error(c, apperror.Validation("invalid Idempotency-Key header"))
			return
		}
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		response.Error(c, apperror.Validation("amount must be a decimal number"))
		return
	}

	payment, err := h.paymentSvc.SubmitPayment(c.Request.Context(), ports.SubmitPaymentRequest{
		ReferenceID: referenceID,
		Transfer: domain.TransferRequest{
			Destination: req.Destination,
			Amount:      amount,
			Asset:       req.Asset,
			Memo:        req.Memo,
			Network:     req.Network,
		},
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.ToPaymentResponse(payment))
}

// GetPayment handles GET /api/v1/payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrPaymentNotFound())
		return
	}

	payment, err := h.paymentSvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToPaymentResponse(payment))
}

// ListPayments handles GET /api/v1/payments?limit=N.
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			response.Error(c, apperror.Validation("limit must be between 1 and "+strconv.Itoa(maxListLimit)))
			return
		}
		limit = n
	}

	payments, err := h.paymentSvc.ListPayments(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PaymentResponse, 0, len(payments))
	for _, p := range payments {
		items = append(items, dto.ToPaymentResponse(p))
	}
	response.OK(c, dto.PaymentListResponse{Payments: items, Count: len(items)})
}
