package handler

import (
	"time"

	"agent-payment-gateway/internal/adapter/http/dto"
	"agent-payment-gateway/internal/adapter/http/middleware"
	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/pkg/apperror"
	"agent-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ApprovalHandler exposes the approval gate to human operators.
type ApprovalHandler struct {
	gate ports.ApprovalGate
}

// NewApprovalHandler creates a new ApprovalHandler.
func NewApprovalHandler(gate ports.ApprovalGate) *ApprovalHandler {
	return &ApprovalHandler{gate: gate}
}

// ListPending handles GET /api/v1/approvals.
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	pending := h.gate.ListPending()

	items := make([]dto.ApprovalResponse, 0, len(pending))
	for i := range pending {
		items = append(items, dto.ToApprovalResponse(&pending[i]))
	}

	response.OK(c, dto.ApprovalListResponse{Approvals: items, Count: len(items)})
}

// GetApproval handles GET /api/v1/approvals/:id.
func (h *ApprovalHandler) GetApproval(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrApprovalNotFound())
		return
	}

	req, err := h.gate.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToApprovalResponse(req))
}

// Decide handles POST /api/v1/approvals/:id/decision.
// Malformed ids are reported as not found, like unknown ones.
func (h *ApprovalHandler) Decide(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrApprovalNotFound())
		return
	}

	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	verdict, err := domain.ParseVerdict(req.Decision)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	operator, _ := middleware.Operator(c)
	decision := domain.Decision{
		RequestID:  id,
		Verdict:    verdict,
		Reason:     req.Reason,
		ResolvedBy: operator,
		DecidedAt:  time.Now().UTC(),
	}
	if err := h.gate.Resolve(c.Request.Context(), id, decision); err != nil {
		response.Error(c, err)
		return
	}

	resolved, err := h.gate.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToApprovalResponse(resolved))
}
