package handler

import (
	"context"

	"agent-payment-gateway/internal/adapter/http/dto"
	"agent-payment-gateway/internal/adapter/http/middleware"
	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/pkg/apperror"
	"agent-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ToolWalletReset names the gated wallet reset in approval requests.
const ToolWalletReset = "wallet_reset"

// ToolHandler lets workflows request sensitive actions that run only after a
// human approves them.
type ToolHandler struct {
	guard  ports.ToolGuard
	wallet ports.WalletService
}

// NewToolHandler creates a new ToolHandler.
func NewToolHandler(guard ports.ToolGuard, wallet ports.WalletService) *ToolHandler {
	return &ToolHandler{guard: guard, wallet: wallet}
}

// RequestWalletReset handles POST /api/v1/tools/wallet-reset. The reset runs
// once an operator approves; poll GET /api/v1/tools/:id for the outcome.
func (h *ToolHandler) RequestWalletReset(c *gin.Context) {
	var req dto.ToolRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}

	caller, _ := middleware.Caller(c)
	args := map[string]any{"requested_by": caller}
	if req.Reason != "" {
		args["reason"] = req.Reason
	}

	call := domain.ToolCall{Name: ToolWalletReset, Arguments: args}
	id, err := h.guard.Submit(c.Request.Context(), call, func(ctx context.Context) (string, error) {
		h.wallet.Reset(ctx, caller)
		return string(h.wallet.State().State), nil
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, domain.ToolOutcome{ApprovalID: id, Tool: call.Name})
}

// GetOutcome handles GET /api/v1/tools/:id.
func (h *ToolHandler) GetOutcome(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrApprovalNotFound())
		return
	}

	outcome, err := h.guard.Outcome(id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, outcome)
}
