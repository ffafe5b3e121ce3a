package handler

import (
	"strings"
	"time"

	"agent-payment-gateway/internal/adapter/http/dto"
	"agent-payment-gateway/internal/adapter/http/middleware"
	"agent-payment-gateway/internal/core/domain"
	"agent-payment-gateway/internal/core/ports"
	"agent-payment-gateway/pkg/apperror"
	"agent-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet-related endpoints.
type WalletHandler struct {
	wallet ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(wallet ports.WalletService) *WalletHandler {
	return &WalletHandler{wallet: wallet}
}

// GetInfo handles GET /api/v1/wallet.
func (h *WalletHandler) GetInfo(c *gin.Context) {
	info, err := h.wallet.Info(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, info)
}

// GetBalance handles GET /api/v1/wallet/balance?asset=USDC.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	symbol := c.DefaultQuery("asset", domain.AssetUSDC.Symbol)
	asset, ok := domain.LookupAsset(symbol)
	if !ok {
		response.Error(c, apperror.Validation("unsupported asset: "+strings.TrimSpace(symbol)))
		return
	}

	balance, err := h.wallet.GetBalance(c.Request.Context(), asset.Symbol)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.WalletBalanceResponse{
		Asset:   balance.Asset,
		Balance: balance.Amount.String(),
		AsOf:    balance.AsOf.UTC().Format(time.RFC3339),
	})
}

// Reset handles POST /api/v1/wallet/reset.
func (h *WalletHandler) Reset(c *gin.Context) {
	operator, _ := middleware.Operator(c)
	h.wallet.Reset(c.Request.Context(), operator)

	status := h.wallet.State()
	response.OK(c, dto.WalletStatusResponse{
		State:   string(status.State),
		Backend: string(status.Backend),
		Reason:  status.Reason,
	})
}
