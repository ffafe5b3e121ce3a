package dto

import (
	"time"

	"agent-payment-gateway/internal/core/domain"
)

// PaymentRequest is the request body for POST /api/v1/payments.
type PaymentRequest struct {
	ReferenceID string `json:"reference_id" binding:"omitempty,max=100,safe_id"`
	Destination string `json:"destination" binding:"required,evm_address"`
	Amount      string `json:"amount" binding:"required,decimal_amount"`
	Asset       string `json:"asset" binding:"required,asset_symbol"`
	Memo        string `json:"memo,omitempty" binding:"max=256"`
	Network     string `json:"network,omitempty" binding:"omitempty,max=32"`
	CallbackURL string `json:"callback_url,omitempty" binding:"omitempty,max=2048,safe_url"`
}

// DecisionRequest is the request body for POST /api/v1/approvals/:id/decision.
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required,max=32"`
	Reason   string `json:"reason,omitempty" binding:"max=512"`
}

// ToolRequest is the optional body for gated tool endpoints.
type ToolRequest struct {
	Reason string `json:"reason,omitempty" binding:"max=512"`
}

// PaymentResponse is the response body for payment endpoints.
type PaymentResponse struct {
	ID            string  `json:"id"`
	ReferenceID   string  `json:"reference_id,omitempty"`
	ApprovalID    *string `json:"approval_id,omitempty"`
	State         string  `json:"state"`
	Destination   string  `json:"destination"`
	Amount        string  `json:"amount"`
	Asset         string  `json:"asset"`
	Memo          string  `json:"memo,omitempty"`
	Network       string  `json:"network"`
	TxHash        string  `json:"tx_hash,omitempty"`
	FailureReason string  `json:"failure_reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// PaymentListResponse wraps a page of payments, newest first.
type PaymentListResponse struct {
	Payments []PaymentResponse `json:"payments"`
	Count    int               `json:"count"`
}

// ApprovalResponse is the response body for approval endpoints.
type ApprovalResponse struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	ResolvedAt  *string `json:"resolved_at,omitempty"`
	ResolvedBy  string  `json:"resolved_by,omitempty"`
}

// ApprovalListResponse wraps the pending approvals.
type ApprovalListResponse struct {
	Approvals []ApprovalResponse `json:"approvals"`
	Count     int                `json:"count"`
}

// WalletBalanceResponse is the response for the balance query.
type WalletBalanceResponse struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
	AsOf    string `json:"as_of"`
}

// WalletStatusResponse reports the wallet manager state after a reset.
type WalletStatusResponse struct {
	State   string `json:"state"`
	Backend string `json:"backend,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ToPaymentResponse converts domain.Payment to its DTO.
func ToPaymentResponse(p *domain.Payment) PaymentResponse {
	resp := PaymentResponse{
		ID:            p.ID.String(),
		ReferenceID:   p.ReferenceID,
		State:         string(p.State),
		Destination:   p.Request.Destination,
		Amount:        p.Request.Amount.String(),
		Asset:         p.Request.Asset,
		Memo:          p.Request.Memo,
		Network:       p.Request.Network,
		TxHash:        p.TxHash,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.Format(time.RFC3339),
	}
	if p.ApprovalID != nil {
		s := p.ApprovalID.String()
		resp.ApprovalID = &s
	}
	return resp
}

// ToApprovalResponse converts domain.ApprovalRequest to its DTO.
func ToApprovalResponse(r *domain.ApprovalRequest) ApprovalResponse {
	resp := ApprovalResponse{
		ID:          r.ID.String(),
		Description: r.Description,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		ResolvedBy:  r.ResolvedBy,
	}
	if r.ResolvedAt != nil {
		s := r.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &s
	}
	return resp
}
