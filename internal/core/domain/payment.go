package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentState is a step of the payment state machine.
type PaymentState string

const (
	PaymentStateQuoted           PaymentState = "QUOTED"
	PaymentStateBalanceChecked   PaymentState = "BALANCE_CHECKED"
	PaymentStateAwaitingApproval PaymentState = "AWAITING_APPROVAL"
	PaymentStateApproved         PaymentState = "APPROVED"
	PaymentStateTransferring     PaymentState = "TRANSFERRING"
	PaymentStateSettled          PaymentState = "SETTLED"
	PaymentStateRejected         PaymentState = "REJECTED"
	PaymentStateCancelled        PaymentState = "CANCELLED"
	PaymentStateExpired          PaymentState = "EXPIRED"
	PaymentStateFailed           PaymentState = "FAILED"
)

// Payment tracks one run of the payment orchestrator.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	ApprovalID    *uuid.UUID      `json:"approval_id,omitempty"`
	Request       TransferRequest `json:"request"`
	State         PaymentState    `json:"state"`
	TxHash        string          `json:"tx_hash,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CallbackURL   string          `json:"callback_url,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsTerminal returns true if the payment reached a final state.
func (p *Payment) IsTerminal() bool {
	switch p.State {
	case PaymentStateSettled, PaymentStateCancelled, PaymentStateExpired, PaymentStateFailed:
		return true
	default:
		return false
	}
}

// CanTransfer returns true only after the approval was granted.
func (p *Payment) CanTransfer() bool {
	return p.State == PaymentStateApproved
}
