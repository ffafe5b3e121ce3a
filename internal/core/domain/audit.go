package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionApprovalRequested AuditAction = "APPROVAL_REQUESTED"
	AuditActionApprovalResolved  AuditAction = "APPROVAL_RESOLVED"
	AuditActionApprovalExpired   AuditAction = "APPROVAL_EXPIRED"
	AuditActionPaymentRejected   AuditAction = "PAYMENT_REJECTED"
	AuditActionTransferSubmitted AuditAction = "TRANSFER_SUBMITTED"
	AuditActionTransferSettled   AuditAction = "TRANSFER_SETTLED"
	AuditActionTransferFailed    AuditAction = "TRANSFER_FAILED"
	AuditActionWalletReady       AuditAction = "WALLET_READY"
	AuditActionWalletReset       AuditAction = "WALLET_RESET"
	AuditActionToolCompleted     AuditAction = "TOOL_COMPLETED"
	AuditActionAccessDenied      AuditAction = "ACCESS_DENIED"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Actor        string      `json:"actor,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time   `json:"created_at"`
}
