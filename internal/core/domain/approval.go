package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
	ApprovalStatusExpired  ApprovalStatus = "EXPIRED"
)

// ApprovalRequest asks a human to sign off on one sensitive action.
type ApprovalRequest struct {
	ID          uuid.UUID      `json:"id"`
	Description string         `json:"description"`
	Status      ApprovalStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
}

// IsTerminal returns true once the request can no longer change.
func (r *ApprovalRequest) IsTerminal() bool {
	return r.Status != ApprovalStatusPending
}

// Verdict is the human answer carried by a decision.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictRejected Verdict = "REJECTED"
)

// ParseVerdict accepts the approve/reject action vocabulary used by decision transports.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved", "request.approve":
		return VerdictApproved, nil
	case "reject", "rejected", "request.reject":
		return VerdictRejected, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

// Status returns the approval status this verdict resolves to.
func (v Verdict) Status() ApprovalStatus {
	if v == VerdictApproved {
		return ApprovalStatusApproved
	}
	return ApprovalStatusRejected
}

// Decision is delivered exactly once to the waiter of an approval request.
type Decision struct {
	RequestID  uuid.UUID `json:"request_id"`
	Verdict    Verdict   `json:"verdict"`
	Reason     string    `json:"reason,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Approved reports whether the decision allows the action.
func (d *Decision) Approved() bool {
	return d.Verdict == VerdictApproved
}
