package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ToolCall is a sensitive external action proposed by a workflow.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Describe renders the question shown to the approver.
func (c ToolCall) Describe() string {
	args, err := json.Marshal(c.Arguments)
	if err != nil || len(c.Arguments) == 0 {
		return fmt.Sprintf("Allow tool %q to run?", c.Name)
	}
	return fmt.Sprintf("Allow tool %q with arguments %s?", c.Name, args)
}

// ToolOutcome reports what happened to a gated tool call. Done stays false
// while the approval is pending or the tool is running.
type ToolOutcome struct {
	ApprovalID uuid.UUID `json:"approval_id"`
	Tool       string    `json:"tool"`
	Done       bool      `json:"done"`
	Approved   bool      `json:"approved"`
	Reason     string    `json:"reason,omitempty"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
}
