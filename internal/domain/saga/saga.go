// Package saga defines the Saga domain entity: an ordered sequence of
// side-effecting operations with defined compensations.
package saga

import (
	"encoding/json"
	"time"
)

// Status represents the saga state machine:
// pending → running → {completed | compensating};
// compensating → {compensated | compensation_failed}.
type Status string

const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusCompleted          Status = "completed"
	StatusCompensating       Status = "compensating"
	StatusCompensated        Status = "compensated"
	StatusCompensationFailed Status = "compensation_failed"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusCompensationFailed
}

// OperationType classifies a saga operation for compensation handler lookup.
type OperationType string

const (
	OpToolCall          OperationType = "tool_call"
	OpAPICall           OperationType = "api_call"
	OpDatabaseOperation OperationType = "database_operation"
)

// Operation describes a single side-effecting step of a saga.
type Operation struct {
	Type   OperationType   `json:"type"`
	ToolID string          `json:"tool_id,omitempty"` // required for tool_call
	Data   json.RawMessage `json:"data,omitempty"`
}

// CompletedOperation records a successfully executed operation together with
// its result, kept so the compensation sweep can undo it.
type CompletedOperation struct {
	Index       int             `json:"index"` // position in the operation list
	Operation   Operation       `json:"operation"`
	Result      json.RawMessage `json:"result,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Saga is an ordered operation list executed with compensation-on-failure
// semantics. Completed operations are compensated in strict reverse order.
type Saga struct {
	ID        string               `json:"id"`
	RunID     string               `json:"run_id"`
	Status    Status               `json:"status"`
	Ops       []Operation          `json:"operations"`
	Completed []CompletedOperation `json:"completed,omitempty"`
	Error     string               `json:"error,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StatusReport is the poll result returned by the saga manager.
type StatusReport struct {
	SagaID         string `json:"saga_id"`
	Status         Status `json:"status"`
	CompletedCount int    `json:"completed_count"`
	Error          string `json:"error,omitempty"`
}
