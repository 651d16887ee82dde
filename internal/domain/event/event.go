// Package event defines the RunEvent domain entity for event sourcing.
//
// Events are append-only: once stored they are never mutated or removed,
// and the per-run event log is the sole source of truth for run state.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of run event. The vocabulary is closed; adding a
// new type must never change how existing types fold into run state.
type Type string

const (
	TypeRunRequested Type = "run_requested"
	TypeRunStarted   Type = "run_started"
	TypeRunCompleted Type = "run_completed"
	TypeRunFailed    Type = "run_failed"
	TypeRunCancelled Type = "run_cancelled"

	TypeStepCompleted     Type = "step_completed"
	TypeToolCallSucceeded Type = "tool_call_succeeded"
	TypeToolCallFailed    Type = "tool_call_failed"

	TypeSagaStarted      Type = "saga_started"
	TypeSagaCompleted    Type = "saga_completed"
	TypeSagaCompensating Type = "saga_compensating"
	TypeSagaCompensated  Type = "saga_compensated"
)

// RunEvent represents a single immutable event in a run's history.
type RunEvent struct {
	ID        string          `json:"event_id"`
	RunID     string          `json:"run_id"`
	TenantID  string          `json:"tenant_id,omitempty"`
	Type      Type            `json:"event_type"`
	Payload   json.RawMessage `json:"data,omitempty"`
	Version   int             `json:"version"` // per-run sequence, starts at 1
	CreatedAt time.Time       `json:"timestamp"`
}

// RequestedPayload is the payload of a run_requested event.
type RequestedPayload struct {
	Workflow string            `json:"workflow"`
	Context  map[string]string `json:"context,omitempty"`
}

// StepPayload is the payload of a step_completed event.
type StepPayload struct {
	Node       string            `json:"node"`
	TokensUsed int64             `json:"tokens_used,omitempty"`
	CostUSD    float64           `json:"cost_usd,omitempty"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`
}

// ToolCallPayload is the payload of tool_call_succeeded and tool_call_failed events.
type ToolCallPayload struct {
	ToolID     string  `json:"tool_id"`
	SagaID     string  `json:"saga_id,omitempty"`
	TokensUsed int64   `json:"tokens_used,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// CompletedPayload is the payload of a run_completed event. Replay copies
// these totals into the reconstructed run verbatim.
type CompletedPayload struct {
	TokensUsed int64             `json:"tokens_used"`
	CostUSD    float64           `json:"cost_usd"`
	StepCount  int               `json:"step_count"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`
}

// FailedPayload is the payload of a run_failed event.
type FailedPayload struct {
	Error string `json:"error"`
}

// SagaPayload is the payload of the saga_* events.
type SagaPayload struct {
	SagaID         string `json:"saga_id"`
	OperationCount int    `json:"operation_count,omitempty"`
	Error          string `json:"error,omitempty"`
}
