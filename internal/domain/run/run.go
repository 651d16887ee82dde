// Package run defines the Run domain entity for orchestrated workflow executions.
package run

import "time"

// Status represents the current state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Run represents a single orchestrated execution of a workflow graph.
// Run state is mutated only by applying events; the event log is the
// sole source of truth and a run is always reconstructible from it.
type Run struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Workflow    string            `json:"workflow"`
	Status      Status            `json:"status"`
	TokensUsed  int64             `json:"tokens_used"`
	CostUSD     float64           `json:"cost_usd"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
	StepCount   int               `json:"step_count"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// CreateRequest holds the fields needed to create a new run.
type CreateRequest struct {
	Workflow string            `json:"workflow"`
	Context  map[string]string `json:"context,omitempty"` // initial execution state
}

// Result is the outcome copied into a run when graph execution finishes.
type Result struct {
	TokensUsed int64             `json:"tokens_used"`
	CostUSD    float64           `json:"cost_usd"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`
	StepCount  int               `json:"step_count"`
	Error      string            `json:"error,omitempty"`
}
