// Package toolrunner defines the boundary to the tool-execution layer, the
// external collaborator that performs concrete side effects.
package toolrunner

import (
	"context"
	"encoding/json"

	"github.com/tiergate/tiergate/internal/domain/saga"
)

// Result reports the outcome of one executed operation.
type Result struct {
	Output     json.RawMessage `json:"output,omitempty"`
	TokensUsed int64           `json:"tokens_used,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	LatencyMS  int64           `json:"latency_ms,omitempty"`
}

// Runner executes saga operations and their compensations. Retry and timeout
// policy live behind this boundary, not in the core.
type Runner interface {
	// Execute performs the operation and returns its result, or an error on
	// operation failure (which triggers saga compensation).
	Execute(ctx context.Context, op saga.Operation) (*Result, error)

	// Compensate undoes a previously completed operation. Implementations
	// must tolerate at-least-once invocation.
	Compensate(ctx context.Context, completed saga.CompletedOperation) error
}
