// Package tools implements the tool-runner port against an external HTTP
// tool-execution service. Retry and timeout policy live here, outside the core.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tiergate/tiergate/internal/domain/saga"
	"github.com/tiergate/tiergate/internal/port/toolrunner"
	"github.com/tiergate/tiergate/internal/resilience"
)

// HTTPRunner executes saga operations by POSTing them to a tool-execution
// service. It implements toolrunner.Runner.
type HTTPRunner struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewHTTPRunner creates a runner for the given tool-execution base URL.
func NewHTTPRunner(baseURL string, timeout time.Duration) *HTTPRunner {
	return &HTTPRunner{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker wraps all outbound calls in a circuit breaker.
func (r *HTTPRunner) SetBreaker(b *resilience.Breaker) { r.breaker = b }

type executeRequest struct {
	Type   saga.OperationType `json:"type"`
	ToolID string             `json:"tool_id,omitempty"`
	Data   json.RawMessage    `json:"data,omitempty"`
}

type compensateRequest struct {
	Index     int             `json:"index"`
	Operation executeRequest  `json:"operation"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// Execute performs the operation against POST {base}/execute.
func (r *HTTPRunner) Execute(ctx context.Context, op saga.Operation) (*toolrunner.Result, error) {
	body, err := r.post(ctx, "/execute", executeRequest{
		Type:   op.Type,
		ToolID: op.ToolID,
		Data:   op.Data,
	})
	if err != nil {
		return nil, err
	}

	var res toolrunner.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode execute response: %w", err)
	}
	return &res, nil
}

// Compensate undoes a completed operation against POST {base}/compensate.
// The service must treat repeated compensation of the same operation as a no-op.
func (r *HTTPRunner) Compensate(ctx context.Context, completed saga.CompletedOperation) error {
	_, err := r.post(ctx, "/compensate", compensateRequest{
		Index: completed.Index,
		Operation: executeRequest{
			Type:   completed.Operation.Type,
			ToolID: completed.Operation.ToolID,
			Data:   completed.Operation.Data,
		},
		Result: completed.Result,
	})
	return err
}

func (r *HTTPRunner) post(ctx context.Context, path string, payload any) ([]byte, error) {
	do := func() ([]byte, error) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tool service request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("tool service returned %d: %s", resp.StatusCode, string(body))
		}
		return body, nil
	}

	if r.breaker == nil {
		return do()
	}

	var body []byte
	err := r.breaker.Execute(func() error {
		var innerErr error
		body, innerErr = do()
		return innerErr
	})
	return body, err
}
