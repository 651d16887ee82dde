package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiergate/tiergate/internal/adapter/otel"
	"github.com/tiergate/tiergate/internal/adapter/ws"
	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/domain/event"
	"github.com/tiergate/tiergate/internal/domain/saga"
	"github.com/tiergate/tiergate/internal/port/broadcast"
	"github.com/tiergate/tiergate/internal/port/eventstore"
	"github.com/tiergate/tiergate/internal/port/sagastore"
	"github.com/tiergate/tiergate/internal/port/toolrunner"
)

// CompensationHandler undoes one completed operation. Handlers must tolerate
// at-least-once invocation.
type CompensationHandler func(ctx context.Context, completed saga.CompletedOperation) error

// SagaHandle is returned by StartSaga. Execution is detached; the handle lets
// a caller await completion instead of polling.
type SagaHandle struct {
	SagaID string
	done   chan struct{}
}

// Wait blocks until the saga reaches a terminal state or the context expires.
func (h *SagaHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SagaService executes ordered side-effecting operations with
// compensation-on-failure semantics. Each saga runs as a detached background
// task; callers poll GetSagaStatus or await the returned handle.
type SagaService struct {
	sagas   sagastore.Store
	events  eventstore.Store
	runner  toolrunner.Runner
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	cfg     config.Saga

	mu           sync.RWMutex
	compensators map[string]CompensationHandler // keyed by tool id
}

// NewSagaService creates a SagaService with all dependencies.
func NewSagaService(sagas sagastore.Store, events eventstore.Store, runner toolrunner.Runner, hub broadcast.Broadcaster, cfg config.Saga) *SagaService {
	if hub == nil {
		hub = broadcast.Noop{}
	}
	return &SagaService{
		sagas:        sagas,
		events:       events,
		runner:       runner,
		hub:          hub,
		cfg:          cfg,
		compensators: make(map[string]CompensationHandler),
	}
}

// SetMetrics wires the metric instruments. Optional.
func (s *SagaService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// RegisterCompensator installs a tool-specific compensation handler. Tool-call
// operations without a registered handler are logged and skipped during the
// compensation sweep.
func (s *SagaService) RegisterCompensator(toolID string, h CompensationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensators[toolID] = h
}

// StartSaga validates and persists a new saga, schedules its execution in the
// background, and returns immediately. Two calls with identical operation
// lists produce two independent sagas.
func (s *SagaService) StartSaga(ctx context.Context, tenantID, runID string, ops []saga.Operation) (*SagaHandle, error) {
	if runID == "" {
		return nil, fmt.Errorf("validate saga: missing run id")
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("validate saga: no operations")
	}
	for i, op := range ops {
		switch op.Type {
		case saga.OpToolCall:
			if op.ToolID == "" {
				return nil, fmt.Errorf("validate saga: operation %d is a tool_call without tool_id", i)
			}
		case saga.OpAPICall, saga.OpDatabaseOperation:
		default:
			return nil, fmt.Errorf("validate saga: operation %d has unknown type %q", i, op.Type)
		}
	}

	now := time.Now().UTC()
	sg := &saga.Saga{
		ID:        uuid.NewString(),
		RunID:     runID,
		Status:    saga.StatusPending,
		Ops:       ops,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sagas.Put(ctx, sg); err != nil {
		return nil, fmt.Errorf("store saga: %w", err)
	}

	s.appendSagaEvent(ctx, tenantID, runID, event.TypeSagaStarted, event.SagaPayload{
		SagaID:         sg.ID,
		OperationCount: len(ops),
	})

	slog.Info("saga started", "saga_id", sg.ID, "run_id", runID, "operations", len(ops))

	handle := &SagaHandle{SagaID: sg.ID, done: make(chan struct{})}
	// Detached execution: the caller never blocks on completion.
	go func() {
		defer close(handle.done)
		s.execute(context.Background(), tenantID, sg)
	}()
	return handle, nil
}

// GetSagaStatus returns the saga's current state for polling.
func (s *SagaService) GetSagaStatus(ctx context.Context, sagaID string) (*saga.StatusReport, error) {
	sg, err := s.sagas.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	return &saga.StatusReport{
		SagaID:         sg.ID,
		Status:         sg.Status,
		CompletedCount: len(sg.Completed),
		Error:          sg.Error,
	}, nil
}

// ListSagas returns all sagas issued by the given run.
func (s *SagaService) ListSagas(ctx context.Context, runID string) ([]saga.Saga, error) {
	return s.sagas.ListByRun(ctx, runID)
}

// execute runs operations strictly in order; the first failure triggers the
// compensation sweep over everything already completed.
func (s *SagaService) execute(ctx context.Context, tenantID string, sg *saga.Saga) {
	s.transition(ctx, sg, saga.StatusRunning, "")

	for i, op := range sg.Ops {
		opCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.OperationTimeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, s.cfg.OperationTimeout)
		}
		res, err := s.runner.Execute(opCtx, op)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			slog.Error("saga operation failed", "saga_id", sg.ID, "index", i, "type", op.Type, "error", err)
			if op.Type == saga.OpToolCall {
				s.appendSagaEvent(ctx, tenantID, sg.RunID, event.TypeToolCallFailed, event.ToolCallPayload{
					ToolID: op.ToolID,
					SagaID: sg.ID,
					Error:  err.Error(),
				})
			}
			s.compensate(ctx, tenantID, sg, err)
			return
		}

		completed := saga.CompletedOperation{
			Index:       i,
			Operation:   op,
			CompletedAt: time.Now().UTC(),
		}
		if res != nil {
			completed.Result = res.Output
		}
		sg.Completed = append(sg.Completed, completed)
		if err := s.sagas.Put(ctx, touch(sg)); err != nil {
			slog.Error("persist saga progress", "saga_id", sg.ID, "error", err)
		}

		if op.Type == saga.OpToolCall {
			payload := event.ToolCallPayload{ToolID: op.ToolID, SagaID: sg.ID}
			if res != nil {
				payload.TokensUsed = res.TokensUsed
				payload.CostUSD = res.CostUSD
			}
			s.appendSagaEvent(ctx, tenantID, sg.RunID, event.TypeToolCallSucceeded, payload)
		}
	}

	s.transition(ctx, sg, saga.StatusCompleted, "")
	s.appendSagaEvent(ctx, tenantID, sg.RunID, event.TypeSagaCompleted, event.SagaPayload{SagaID: sg.ID})
	slog.Info("saga completed", "saga_id", sg.ID, "operations", len(sg.Completed))
}

// compensate undoes completed operations in strict reverse order. Individual
// handler failures are logged and skipped; the saga ends compensated once the
// sweep finishes. Only a panic inside the sweep yields compensation_failed.
func (s *SagaService) compensate(ctx context.Context, tenantID string, sg *saga.Saga, cause error) {
	s.transition(ctx, sg, saga.StatusCompensating, cause.Error())
	s.appendSagaEvent(ctx, tenantID, sg.RunID, event.TypeSagaCompensating, event.SagaPayload{
		SagaID: sg.ID,
		Error:  cause.Error(),
	})
	if s.metrics != nil {
		s.metrics.SagaCompensations.Add(ctx, 1)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("compensation sweep panicked", "saga_id", sg.ID, "panic", r)
			s.transition(ctx, sg, saga.StatusCompensationFailed, fmt.Sprintf("compensation sweep: %v", r))
		}
	}()

	for i := len(sg.Completed) - 1; i >= 0; i-- {
		completed := sg.Completed[i]
		handler := s.handlerFor(completed.Operation)
		if handler == nil {
			slog.Warn("no compensation handler, skipping",
				"saga_id", sg.ID, "index", completed.Index, "type", completed.Operation.Type, "tool_id", completed.Operation.ToolID)
			continue
		}
		if err := handler(ctx, completed); err != nil {
			slog.Error("compensation handler failed, continuing sweep",
				"saga_id", sg.ID, "index", completed.Index, "error", err)
		}
	}

	s.transition(ctx, sg, saga.StatusCompensated, cause.Error())
	s.appendSagaEvent(ctx, tenantID, sg.RunID, event.TypeSagaCompensated, event.SagaPayload{
		SagaID: sg.ID,
		Error:  cause.Error(),
	})
	slog.Info("saga compensated", "saga_id", sg.ID, "cause", cause)
}

// handlerFor resolves the compensation handler for an operation: tool-id
// specific for tool calls, the runner's generic compensation for API and
// database operations.
func (s *SagaService) handlerFor(op saga.Operation) CompensationHandler {
	switch op.Type {
	case saga.OpToolCall:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.compensators[op.ToolID]
	case saga.OpAPICall, saga.OpDatabaseOperation:
		return s.runner.Compensate
	default:
		return nil
	}
}

func (s *SagaService) transition(ctx context.Context, sg *saga.Saga, status saga.Status, errMsg string) {
	sg.Status = status
	sg.Error = errMsg
	if err := s.sagas.Put(ctx, touch(sg)); err != nil {
		slog.Error("persist saga status", "saga_id", sg.ID, "status", status, "error", err)
	}
	s.hub.BroadcastEvent(ctx, ws.EventSagaStatus, ws.SagaStatusEvent{
		SagaID:         sg.ID,
		RunID:          sg.RunID,
		Status:         string(status),
		CompletedCount: len(sg.Completed),
	})
}

func (s *SagaService) appendSagaEvent(ctx context.Context, tenantID, runID string, t event.Type, payload any) {
	ev, err := newEvent(runID, tenantID, t, payload)
	if err != nil {
		slog.Error("build saga event", "type", t, "error", err)
		return
	}
	if err := s.events.Append(ctx, ev); err != nil {
		slog.Error("append saga event", "run_id", runID, "type", t, "error", err)
	}
}

func touch(sg *saga.Saga) *saga.Saga {
	sg.UpdatedAt = time.Now().UTC()
	return sg
}
