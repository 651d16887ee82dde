// Package service implements the use-case layer: run orchestration, saga
// execution and graph walking on top of the store and messaging ports.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiergate/tiergate/internal/adapter/otel"
	"github.com/tiergate/tiergate/internal/adapter/ws"
	"github.com/tiergate/tiergate/internal/domain"
	"github.com/tiergate/tiergate/internal/domain/event"
	"github.com/tiergate/tiergate/internal/domain/run"
	"github.com/tiergate/tiergate/internal/domain/workflow"
	"github.com/tiergate/tiergate/internal/port/broadcast"
	"github.com/tiergate/tiergate/internal/port/eventstore"
	"github.com/tiergate/tiergate/internal/port/messagequeue"
	"github.com/tiergate/tiergate/internal/port/runstore"
)

// OrchestratorService owns the tenant-scoped run registry and is the sole
// writer of run status. Every lifecycle transition is appended to the event
// store; the event log, not the registry, is the source of truth.
type OrchestratorService struct {
	runs      runstore.Store
	events    eventstore.Store
	executor  *GraphExecutor
	workflows *workflow.Registry
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // in-flight runs
}

// NewOrchestratorService creates an OrchestratorService with all dependencies.
// queue may be nil (no event publication); hub may be nil.
func NewOrchestratorService(
	runs runstore.Store,
	events eventstore.Store,
	executor *GraphExecutor,
	workflows *workflow.Registry,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
) *OrchestratorService {
	if hub == nil {
		hub = broadcast.Noop{}
	}
	return &OrchestratorService{
		runs:      runs,
		events:    events,
		executor:  executor,
		workflows: workflows,
		queue:     queue,
		hub:       hub,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// SetMetrics wires the metric instruments. Optional.
func (s *OrchestratorService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// CreateRun validates and persists a new run in pending state and records
// run_requested with the initial context.
func (s *OrchestratorService) CreateRun(ctx context.Context, tenantID string, req *run.CreateRequest) (*run.Run, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("validate run: missing workflow")
	}
	if s.workflows.Get(req.Workflow) == nil {
		return nil, fmt.Errorf("validate run: unknown workflow %q", req.Workflow)
	}

	r := &run.Run{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Workflow:  req.Workflow,
		Status:    run.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.runs.Put(ctx, r); err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}

	s.appendEvent(ctx, r, event.TypeRunRequested, event.RequestedPayload{
		Workflow: req.Workflow,
		Context:  req.Context,
	})

	slog.Info("run created", "run_id", r.ID, "tenant_id", tenantID, "workflow", req.Workflow)
	return r, nil
}

// StartRun transitions the run to running and drives the graph executor to
// completion, recording every step and the terminal transition. The caller
// blocks until the run finishes; HTTP exposure runs it in a goroutine.
func (s *OrchestratorService) StartRun(ctx context.Context, runID, tenantID string) (*run.Run, error) {
	r, err := s.ownedRun(ctx, runID, tenantID)
	if err != nil {
		return nil, err
	}
	if r.Status != run.StatusPending {
		return nil, fmt.Errorf("run %s is %s, expected pending: %w", runID, r.Status, domain.ErrConflict)
	}

	g := s.workflows.Get(r.Workflow)
	if g == nil {
		return nil, fmt.Errorf("resolve workflow %s: %w", r.Workflow, domain.ErrNotFound)
	}

	now := time.Now().UTC()
	r.Status = run.StatusRunning
	r.StartedAt = &now
	if err := s.runs.Put(ctx, r); err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}
	s.appendEvent(ctx, r, event.TypeRunStarted, nil)
	if s.metrics != nil {
		s.metrics.RunsStarted.Add(ctx, 1)
	}
	slog.Info("run started", "run_id", r.ID, "workflow", r.Workflow)

	execCtx, cancel := context.WithCancel(ctx)
	s.trackCancel(r.ID, cancel)
	defer s.untrackCancel(r.ID)

	ec := NewExecContext(s.initialContext(ctx, r.ID))
	execErr := s.executor.Execute(execCtx, g, ec, func(ctx context.Context, node string, res *StepResult) error {
		payload := event.StepPayload{Node: node}
		if res != nil {
			payload.TokensUsed = res.TokensUsed
			payload.CostUSD = res.CostUSD
			payload.Artifacts = res.Artifacts
		}
		s.appendEvent(ctx, r, event.TypeStepCompleted, payload)
		return nil
	})

	return s.finishRun(ctx, r, ec, execErr)
}

// CancelRun cooperatively cancels a run: it marks the status, appends
// run_cancelled and signals the executor, but never interrupts an in-flight
// node. Already-issued side effects rely on saga compensation.
func (s *OrchestratorService) CancelRun(ctx context.Context, runID, tenantID string) (*run.Run, error) {
	r, err := s.ownedRun(ctx, runID, tenantID)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s is already %s: %w", runID, r.Status, domain.ErrConflict)
	}

	now := time.Now().UTC()
	r.Status = run.StatusCancelled
	r.CompletedAt = &now
	if err := s.runs.Put(ctx, r); err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}
	s.appendEvent(ctx, r, event.TypeRunCancelled, nil)

	s.mu.Lock()
	if cancel, ok := s.cancels[runID]; ok {
		cancel()
	}
	s.mu.Unlock()

	slog.Info("run cancelled", "run_id", runID)
	return r, nil
}

// GetRun returns the run after re-validating tenant ownership.
func (s *OrchestratorService) GetRun(ctx context.Context, runID, tenantID string) (*run.Run, error) {
	return s.ownedRun(ctx, runID, tenantID)
}

// ListRuns returns all runs owned by the tenant.
func (s *OrchestratorService) ListRuns(ctx context.Context, tenantID string) ([]run.Run, error) {
	return s.runs.ListByTenant(ctx, tenantID)
}

// GetRunEvents returns the run's full event log in version order.
func (s *OrchestratorService) GetRunEvents(ctx context.Context, runID, tenantID string) ([]event.RunEvent, error) {
	if _, err := s.ownedRun(ctx, runID, tenantID); err != nil {
		return nil, err
	}
	return s.events.LoadByRun(ctx, runID)
}

// ReplayRun reconstructs the run purely by folding its event log. The live
// registry object is used only for the ownership check, never as input.
func (s *OrchestratorService) ReplayRun(ctx context.Context, runID, tenantID string) (*run.Run, error) {
	if _, err := s.ownedRun(ctx, runID, tenantID); err != nil {
		return nil, err
	}
	events, err := s.events.LoadByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load events for replay: %w", err)
	}
	r, err := event.Replay(events)
	if err != nil {
		return nil, fmt.Errorf("replay run %s: %w", runID, err)
	}
	return r, nil
}

// finishRun records the terminal transition after graph execution. A run
// cancelled mid-flight keeps its cancelled status.
func (s *OrchestratorService) finishRun(ctx context.Context, r *run.Run, ec *ExecContext, execErr error) (*run.Run, error) {
	// CancelRun may have transitioned the run while the executor unwound.
	if latest, err := s.runs.Get(ctx, r.ID); err == nil && latest.Status == run.StatusCancelled {
		return latest, nil
	}
	if errors.Is(execErr, context.Canceled) {
		if latest, err := s.runs.Get(ctx, r.ID); err == nil {
			return latest, nil
		}
		return r, nil
	}

	now := time.Now().UTC()
	r.TokensUsed = ec.TokensUsed
	r.CostUSD = ec.CostUSD
	r.StepCount = ec.StepCount
	r.Artifacts = ec.Artifacts
	r.CompletedAt = &now

	if execErr != nil {
		r.Status = run.StatusFailed
		r.Error = execErr.Error()
		if err := s.runs.Put(ctx, r); err != nil {
			return nil, fmt.Errorf("store run: %w", err)
		}
		s.appendEvent(ctx, r, event.TypeRunFailed, event.FailedPayload{Error: execErr.Error()})
		if s.metrics != nil {
			s.metrics.RunsFailed.Add(ctx, 1)
		}
		slog.Error("run failed", "run_id", r.ID, "error", execErr)
		return r, nil
	}

	r.Status = run.StatusCompleted
	if err := s.runs.Put(ctx, r); err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}
	s.appendEvent(ctx, r, event.TypeRunCompleted, event.CompletedPayload{
		TokensUsed: r.TokensUsed,
		CostUSD:    r.CostUSD,
		StepCount:  r.StepCount,
		Artifacts:  r.Artifacts,
	})
	if s.metrics != nil {
		s.metrics.RunsCompleted.Add(ctx, 1)
	}
	slog.Info("run completed", "run_id", r.ID, "steps", r.StepCount, "cost_usd", r.CostUSD)
	return r, nil
}

// initialContext recovers the initial state map from the run_requested event.
func (s *OrchestratorService) initialContext(ctx context.Context, runID string) map[string]string {
	events, err := s.events.LoadByType(ctx, runID, event.TypeRunRequested)
	if err != nil || len(events) == 0 {
		return nil
	}
	var payload event.RequestedPayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		slog.Warn("decode run_requested payload", "run_id", runID, "error", err)
		return nil
	}
	return payload.Context
}

// ownedRun loads the run and enforces tenant ownership. Cross-tenant access
// is a hard error, never silently filtered.
func (s *OrchestratorService) ownedRun(ctx context.Context, runID, tenantID string) (*run.Run, error) {
	r, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.TenantID != tenantID {
		return nil, domain.ErrForbidden
	}
	return r, nil
}

// appendEvent persists a lifecycle event, publishes it to the message queue
// and broadcasts it to connected clients. Persistence failures are logged;
// publication is best-effort.
func (s *OrchestratorService) appendEvent(ctx context.Context, r *run.Run, t event.Type, payload any) {
	ev, err := newEvent(r.ID, r.TenantID, t, payload)
	if err != nil {
		slog.Error("build run event", "run_id", r.ID, "type", t, "error", err)
		return
	}
	if err := s.events.Append(ctx, ev); err != nil {
		slog.Error("append run event", "run_id", r.ID, "type", t, "error", err)
		return
	}

	if s.queue != nil {
		subject := fmt.Sprintf("%s%s.%s", messagequeue.SubjectRunsPrefix, r.TenantID, t)
		data, err := json.Marshal(ev)
		if err == nil {
			if err := s.queue.Publish(ctx, subject, data); err != nil {
				slog.Warn("publish run event", "subject", subject, "error", err)
			}
		}
	}

	s.hub.BroadcastEvent(ctx, ws.EventRunLifecycle, ws.RunLifecycleEvent{
		RunID:     r.ID,
		TenantID:  r.TenantID,
		EventType: string(t),
		Version:   int64(ev.Version),
	})
}

func (s *OrchestratorService) trackCancel(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[runID] = cancel
}

func (s *OrchestratorService) untrackCancel(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, runID)
}

// newEvent builds an unpersisted event; the store assigns id, version and
// timestamp on append.
func newEvent(runID, tenantID string, t event.Type, payload any) (*event.RunEvent, error) {
	ev := &event.RunEvent{
		RunID:    runID,
		TenantID: tenantID,
		Type:     t,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		ev.Payload = data
	}
	return ev, nil
}
