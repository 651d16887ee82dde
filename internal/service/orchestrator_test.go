package service

import (
	"context"
	"errors"
	"testing"

	"github.com/tiergate/tiergate/internal/adapter/memory"
	"github.com/tiergate/tiergate/internal/domain"
	"github.com/tiergate/tiergate/internal/domain/event"
	"github.com/tiergate/tiergate/internal/domain/run"
	"github.com/tiergate/tiergate/internal/domain/workflow"
)

type orchFixture struct {
	svc    *OrchestratorService
	events *memory.EventStore
	runs   *memory.RunStore
}

// newOrchFixture wires an orchestrator over in-memory stores with a two-step
// workflow whose tool nodes report fixed token and cost usage.
func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()

	g := buildGraph(t, &workflow.Graph{
		Name: "pipeline",
		Nodes: []workflow.Node{
			{Name: "begin", Type: workflow.NodeStart},
			{Name: "one", Type: workflow.NodeTool},
			{Name: "two", Type: workflow.NodeTool},
			{Name: "done", Type: workflow.NodeEnd},
		},
		Edges: []workflow.Edge{
			{From: "begin", To: "one"},
			{From: "one", To: "two"},
			{From: "two", To: "done"},
		},
	})
	reg := workflow.NewRegistry()
	if err := reg.Register(g); err != nil {
		t.Fatalf("register workflow: %v", err)
	}

	executor := NewGraphExecutor()
	executor.Register(workflow.NodeTool, func(_ context.Context, node *workflow.Node, _ map[string]any) (*StepResult, error) {
		return &StepResult{
			State:      map[string]any{node.Name: "done"},
			Artifacts:  map[string]string{node.Name: "artifact"},
			TokensUsed: 10,
			CostUSD:    0.005,
		}, nil
	})

	events := memory.NewEventStore()
	runs := memory.NewRunStore()
	return &orchFixture{
		svc:    NewOrchestratorService(runs, events, executor, reg, nil, nil),
		events: events,
		runs:   runs,
	}
}

func TestCreateRun(t *testing.T) {
	fx := newOrchFixture(t)
	ctx := context.Background()

	r, err := fx.svc.CreateRun(ctx, "t1", &run.CreateRequest{
		Workflow: "pipeline",
		Context:  map[string]string{"input": "hello"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != run.StatusPending {
		t.Errorf("status = %s, want pending", r.Status)
	}

	evs, _ := fx.events.LoadByRun(ctx, r.ID)
	if len(evs) != 1 || evs[0].Type != event.TypeRunRequested {
		t.Errorf("events = %v, want a single run_requested", evs)
	}
}

func TestCreateRunRejectsUnknownWorkflow(t *testing.T) {
	fx := newOrchFixture(t)
	if _, err := fx.svc.CreateRun(context.Background(), "t1", &run.CreateRequest{Workflow: "nope"}); err == nil {
		t.Fatal("expected unknown workflow error")
	}
	if _, err := fx.svc.CreateRun(context.Background(), "t1", &run.CreateRequest{}); err == nil {
		t.Fatal("expected missing workflow error")
	}
}

func TestStartRunCompletesAndRecordsEvents(t *testing.T) {
	fx := newOrchFixture(t)
	ctx := context.Background()

	created, err := fx.svc.CreateRun(ctx, "t1", &run.CreateRequest{Workflow: "pipeline"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	r, err := fx.svc.StartRun(ctx, created.ID, "t1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.Status != run.StatusCompleted {
		t.Fatalf("status = %s, want completed", r.Status)
	}
	if r.TokensUsed != 20 || r.CostUSD != 0.01 {
		t.Errorf("totals = %d tokens $%g, want 20 tokens $0.01", r.TokensUsed, r.CostUSD)
	}
	// begin + two tool nodes; the end node does not count as a step.
	if r.StepCount != 3 {
		t.Errorf("step count = %d, want 3", r.StepCount)
	}

	types := eventTypes(t, fx.events, created.ID)
	want := []event.Type{
		event.TypeRunRequested,
		event.TypeRunStarted,
		event.TypeStepCompleted,
		event.TypeStepCompleted,
		event.TypeStepCompleted,
		event.TypeRunCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestStartRunSeedsContextFromRequestedEvent(t *testing.T) {
	fx := newOrchFixture(t)
	ctx := context.Background()

	var seen map[string]any
	fx.svc.executor.Register(workflow.NodeTool, func(_ context.Context, node *workflow.Node, state map[string]any) (*StepResult, error) {
		if seen == nil {
			seen = map[string]any{}
			for k, v := range state {
				seen[k] = v
			}
		}
		return &StepResult{}, nil
	})

	created, _ := fx.svc.CreateRun(ctx, "t1", &run.CreateRequest{
		Workflow: "pipeline",
		Context:  map[string]string{"input": "hello"},
	})
	if _, err := fx.svc.StartRun(ctx, created.ID, "t1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if seen["input"] != "hello" {
		t.Errorf("initial state = %v, want the create-request context", seen)
	}
}

func TestStartRunRequiresPending(t *testing.T) {
	fx := newOrchFixture(t)
	ctx := context.Background()

	created, _ := fx.svc.CreateRun(ctx, "t1", &run.CreateRequest{Workflow: "pipeline"})
	if _, err := fx.svc.StartRun(ctx, created.ID, "t1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := fx.svc.StartRun(ctx, created.ID, "t1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict on a completed run", err)
	}
}

func TestStartRunRecordsFailure(t *testing.T) {
	fx := newOrchFixture(t)
	ctx := context.Background()
	boom := errors.New("tool exploded")
	fx.svc.executor.Register(workflow.NodeTool, func(_ context.Context, _ *workflow.Node, _ map[string]any) (*StepResult, error) {
		return nil, boom
	})

	created, _ := fx.svc.CreateRun(ctx, "t1", &run.CreateRequest{Workflow: "pipeline"})
	r, err := fx.svc.StartRun(ctx, created.ID, "t1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.Status != run.StatusFailed {
		t.Errorf("status = %s, want failed", r.Status)
	}
	if r.Error == "" {
		t.Error("failed run must carry the error message")
	}

	types := eventTypes(t, fx.events, created.ID)
	if types[len(types)-1] != event.TypeRunFailed {
		t.Errorf("last event = %s, want run_failed", types[len(types)-1])
	}
}

func TestCancelRun(t *testing.T) {
	fx := newOrchFixture(t)
	ctx := context.Background()

	created, _ := fx.svc.CreateRun(ctx, "t1", &run.CreateRequest{Workflow: "pipeline"})
	r, err := fx.svc.CancelRun(ctx, created.ID, "t1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if r.Status != run.StatusCancelled {
		t.Errorf("status = %s, want cancelled", r.Status)
	}

	if _, err := fx.svc.CancelRun(ctx, created.ID, "t1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict on terminal run", err)
	}
}

func TestCrossTenantAccessIsForbidden(t *testing.T) {
	fx := newOrchFixture(t)
	ctx := context.Background()

	created, _ := fx.svc.CreateRun(ctx, "t1", &run.CreateRequest{Workflow: "pipeline"})

	calls := map[string]func() error{
		"get":    func() error { _, err := fx.svc.GetRun(ctx, created.ID, "t2"); return err },
		"start":  func() error { _, err := fx.svc.StartRun(ctx, created.ID, "t2"); return err },
		"cancel": func() error { _, err := fx.svc.CancelRun(ctx, created.ID, "t2"); return err },
		"events": func() error { _, err := fx.svc.GetRunEvents(ctx, created.ID, "t2"); return err },
		"replay": func() error { _, err := fx.svc.ReplayRun(ctx, created.ID, "t2"); return err },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("%s: err = %v, want ErrForbidden", name, err)
		}
	}
}

func TestReplayRunMatchesStoredRun(t *testing.T) {
	fx := newOrchFixture(t)
	ctx := context.Background()

	created, _ := fx.svc.CreateRun(ctx, "t1", &run.CreateRequest{Workflow: "pipeline"})
	stored, err := fx.svc.StartRun(ctx, created.ID, "t1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	replayed, err := fx.svc.ReplayRun(ctx, created.ID, "t1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Status != stored.Status {
		t.Errorf("replayed status = %s, stored %s", replayed.Status, stored.Status)
	}
	if replayed.Workflow != stored.Workflow {
		t.Errorf("replayed workflow = %s, stored %s", replayed.Workflow, stored.Workflow)
	}
	if replayed.TokensUsed != stored.TokensUsed || replayed.CostUSD != stored.CostUSD || replayed.StepCount != stored.StepCount {
		t.Errorf("replayed totals = (%d, %g, %d), stored (%d, %g, %d)",
			replayed.TokensUsed, replayed.CostUSD, replayed.StepCount,
			stored.TokensUsed, stored.CostUSD, stored.StepCount)
	}
}

func TestListRunsScopedToTenant(t *testing.T) {
	fx := newOrchFixture(t)
	ctx := context.Background()

	_, _ = fx.svc.CreateRun(ctx, "t1", &run.CreateRequest{Workflow: "pipeline"})
	_, _ = fx.svc.CreateRun(ctx, "t2", &run.CreateRequest{Workflow: "pipeline"})

	runs, err := fx.svc.ListRuns(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 || runs[0].TenantID != "t1" {
		t.Errorf("runs = %v, want exactly the tenant's own run", runs)
	}
}
