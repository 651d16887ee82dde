package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tiergate/tiergate/internal/adapter/memory"
	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/domain/run"
	"github.com/tiergate/tiergate/internal/domain/saga"
	"github.com/tiergate/tiergate/internal/domain/workflow"
	"github.com/tiergate/tiergate/internal/middleware"
	"github.com/tiergate/tiergate/internal/port/toolrunner"
	"github.com/tiergate/tiergate/internal/router"
	"github.com/tiergate/tiergate/internal/service"
)

type nopRunner struct{}

func (nopRunner) Execute(context.Context, saga.Operation) (*toolrunner.Result, error) {
	return &toolrunner.Result{}, nil
}

func (nopRunner) Compensate(context.Context, saga.CompletedOperation) error { return nil }

// newTestServer wires the full HTTP surface over in-memory stores.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	g := &workflow.Graph{
		Name: "pipeline",
		Nodes: []workflow.Node{
			{Name: "begin", Type: workflow.NodeStart},
			{Name: "done", Type: workflow.NodeEnd},
		},
		Edges: []workflow.Edge{{From: "begin", To: "done"}},
	}
	if err := g.Build(); err != nil {
		t.Fatalf("build graph: %v", err)
	}
	reg := workflow.NewRegistry()
	if err := reg.Register(g); err != nil {
		t.Fatalf("register: %v", err)
	}

	events := memory.NewEventStore()
	cfg := config.Defaults()
	cfg.Router.JudgeEnabled = false

	orchestrator := service.NewOrchestratorService(
		memory.NewRunStore(), events, service.NewGraphExecutor(), reg, nil, nil)
	sagas := service.NewSagaService(
		memory.NewSagaStore(), events, nopRunner{}, nil, cfg.Saga)

	h := &Handlers{
		Router:       router.NewEngine(cfg.Router, router.NewClassifier(), nil, nil),
		Orchestrator: orchestrator,
		Sagas:        sagas,
		Workflows:    reg.Names(),
	}

	r := chi.NewRouter()
	r.Use(middleware.TenantID)
	MountRoutes(r, h)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, tenant string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func TestRouteEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/route", "t1", map[string]any{
		"requirement": "Summarize this paragraph",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var decision struct {
		Tier    string   `json:"tier"`
		Source  string   `json:"source"`
		Reasons []string `json:"reasons"`
	}
	if err := json.Unmarshal(body, &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if decision.Tier == "" || len(decision.Reasons) == 0 {
		t.Errorf("decision = %+v", decision)
	}
}

func TestRouteEndpointRequiresInput(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/route", "t1", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRouterStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	_, _ = doJSON(t, http.MethodPost, srv.URL+"/api/route", "t1", map[string]any{"requirement": "Hi"})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/route/stats", "t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var stats struct {
		Decisions int64 `json:"decisions"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Decisions != 1 {
		t.Errorf("decisions = %d, want 1", stats.Decisions)
	}
}

func TestRunLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/runs", "t1", run.CreateRequest{Workflow: "pipeline"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var created run.Run
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode run: %v", err)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/runs/"+created.ID, "t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/runs/"+created.ID+"/start", "t1", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d: %s", resp.StatusCode, body)
	}

	// Run execution is detached; poll until it leaves running.
	deadline := time.Now().Add(5 * time.Second)
	var got run.Run
	for {
		_, body = doJSON(t, http.MethodGet, srv.URL+"/api/runs/"+created.ID, "t1", nil)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode run: %v", err)
		}
		if got.Status.IsTerminal() || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got.Status != run.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/runs/"+created.ID+"/events", "t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("events status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/runs/"+created.ID+"/replay", "t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("replay status = %d", resp.StatusCode)
	}
}

func TestCrossTenantAccessReturns403(t *testing.T) {
	srv := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/runs", "t1", run.CreateRequest{Workflow: "pipeline"})
	var created run.Run
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode run: %v", err)
	}

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/runs/"+created.ID, "t2", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("get status = %d, want 403", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/runs/"+created.ID+"/start", "t2", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("start status = %d, want 403", resp.StatusCode)
	}
}

func TestStartRunConflictWhenNotPending(t *testing.T) {
	srv := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/runs", "t1", run.CreateRequest{Workflow: "pipeline"})
	var created run.Run
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/runs/"+created.ID+"/cancel", "t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/runs/"+created.ID+"/start", "t1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("start status = %d, want 409", resp.StatusCode)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/runs/missing", "t1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStartSagaEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/runs", "t1", run.CreateRequest{Workflow: "pipeline"})
	var created run.Run
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode run: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sagas", "t1", map[string]any{
		"run_id": created.ID,
		"operations": []map[string]any{
			{"type": "tool_call", "tool_id": "echo"},
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var accepted map[string]string
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	sagaID := accepted["saga_id"]
	if sagaID == "" {
		t.Fatal("missing saga_id")
	}

	// Poll the saga to a terminal state.
	deadline := time.Now().Add(5 * time.Second)
	var report saga.StatusReport
	for {
		_, body = doJSON(t, http.MethodGet, srv.URL+"/api/sagas/"+sagaID, "t1", nil)
		if err := json.Unmarshal(body, &report); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		if report.Status.IsTerminal() || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if report.Status != saga.StatusCompleted {
		t.Errorf("saga status = %s, want completed", report.Status)
	}
}

func TestStartSagaUnknownRun(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sagas", "t1", map[string]any{
		"run_id":     "missing",
		"operations": []map[string]any{{"type": "tool_call", "tool_id": "echo"}},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" {
		t.Errorf("payload = %v", payload)
	}
}
