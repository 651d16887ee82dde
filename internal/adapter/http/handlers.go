// Package http provides the chi-based HTTP surface for the decision engine
// and the orchestrator.
package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tiergate/tiergate/internal/adapter/ws"
	"github.com/tiergate/tiergate/internal/domain/routing"
	"github.com/tiergate/tiergate/internal/domain/run"
	"github.com/tiergate/tiergate/internal/domain/saga"
	"github.com/tiergate/tiergate/internal/domain/task"
	"github.com/tiergate/tiergate/internal/middleware"
	"github.com/tiergate/tiergate/internal/router"
	"github.com/tiergate/tiergate/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Router       *router.Engine
	Orchestrator *service.OrchestratorService
	Sagas        *service.SagaService
	Hub          *ws.Hub
	Workflows    []string // registered workflow names, for the health payload
}

// routeRequest is the wire form of a routing request. The latency budget is
// carried in milliseconds.
type routeRequest struct {
	TaskID          string            `json:"task_id"`
	Requirement     string            `json:"requirement"`
	Features        *task.Features    `json:"features,omitempty"`
	History         task.HistoryStats `json:"history"`
	CostBudgetUSD   float64           `json:"cost_budget_usd,omitempty"`
	LatencyBudgetMS int64             `json:"latency_budget_ms,omitempty"`
	BudgetUtilized  float64           `json:"budget_utilized,omitempty"`
}

// RouteTask decides the processing tier for a task.
func (h *Handlers) RouteTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[routeRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Requirement) == "" && req.Features == nil {
		writeError(w, http.StatusBadRequest, "requirement or features is required")
		return
	}

	decision := h.Router.Route(r.Context(), &routing.Request{
		TenantID:       middleware.TenantIDFromContext(r.Context()),
		TaskID:         req.TaskID,
		Requirement:    req.Requirement,
		Features:       req.Features,
		History:        req.History,
		CostBudgetUSD:  req.CostBudgetUSD,
		LatencyBudget:  time.Duration(req.LatencyBudgetMS) * time.Millisecond,
		BudgetUtilized: req.BudgetUtilized,
	})
	writeJSON(w, http.StatusOK, decision)
}

// RouterStats returns the engine's per-tier counters and latency average.
func (h *Handlers) RouterStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Router.Stats())
}

// CreateRun creates a new pending run.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[run.CreateRequest](w, r)
	if !ok {
		return
	}
	if req.Workflow == "" {
		writeError(w, http.StatusBadRequest, "workflow is required")
		return
	}

	tenantID := middleware.TenantIDFromContext(r.Context())
	created, err := h.Orchestrator.CreateRun(r.Context(), tenantID, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListRuns returns the tenant's runs.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	runs, err := h.Orchestrator.ListRuns(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err, "runs not found")
		return
	}
	if runs == nil {
		runs = []run.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun returns a single run after the ownership check.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	got, err := h.Orchestrator.GetRun(r.Context(), urlParam(r, "id"), tenantID)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// StartRun transitions the run to running and drives the workflow in the
// background. The response reports the accepted transition, not the outcome.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	runID := urlParam(r, "id")

	// Validate ownership and state on the request path before detaching.
	current, err := h.Orchestrator.GetRun(r.Context(), runID, tenantID)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	if current.Status != run.StatusPending {
		writeError(w, http.StatusConflict, "run is not pending")
		return
	}

	// Detach from the request context so the run outlives the response.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		// Terminal state is recorded by the orchestrator; nothing to report here.
		_, _ = h.Orchestrator.StartRun(ctx, runID, tenantID)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "starting"})
}

// CancelRun cooperatively cancels a run.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	cancelled, err := h.Orchestrator.CancelRun(r.Context(), urlParam(r, "id"), tenantID)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

// GetRunEvents returns the run's event log in version order.
func (h *Handlers) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	events, err := h.Orchestrator.GetRunEvents(r.Context(), urlParam(r, "id"), tenantID)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// ReplayRun reconstructs the run purely from its event log.
func (h *Handlers) ReplayRun(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	replayed, err := h.Orchestrator.ReplayRun(r.Context(), urlParam(r, "id"), tenantID)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, replayed)
}

// sagaRequest is the wire form of a start-saga request.
type sagaRequest struct {
	RunID      string           `json:"run_id"`
	Operations []saga.Operation `json:"operations"`
}

// StartSaga schedules a saga and returns its id immediately.
func (h *Handlers) StartSaga(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[sagaRequest](w, r)
	if !ok {
		return
	}

	tenantID := middleware.TenantIDFromContext(r.Context())
	if _, err := h.Orchestrator.GetRun(r.Context(), req.RunID, tenantID); err != nil {
		writeDomainError(w, err, "run not found")
		return
	}

	handle, err := h.Sagas.StartSaga(r.Context(), tenantID, req.RunID, req.Operations)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"saga_id": handle.SagaID, "status": string(saga.StatusPending)})
}

// GetSagaStatus returns a saga's poll report.
func (h *Handlers) GetSagaStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.Sagas.GetSagaStatus(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "saga not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health reports liveness plus basic wiring information.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"workflows": h.Workflows,
	}
	if h.Hub != nil {
		payload["ws_connections"] = h.Hub.ConnectionCount()
	}
	writeJSON(w, http.StatusOK, payload)
}
