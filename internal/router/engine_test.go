package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/domain/routing"
	"github.com/tiergate/tiergate/internal/domain/task"
	"github.com/tiergate/tiergate/internal/domain/tier"
)

func newTestEngine(safeMode *SafeMode) *Engine {
	cfg := config.Defaults().Router
	cfg.JudgeEnabled = false // no network in unit tests
	return NewEngine(cfg, NewClassifier(), nil, safeMode)
}

func TestRouteEarlyExit(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Route(context.Background(), &routing.Request{Requirement: "Hello"})

	if d.Tier != tier.Cheapest() {
		t.Errorf("tier = %s, want cheapest", d.Tier)
	}
	if d.Confidence != 0.95 {
		t.Errorf("confidence = %g, want 0.95", d.Confidence)
	}
	if d.Source != routing.SourceEarlyExit {
		t.Errorf("source = %s, want early_exit", d.Source)
	}
}

func TestRouteNeverReturnsNil(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Route(context.Background(), &routing.Request{})

	if d == nil {
		t.Fatal("Route must always produce a decision")
	}
	if !tier.Valid(d.Tier) {
		t.Errorf("invalid tier %q", d.Tier)
	}
	if len(d.Reasons) == 0 {
		t.Error("decision must carry at least one reason")
	}
}

func TestRouteDegradedClassifierStillDecides(t *testing.T) {
	e := newTestEngine(nil)
	e.classifier.mu.Lock()
	delete(e.classifier.centroids, tier.Premium)
	e.classifier.mu.Unlock()

	d := e.Route(context.Background(), &routing.Request{
		Features: &task.Features{TokenCount: 300, SchemaComplexity: 0.5, Novelty: 0.4},
	})
	if !tier.Valid(d.Tier) {
		t.Fatalf("invalid tier %q from degraded classifier", d.Tier)
	}
	degradedNoted := false
	for _, r := range d.Reasons {
		if strings.Contains(r, "classifier degraded") {
			degradedNoted = true
		}
	}
	if !degradedNoted {
		t.Errorf("reasons = %v, want degraded classifier note", d.Reasons)
	}
}

func TestRoutePolicyEscalationBeatsBudget(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Route(context.Background(), &routing.Request{
		Requirement:   "Audit this loan payment ledger for the bank and flag invoice anomalies",
		CostBudgetUSD: 0.0001,
	})

	if d.Tier != tier.Highest() {
		t.Fatalf("tier = %s, want %s despite tiny budget", d.Tier, tier.Highest())
	}
	if !d.PolicyEscalation {
		t.Error("policy escalation flag must be set")
	}
	if d.Confidence != 0.9 {
		t.Errorf("confidence = %g, want 0.9 on escalation", d.Confidence)
	}
}

func TestRouteBudgetDowngrade(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Route(context.Background(), &routing.Request{
		Features:      &task.Features{TokenCount: 400, SchemaComplexity: 0.6, Novelty: 0.3},
		CostBudgetUSD: 0.0001,
	})

	if d.Tier != tier.Cheapest() {
		t.Errorf("tier = %s, want cheapest after budget downgrade", d.Tier)
	}
	downgraded := false
	for _, r := range d.Reasons {
		if strings.Contains(r, "budget") {
			downgraded = true
		}
	}
	if !downgraded {
		t.Errorf("reasons = %v, want a budget downgrade note", d.Reasons)
	}
}

func TestRouteLatencyDowngrade(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Route(context.Background(), &routing.Request{
		Features:      &task.Features{TokenCount: 400, SchemaComplexity: 0.6, Novelty: 0.3},
		LatencyBudget: 1 * time.Millisecond,
	})

	if d.Tier != tier.Cheapest() {
		t.Errorf("tier = %s, want cheapest under a 1ms latency budget", d.Tier)
	}
}

func TestRouteCostAdjustedSelectionReason(t *testing.T) {
	e := newTestEngine(nil)
	d := e.Route(context.Background(), &routing.Request{
		Features: &task.Features{TokenCount: 300, SchemaComplexity: 0.5, Novelty: 0.3},
	})

	found := false
	for _, r := range d.Reasons {
		if strings.Contains(r, "cost-adjusted selection") {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v, want cost-adjusted selection note with judge disabled", d.Reasons)
	}
}

func TestRouteSafeModeIsFinalAuthority(t *testing.T) {
	e := newTestEngine(testSafeMode())
	d := e.Route(context.Background(), &routing.Request{
		Requirement:    "Diagnose the patient symptoms and propose a treatment plan with clinical reasoning",
		BudgetUtilized: 97,
	})

	if d.Tier != tier.Cheapest() {
		t.Errorf("tier = %s, want cheapest: emergency safe mode overrides even policy escalation", d.Tier)
	}
	if d.Source != routing.SourceSafeMode {
		t.Errorf("source = %s, want safe_mode", d.Source)
	}
	if !d.PolicyEscalation {
		t.Error("escalation flag from the base decision must be preserved")
	}
}

func TestStatsCounters(t *testing.T) {
	e := newTestEngine(nil)
	for i := 0; i < 3; i++ {
		e.Route(context.Background(), &routing.Request{Requirement: "Hello"})
	}

	stats := e.Stats()
	if stats.Decisions != 3 {
		t.Errorf("decisions = %d, want 3", stats.Decisions)
	}
	if stats.PerTier[tier.Cheapest()] != 3 {
		t.Errorf("per-tier counts = %v, want 3 for cheapest", stats.PerTier)
	}
	if stats.AvgLatency < 0 {
		t.Errorf("avg latency = %v", stats.AvgLatency)
	}
}
