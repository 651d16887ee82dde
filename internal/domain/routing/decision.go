// Package routing defines the request and decision types of the tier decision engine.
package routing

import (
	"time"

	"github.com/tiergate/tiergate/internal/domain/task"
	"github.com/tiergate/tiergate/internal/domain/tier"
)

// Source identifies which path of the decision engine produced a decision.
// It lets callers distinguish genuine high-confidence results from degraded
// fallbacks without string-matching reasons.
type Source string

const (
	SourceEarlyExit  Source = "early_exit" // fast path for trivially simple tasks
	SourceClassifier Source = "classifier" // cost-adjusted classifier selection
	SourceJudge      Source = "judge"      // borderline adjudication by LLM
	SourceHeuristic  Source = "heuristic"  // judge parse cascade bottomed out
	SourceFallback   Source = "fallback"   // unexpected internal failure, safe default
	SourceSafeMode   Source = "safe_mode"  // budget-pressure override
)

// Degraded reports whether the source represents a degraded outcome rather
// than a scored decision.
func (s Source) Degraded() bool {
	return s == SourceHeuristic || s == SourceFallback
}

// Request is a routing request as delivered by the ingress layer.
type Request struct {
	TenantID       string            `json:"tenant_id"`
	TaskID         string            `json:"task_id"`
	Requirement    string            `json:"requirement"`        // task text
	Features       *task.Features    `json:"features,omitempty"` // precomputed; extracted from Requirement when nil
	History        task.HistoryStats `json:"history"`
	CostBudgetUSD  float64           `json:"cost_budget_usd,omitempty"` // 0 = unlimited
	LatencyBudget  time.Duration     `json:"latency_budget,omitempty"`  // 0 = unlimited
	BudgetUtilized float64           `json:"budget_utilized,omitempty"` // tenant budget utilization %, drives safe mode
}

// Decision is the final, immutable output of the decision engine.
type Decision struct {
	Tier             tier.Tier `json:"tier"`
	Confidence       float64   `json:"confidence"` // [0,1]
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	EstimatedLatency int64     `json:"estimated_latency_ms"`
	Reasons          []string  `json:"reasons"` // ordered, human-readable
	PolicyEscalation bool      `json:"policy_escalation"`
	FallbackTier     tier.Tier `json:"fallback_tier,omitempty"` // next-cheaper rung, empty at the bottom
	Source           Source    `json:"source"`
	DecidedAt        time.Time `json:"decided_at"`
}

// Distribution is a per-tier probability map produced by the classifier.
// Probabilities sum to 1.0.
type Distribution map[tier.Tier]float64

// Top2 returns the two most probable tiers and their probabilities,
// breaking ties by ladder order so the result is deterministic.
func (d Distribution) Top2() (first tier.Tier, firstP float64, second tier.Tier, secondP float64) {
	for _, t := range tier.Ladder {
		p := d[t]
		switch {
		case p > firstP:
			second, secondP = first, firstP
			first, firstP = t, p
		case p > secondP:
			second, secondP = t, p
		}
	}
	return first, firstP, second, secondP
}
