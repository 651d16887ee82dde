package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	tgotel "github.com/tiergate/tiergate/internal/adapter/otel"
	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/domain/routing"
	"github.com/tiergate/tiergate/internal/domain/task"
	"github.com/tiergate/tiergate/internal/domain/tier"
	"github.com/tiergate/tiergate/internal/port/cache"
)

// Engine composes feature extraction, classification, adjudication and the
// routing rules (early exit, budget/latency downgrade, policy escalation)
// into a final decision. Route never returns an error: every failure path
// degrades to the cheapest tier with explicit reasoning.
type Engine struct {
	cfg        config.Router
	classifier *Classifier
	judge      *Judge    // nil disables adjudication
	safeMode   *SafeMode // nil disables budget-pressure overrides

	decisionCache cache.Cache // optional
	metrics       *tgotel.Metrics

	mu         sync.Mutex
	tierCounts map[tier.Tier]int64
	decisions  int64
	avgLatency time.Duration // rolling average of decision latency
}

// Stats is a snapshot of the engine's decision counters.
type Stats struct {
	Decisions  int64               `json:"decisions"`
	PerTier    map[tier.Tier]int64 `json:"per_tier"`
	AvgLatency time.Duration       `json:"avg_latency"`
}

// NewEngine creates a routing engine.
func NewEngine(cfg config.Router, classifier *Classifier, judge *Judge, safeMode *SafeMode) *Engine {
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		judge:      judge,
		safeMode:   safeMode,
		tierCounts: make(map[tier.Tier]int64),
	}
}

// SetDecisionCache attaches an L1 cache for identical routing requests.
func (e *Engine) SetDecisionCache(c cache.Cache) {
	e.decisionCache = c
}

// SetMetrics attaches otel instruments.
func (e *Engine) SetMetrics(m *tgotel.Metrics) {
	e.metrics = m
}

// Route decides the processing tier for a request. It never panics and never
// returns an error; the worst case is the cheapest tier at confidence 0.5
// with an explicit fallback reason.
func (e *Engine) Route(ctx context.Context, req *routing.Request) (decision *routing.Decision) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("router: internal failure, using fallback decision",
				"task_id", req.TaskID, "panic", fmt.Sprintf("%v", r))
			decision = e.fallbackDecision(fmt.Sprintf("internal routing failure: %v", r))
		}
		e.record(ctx, decision, time.Since(start))
	}()

	features := req.Features
	if features == nil {
		features = Extract(req.Requirement, req.History)
	}

	key := e.cacheKey(req, features)
	if cached := e.cacheGet(ctx, key); cached != nil {
		return cached
	}

	decision = e.decide(ctx, req, features)

	if e.safeMode != nil && req.BudgetUtilized > 0 {
		decision = e.safeMode.Apply(decision, features, req.BudgetUtilized)
	}

	e.cachePut(ctx, key, decision)
	return decision
}

// decide runs the core routing algorithm against extracted features.
func (e *Engine) decide(ctx context.Context, req *routing.Request, f *task.Features) *routing.Decision {
	// Early exit: trivially simple tasks skip classifier and judge entirely.
	if f.TokenCount < e.cfg.EarlyExitTokens &&
		f.SchemaComplexity < 0.3 && f.Novelty < 0.2 &&
		f.FailureRate < 0.1 && len(f.Domains) == 0 {
		return e.finish(f, tier.Cheapest(), 0.95,
			[]string{fmt.Sprintf("early exit: %d tokens, low complexity, no domain flags", f.TokenCount)},
			routing.SourceEarlyExit, req)
	}

	result := e.classifier.Classify(f)
	var reasons []string
	if result.Degraded {
		reasons = append(reasons, "classifier degraded to default distribution: "+result.Reason)
	}

	first, firstP, _, secondP := result.Dist.Top2()

	var chosen tier.Tier
	var confidence float64
	source := routing.SourceClassifier

	if e.cfg.JudgeEnabled && e.judge != nil && firstP-secondP < e.cfg.JudgeMargin {
		verdict := e.judge.Adjudicate(ctx, f, result.Dist)
		chosen = verdict.Tier
		confidence = verdict.Confidence
		source = verdict.Source
		reasons = append(reasons,
			fmt.Sprintf("borderline classification (gap %.2f < %.2f), adjudicated", firstP-secondP, e.cfg.JudgeMargin))
		reasons = append(reasons, verdict.Reasons...)
	} else {
		// Cost-adjusted expected value, not arg-max probability: the tier
		// minimizing cost/max(prob, floor) wins.
		chosen = first
		best := -1.0
		for _, t := range tier.Ladder {
			p := result.Dist[t]
			if p < e.cfg.MinProbability {
				p = e.cfg.MinProbability
			}
			score := EstimateCost(t, f) / p
			if best < 0 || score < best {
				best = score
				chosen = t
			}
		}
		confidence = result.Dist[chosen]
		reasons = append(reasons,
			fmt.Sprintf("cost-adjusted selection: %s minimizes cost/probability (p=%.2f)", chosen, result.Dist[chosen]))
	}

	// Budget downgrade: step down rungs while the estimate exceeds the budget.
	if req.CostBudgetUSD > 0 {
		for EstimateCost(chosen, f) > req.CostBudgetUSD {
			lower, ok := tier.Downgrade(chosen)
			if !ok {
				reasons = append(reasons,
					fmt.Sprintf("cost $%.4f exceeds budget $%.4f but no cheaper tier remains", EstimateCost(chosen, f), req.CostBudgetUSD))
				break
			}
			reasons = append(reasons,
				fmt.Sprintf("budget downgrade: %s ($%.4f) exceeds budget $%.4f, stepping to %s", chosen, EstimateCost(chosen, f), req.CostBudgetUSD, lower))
			chosen = lower
		}
	}

	// Latency downgrade: same pattern for a latency budget.
	if req.LatencyBudget > 0 {
		budgetMS := req.LatencyBudget.Milliseconds()
		for EstimateLatency(chosen, f) > budgetMS {
			lower, ok := tier.Downgrade(chosen)
			if !ok {
				reasons = append(reasons,
					fmt.Sprintf("latency %dms exceeds budget %dms but no cheaper tier remains", EstimateLatency(chosen, f), budgetMS))
				break
			}
			reasons = append(reasons,
				fmt.Sprintf("latency downgrade: %s (%dms) exceeds budget %dms, stepping to %s", chosen, EstimateLatency(chosen, f), budgetMS, lower))
			chosen = lower
		}
	}

	// Policy escalation is evaluated last and overrides all downgrades.
	escalated := false
	if chosen != tier.Highest() {
		switch {
		case f.HighRisk():
			reasons = append(reasons,
				fmt.Sprintf("policy escalation: high-risk domains %v require %s", f.Domains, tier.Highest()))
			escalated = true
		case f.Novelty > e.cfg.NoveltyEscalate:
			reasons = append(reasons,
				fmt.Sprintf("policy escalation: novelty %.2f > %.2f requires %s", f.Novelty, e.cfg.NoveltyEscalate, tier.Highest()))
			escalated = true
		}
		if escalated {
			chosen = tier.Highest()
			confidence = 0.9
		}
	}

	d := e.finish(f, chosen, confidence, reasons, source, req)
	d.PolicyEscalation = escalated
	return d
}

// finish assembles the immutable decision for the chosen tier.
func (e *Engine) finish(f *task.Features, chosen tier.Tier, confidence float64, reasons []string, source routing.Source, _ *routing.Request) *routing.Decision {
	fallback, ok := tier.Downgrade(chosen)
	if !ok {
		fallback = ""
	}
	return &routing.Decision{
		Tier:             chosen,
		Confidence:       confidence,
		EstimatedCostUSD: EstimateCost(chosen, f),
		EstimatedLatency: EstimateLatency(chosen, f),
		Reasons:          reasons,
		FallbackTier:     fallback,
		Source:           source,
		DecidedAt:        time.Now().UTC(),
	}
}

// fallbackDecision is the never-propagate safety net.
func (e *Engine) fallbackDecision(reason string) *routing.Decision {
	cheapest := tier.Cheapest()
	profile := tier.Profiles[cheapest]
	return &routing.Decision{
		Tier:             cheapest,
		Confidence:       0.5,
		EstimatedCostUSD: profile.BaseCostUSD,
		EstimatedLatency: profile.BaseLatency,
		Reasons:          []string{reason, "defaulted to cheapest tier"},
		FallbackTier:     "",
		Source:           routing.SourceFallback,
		DecidedAt:        time.Now().UTC(),
	}
}

// Stats returns a snapshot of the per-tier counters and the rolling
// decision-latency average.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	perTier := make(map[tier.Tier]int64, len(e.tierCounts))
	for t, n := range e.tierCounts {
		perTier[t] = n
	}
	return Stats{
		Decisions:  e.decisions,
		PerTier:    perTier,
		AvgLatency: e.avgLatency,
	}
}

// record updates counters, the rolling latency average and otel instruments.
func (e *Engine) record(ctx context.Context, d *routing.Decision, elapsed time.Duration) {
	if d == nil {
		return
	}

	e.mu.Lock()
	e.decisions++
	e.tierCounts[d.Tier]++
	e.avgLatency += (elapsed - e.avgLatency) / time.Duration(e.decisions)
	e.mu.Unlock()

	if e.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tier", string(d.Tier)),
		attribute.String("source", string(d.Source)),
	)
	e.metrics.Decisions.Add(ctx, 1, attrs)
	e.metrics.DecisionLatency.Record(ctx, elapsed.Seconds(), attrs)
	if d.Source.Degraded() {
		e.metrics.DecisionFallbacks.Add(ctx, 1, attrs)
	}
}

// cacheKey derives a deterministic key from everything the decision depends on.
func (e *Engine) cacheKey(req *routing.Request, f *task.Features) string {
	if e.decisionCache == nil {
		return ""
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%v|%f|%d|%f",
		req.TenantID, req.Requirement, req.History, req.CostBudgetUSD, req.LatencyBudget, req.BudgetUtilized)
	if req.Features != nil {
		raw, _ := json.Marshal(f)
		h.Write(raw)
	}
	return "decision:" + hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) cacheGet(ctx context.Context, key string) *routing.Decision {
	if e.decisionCache == nil || key == "" {
		return nil
	}
	data, ok, err := e.decisionCache.Get(ctx, key)
	if err != nil || !ok {
		if e.metrics != nil {
			e.metrics.CacheMisses.Add(ctx, 1)
		}
		return nil
	}
	var d routing.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil
	}
	if e.metrics != nil {
		e.metrics.CacheHits.Add(ctx, 1)
	}
	return &d
}

func (e *Engine) cachePut(ctx context.Context, key string, d *routing.Decision) {
	if e.decisionCache == nil || key == "" {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	_ = e.decisionCache.Set(ctx, key, data, e.cfg.DecisionCacheTTL)
}
