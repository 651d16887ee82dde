package router

import (
	"fmt"
	"time"

	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/domain/routing"
	"github.com/tiergate/tiergate/internal/domain/task"
	"github.com/tiergate/tiergate/internal/domain/tier"
)

// Level classifies budget pressure.
type Level string

const (
	LevelNormal    Level = "normal"
	LevelWarning   Level = "warning"
	LevelCritical  Level = "critical"
	LevelEmergency Level = "emergency"
)

// SafeMode is the alternate decision path biasing toward cheap tiers under
// budget pressure. When active it is the final authority over a decision and
// may only make it cheaper than the engine's own output, never more expensive.
type SafeMode struct {
	cfg config.SafeMode
}

// NewSafeMode creates a SafeMode router from config.
func NewSafeMode(cfg config.SafeMode) *SafeMode {
	return &SafeMode{cfg: cfg}
}

// LevelFor maps a budget-utilization percentage to a pressure level.
func (s *SafeMode) LevelFor(utilization float64) Level {
	switch {
	case utilization >= s.cfg.EmergencyThreshold:
		return LevelEmergency
	case utilization >= s.cfg.CriticalThreshold:
		return LevelCritical
	case utilization >= s.cfg.WarningThreshold:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// allowedTiers returns the shrunken tier set for a level, cheapest first.
func (s *SafeMode) allowedTiers(level Level) []tier.Tier {
	switch level {
	case LevelEmergency:
		return []tier.Tier{tier.Cheapest()}
	case LevelWarning, LevelCritical:
		// Drop the top rung; the cost ceiling does the rest.
		return tier.Ladder[:len(tier.Ladder)-1]
	default:
		return tier.Ladder
	}
}

// costCeiling returns the per-decision USD ceiling for a level.
func (s *SafeMode) costCeiling(level Level) float64 {
	switch level {
	case LevelCritical:
		return s.cfg.BaseCostCeiling * 0.25
	case LevelWarning:
		return s.cfg.BaseCostCeiling * 0.5
	default:
		return s.cfg.BaseCostCeiling
	}
}

// Apply re-decides under budget pressure. At normal level the base decision
// passes through untouched. Otherwise the most capable allowed tier that is
// not more expensive than the base tier and meets the cost ceiling wins;
// if none qualifies the single cheapest tier is used. At emergency the
// cheapest tier is forced and cost-increasing features are disabled.
func (s *SafeMode) Apply(base *routing.Decision, f *task.Features, utilization float64) *routing.Decision {
	if !s.cfg.Enabled {
		return base
	}
	level := s.LevelFor(utilization)
	if level == LevelNormal {
		return base
	}

	ceiling := s.costCeiling(level)
	allowed := s.allowedTiers(level)

	chosen := tier.Cheapest()
	if level != LevelEmergency {
		for i := len(allowed) - 1; i >= 0; i-- {
			t := allowed[i]
			if tier.Index(t) > tier.Index(base.Tier) {
				continue // never more expensive than the engine's own output
			}
			if EstimateCost(t, f) <= ceiling {
				chosen = t
				break
			}
		}
	}

	if chosen == base.Tier {
		// Unchanged tier; annotate that safe mode reviewed the decision.
		annotated := *base
		annotated.Reasons = append(append([]string(nil), base.Reasons...),
			fmt.Sprintf("safe mode %s active (budget %.0f%% used): tier confirmed", level, utilization))
		return &annotated
	}

	reasons := append([]string(nil), base.Reasons...)
	reasons = append(reasons,
		fmt.Sprintf("safe mode %s (budget %.0f%% used): downgraded %s → %s under cost ceiling $%.4f",
			level, utilization, base.Tier, chosen, ceiling))
	if level == LevelEmergency {
		reasons = append(reasons, "emergency level: cheapest tier forced, cost-increasing features disabled")
	}

	fallback, _ := tier.Downgrade(chosen)
	if fallback == chosen {
		fallback = ""
	}

	return &routing.Decision{
		Tier:             chosen,
		Confidence:       base.Confidence,
		EstimatedCostUSD: EstimateCost(chosen, f),
		EstimatedLatency: EstimateLatency(chosen, f),
		Reasons:          reasons,
		PolicyEscalation: base.PolicyEscalation,
		FallbackTier:     fallback,
		Source:           routing.SourceSafeMode,
		DecidedAt:        time.Now().UTC(),
	}
}
