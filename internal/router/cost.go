package router

import (
	"github.com/tiergate/tiergate/internal/domain/task"
	"github.com/tiergate/tiergate/internal/domain/tier"
)

// ComplexityLevel buckets the weighted complexity score.
type ComplexityLevel string

const (
	ComplexityLow    ComplexityLevel = "low"
	ComplexityMedium ComplexityLevel = "medium"
	ComplexityHigh   ComplexityLevel = "high"
)

// domainMultipliers are the configured per-domain cost multipliers.
// Active domains multiply together.
var domainMultipliers = map[string]float64{
	task.DomainFinance:   2.0,
	task.DomainLegal:     2.0,
	task.DomainMedical:   3.0,
	task.DomainEcommerce: 1.5,
}

var complexityMultipliers = map[ComplexityLevel]float64{
	ComplexityLow:    1.0,
	ComplexityMedium: 1.5,
	ComplexityHigh:   2.0,
}

// Complexity computes the weighted complexity score over schema complexity,
// format strictness, reasoning-keyword count and entity count, and buckets it.
func Complexity(f *task.Features) ComplexityLevel {
	kw := float64(len(f.ReasoningKeywords)) / 3.0
	if kw > 1 {
		kw = 1
	}
	entities := float64(f.EntityCount) / 10.0
	if entities > 1 {
		entities = 1
	}

	score := 0.4*f.SchemaComplexity + 0.3*f.FormatStrictness + 0.2*kw + 0.1*entities
	switch {
	case score >= 0.66:
		return ComplexityHigh
	case score >= 0.33:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}

// EstimateCost returns the estimated USD cost of running the task on a tier:
// base_cost × domain_multiplier × complexity_multiplier × (1 + tokens/1000 × 0.5).
// Deterministic for identical inputs.
func EstimateCost(t tier.Tier, f *task.Features) float64 {
	profile := tier.Profiles[t]

	domainMult := 1.0
	for _, d := range f.Domains {
		if m, ok := domainMultipliers[d]; ok {
			domainMult *= m
		}
	}

	complexityMult := complexityMultipliers[Complexity(f)]
	tokenMult := 1 + float64(f.TokenCount)/1000.0*0.5

	return profile.BaseCostUSD * domainMult * complexityMult * tokenMult
}

// EstimateLatency returns the estimated latency in milliseconds for a tier,
// scaled by token volume the same way cost is.
func EstimateLatency(t tier.Tier, f *task.Features) int64 {
	profile := tier.Profiles[t]
	tokenMult := 1 + float64(f.TokenCount)/1000.0*0.5
	return int64(float64(profile.BaseLatency) * tokenMult)
}
