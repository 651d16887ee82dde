package router

import (
	"math"
	"sync"

	"github.com/tiergate/tiergate/internal/domain/routing"
	"github.com/tiergate/tiergate/internal/domain/task"
	"github.com/tiergate/tiergate/internal/domain/tier"
)

// featureDim is the length of the vector a feature set is projected onto.
const featureDim = 8

// softmaxSharpness controls how strongly centroid distance separates the
// tier probabilities.
const softmaxSharpness = 3.0

// ClassifyResult carries the per-tier distribution plus an explicit degraded
// marker so callers never have to string-match reasons to detect fallback.
type ClassifyResult struct {
	Dist     routing.Distribution
	Degraded bool
	Reason   string // set when degraded
}

// Sample is one (features, observed-correct-tier) training pair.
type Sample struct {
	Features *task.Features `json:"features"`
	Correct  tier.Tier      `json:"correct"`
}

// RetrainReport summarizes a retrain pass.
type RetrainReport struct {
	Accuracy    float64           `json:"accuracy"`
	SampleCount int               `json:"sample_count"`
	PerTier     map[tier.Tier]int `json:"per_tier"`
}

// Classifier scores a feature vector into a per-tier probability distribution
// using nearest-centroid distance. It ships with heuristic anchor centroids
// and is retrainable from accumulated samples. Classify never fails hard: any
// internal failure degrades to a fixed uniform distribution.
type Classifier struct {
	mu        sync.RWMutex
	centroids map[tier.Tier][featureDim]float64
}

// NewClassifier creates a classifier seeded with the default anchor centroids.
func NewClassifier() *Classifier {
	return &Classifier{centroids: defaultCentroids()}
}

func defaultCentroids() map[tier.Tier][featureDim]float64 {
	return map[tier.Tier][featureDim]float64{
		tier.Cheap:   {0.05, 0.10, 0.10, 0.10, 0.10, 0.00, 0.05, 0.0},
		tier.Mid:     {0.30, 0.40, 0.40, 0.30, 0.40, 0.40, 0.30, 0.0},
		tier.Premium: {0.70, 0.80, 0.70, 0.60, 0.70, 0.80, 0.60, 1.0},
	}
}

// vectorize projects a feature set onto the unit hypercube.
func vectorize(f *task.Features) [featureDim]float64 {
	tokens := float64(f.TokenCount) / 1000.0
	if tokens > 1 {
		tokens = 1
	}
	kw := float64(len(f.ReasoningKeywords)) / 5.0
	if kw > 1 {
		kw = 1
	}
	entities := float64(f.EntityCount) / 20.0
	if entities > 1 {
		entities = 1
	}
	risk := 0.0
	if f.HighRisk() {
		risk = 1.0
	}
	return [featureDim]float64{
		tokens,
		f.SchemaComplexity,
		f.Novelty,
		f.FailureRate,
		f.FormatStrictness,
		kw,
		entities,
		risk,
	}
}

// Classify returns a probability per tier summing to 1.0. It never returns
// an error: any internal failure yields the fixed default distribution with
// the Degraded flag set so routing always proceeds.
func (c *Classifier) Classify(f *task.Features) ClassifyResult {
	if f == nil {
		return degradedResult("nil features")
	}

	vec := vectorize(f)

	c.mu.RLock()
	centroids := c.centroids
	c.mu.RUnlock()

	weights := make(map[tier.Tier]float64, len(tier.Ladder))
	var total float64
	for _, t := range tier.Ladder {
		centroid, ok := centroids[t]
		if !ok {
			return degradedResult("missing centroid for " + string(t))
		}
		w := math.Exp(-softmaxSharpness * distance(vec, centroid))
		weights[t] = w
		total += w
	}

	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return degradedResult("unstable centroid weights")
	}

	dist := make(routing.Distribution, len(weights))
	for t, w := range weights {
		dist[t] = w / total
	}
	return ClassifyResult{Dist: dist}
}

// Retrain replaces the centroids with per-tier means over the given samples
// and reports classification accuracy on the same set. Tiers without samples
// keep their current centroid.
func (c *Classifier) Retrain(samples []Sample) RetrainReport {
	report := RetrainReport{PerTier: make(map[tier.Tier]int)}
	if len(samples) == 0 {
		return report
	}

	sums := make(map[tier.Tier]*[featureDim]float64)
	counts := make(map[tier.Tier]int)
	for _, s := range samples {
		if s.Features == nil || !tier.Valid(s.Correct) {
			continue
		}
		vec := vectorize(s.Features)
		sum, ok := sums[s.Correct]
		if !ok {
			sum = &[featureDim]float64{}
			sums[s.Correct] = sum
		}
		for i := range vec {
			sum[i] += vec[i]
		}
		counts[s.Correct]++
	}

	c.mu.Lock()
	next := make(map[tier.Tier][featureDim]float64, len(c.centroids))
	for t, centroid := range c.centroids {
		next[t] = centroid
	}
	for t, sum := range sums {
		n := float64(counts[t])
		var mean [featureDim]float64
		for i := range sum {
			mean[i] = sum[i] / n
		}
		next[t] = mean
	}
	c.centroids = next
	c.mu.Unlock()

	correct := 0
	for _, s := range samples {
		if s.Features == nil || !tier.Valid(s.Correct) {
			continue
		}
		report.SampleCount++
		report.PerTier[s.Correct]++
		top, _, _, _ := c.Classify(s.Features).Dist.Top2()
		if top == s.Correct {
			correct++
		}
	}
	if report.SampleCount > 0 {
		report.Accuracy = float64(correct) / float64(report.SampleCount)
	}
	return report
}

func distance(a, b [featureDim]float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// degradedResult is the fixed default distribution used whenever scoring
// cannot proceed. Routing continues with it rather than failing.
func degradedResult(reason string) ClassifyResult {
	return ClassifyResult{
		Dist: routing.Distribution{
			tier.Cheap:   0.34,
			tier.Mid:     0.33,
			tier.Premium: 0.33,
		},
		Degraded: true,
		Reason:   reason,
	}
}
