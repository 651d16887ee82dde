// Package router implements the cost/latency-aware tier decision engine:
// feature extraction, cost estimation, tier classification, borderline
// adjudication and the routing rules that compose them.
package router

import (
	"strings"
	"unicode"

	"github.com/tiergate/tiergate/internal/domain/task"
)

// domainKeywords maps each domain flag to the keywords that activate it.
var domainKeywords = map[string][]string{
	task.DomainFinance:   {"invoice", "payment", "loan", "interest", "portfolio", "trading", "accounting", "tax", "audit", "banking"},
	task.DomainLegal:     {"contract", "clause", "liability", "compliance", "regulation", "lawsuit", "statute", "gdpr", "jurisdiction"},
	task.DomainMedical:   {"patient", "diagnosis", "symptom", "prescription", "clinical", "dosage", "treatment", "medical"},
	task.DomainEcommerce: {"cart", "checkout", "sku", "inventory", "shipping", "refund", "catalog", "order"},
}

// reasoningKeywords are the configured hits counted into the feature vector.
var reasoningKeywords = []string{
	"why", "explain", "analyze", "compare", "reason", "derive",
	"prove", "because", "therefore", "justify", "evaluate", "trade-off",
}

// strictnessIncrements maps format keywords to their capped strictness contribution.
var strictnessIncrements = map[string]float64{
	"json":     0.3,
	"schema":   0.3,
	"xml":      0.3,
	"csv":      0.3,
	"strict":   0.3,
	"exact":    0.2,
	"format":   0.2,
	"template": 0.2,
	"must":     0.1,
}

// Extract computes the immutable feature vector for a task text. It is a
// pure, deterministic function of (text, history stats) with no side effects.
func Extract(text string, stats task.HistoryStats) *task.Features {
	words := strings.Fields(text)
	lower := strings.ToLower(text)

	f := &task.Features{
		TokenCount:  len(words),
		FailureRate: clamp01(stats.FailureRate),
	}

	for domain, keywords := range domainKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				f.Domains = append(f.Domains, domain)
				break
			}
		}
	}

	for _, kw := range reasoningKeywords {
		if strings.Contains(lower, kw) {
			f.ReasoningKeywords = append(f.ReasoningKeywords, kw)
		}
	}

	f.SchemaComplexity = schemaComplexity(text, lower)
	f.FormatStrictness = formatStrictness(lower)
	f.EntityCount = entityCount(words)
	f.Novelty = novelty(len(words), stats)

	return f
}

// schemaComplexity scores structural density: bracket/colon markers plus
// schema-ish vocabulary, capped at 1.
func schemaComplexity(text, lower string) float64 {
	markers := 0
	for _, r := range text {
		switch r {
		case '{', '}', '[', ']', ':':
			markers++
		}
	}
	score := float64(markers) / 40.0
	for _, kw := range []string{"nested", "field", "schema", "structure", "hierarchy"} {
		if strings.Contains(lower, kw) {
			score += 0.15
		}
	}
	return clamp01(score)
}

// formatStrictness is the capped sum of matched keyword increments.
func formatStrictness(lower string) float64 {
	var score float64
	for kw, inc := range strictnessIncrements {
		if strings.Contains(lower, kw) {
			score += inc
		}
	}
	return clamp01(score)
}

// entityCount approximates named-entity density: capitalized non-leading
// words and numeric tokens.
func entityCount(words []string) int {
	count := 0
	for i, w := range words {
		r := []rune(w)[0]
		if unicode.IsDigit(r) {
			count++
			continue
		}
		if i > 0 && unicode.IsUpper(r) {
			count++
		}
	}
	return count
}

// novelty is a bounded function of task length adjusted upward when the
// tenant's historical success rate is poor.
func novelty(tokens int, stats task.HistoryStats) float64 {
	base := float64(tokens) / 500.0
	if base > 1 {
		base = 1
	}
	adjust := 0.0
	if stats.SampleCount > 0 {
		adjust = 1 - clamp01(stats.SuccessRate)
	}
	return clamp01(base*0.6 + adjust*0.4)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
