package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tiergate/tiergate/internal/adapter/llm"
	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/domain/routing"
	"github.com/tiergate/tiergate/internal/domain/task"
	"github.com/tiergate/tiergate/internal/domain/tier"
)

// Verdict is the judge's adjudication of a borderline classification.
type Verdict struct {
	Tier       tier.Tier      `json:"tier"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons"`
	Source     routing.Source `json:"source"` // judge or heuristic
}

const judgePrompt = `You adjudicate which processing tier should handle a task.
Tiers, cheapest first: cheap, mid, premium.

Task features:
- token_count: %d
- schema_complexity: %.2f
- novelty: %.2f
- failure_rate: %.2f
- format_strictness: %.2f
- reasoning_keywords: %d
- entity_count: %d
- domains: %s

Classifier probabilities were too close to call: %s.

Reply with ONLY a JSON object: {"tier": "<cheap|mid|premium>", "confidence": <0..1>, "reasons": ["..."]}`

// Judge adjudicates borderline classifier outputs via an external reasoning
// capability. It never propagates failures: the parsing cascade ends in a
// deterministic feature heuristic.
type Judge struct {
	client *llm.Client
	cfg    config.Judge
}

// NewJudge creates a Judge backed by the given LLM proxy client.
func NewJudge(client *llm.Client, cfg config.Judge) *Judge {
	return &Judge{client: client, cfg: cfg}
}

// Adjudicate asks the reasoning model to pick a tier for a borderline task.
// The cascade is: strict parse → salvage parse → feature heuristic. The
// returned verdict is always usable.
func (j *Judge) Adjudicate(ctx context.Context, f *task.Features, dist routing.Distribution) *Verdict {
	prompt := fmt.Sprintf(judgePrompt,
		f.TokenCount, f.SchemaComplexity, f.Novelty, f.FailureRate,
		f.FormatStrictness, len(f.ReasoningKeywords), f.EntityCount,
		strings.Join(f.Domains, ","), formatDistribution(dist),
	)

	resp, err := j.client.ChatCompletion(ctx, llm.ChatCompletionRequest{
		Model: j.cfg.Model,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   j.cfg.MaxTokens,
	})
	if err != nil {
		slog.Warn("judge: LLM call failed, using feature heuristic", "error", err)
		return heuristicVerdict(f)
	}

	if v, err := parseVerdict(resp.Content); err == nil {
		v.Source = routing.SourceJudge
		return v
	}

	if v, err := parseVerdict(extractJSON(resp.Content)); err == nil {
		v.Reasons = append(v.Reasons, "judge reply salvaged from non-strict output")
		v.Source = routing.SourceJudge
		return v
	}

	slog.Warn("judge: unparseable reply, using feature heuristic",
		"content", truncate(resp.Content, 200))
	return heuristicVerdict(f)
}

// parseVerdict parses and validates a {tier, confidence, reasons[]} reply.
func parseVerdict(content string) (*Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &v); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}
	if !tier.Valid(v.Tier) {
		return nil, fmt.Errorf("unknown tier %q", v.Tier)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	if len(v.Reasons) == 0 {
		v.Reasons = []string{"judge provided no reasoning"}
	}
	return &v, nil
}

// heuristicVerdict is the deterministic bottom of the parsing cascade.
func heuristicVerdict(f *task.Features) *Verdict {
	switch {
	case f.TokenCount < 50 && f.SchemaComplexity < 0.3:
		return &Verdict{
			Tier:       tier.Cheap,
			Confidence: 0.6,
			Reasons:    []string{"judge unavailable; short low-complexity task fits cheap tier"},
			Source:     routing.SourceHeuristic,
		}
	case f.TokenCount < 200 && f.SchemaComplexity < 0.7:
		return &Verdict{
			Tier:       tier.Mid,
			Confidence: 0.6,
			Reasons:    []string{"judge unavailable; moderate task fits mid tier"},
			Source:     routing.SourceHeuristic,
		}
	default:
		return &Verdict{
			Tier:       tier.Premium,
			Confidence: 0.6,
			Reasons:    []string{"judge unavailable; long or complex task routed to premium"},
			Source:     routing.SourceHeuristic,
		}
	}
}

func formatDistribution(dist routing.Distribution) string {
	parts := make([]string, 0, len(tier.Ladder))
	for _, t := range tier.Ladder {
		parts = append(parts, fmt.Sprintf("%s=%.2f", t, dist[t]))
	}
	return strings.Join(parts, " ")
}

// extractJSON attempts to extract a JSON object from a string that may
// contain markdown fences or other surrounding text.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}

	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
