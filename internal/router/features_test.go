package router

import (
	"strings"
	"testing"

	"github.com/tiergate/tiergate/internal/domain/task"
)

func TestExtractTrivialText(t *testing.T) {
	f := Extract("Hello", task.HistoryStats{})

	if f.TokenCount != 1 {
		t.Errorf("token count = %d, want 1", f.TokenCount)
	}
	if len(f.Domains) != 0 {
		t.Errorf("domains = %v, want none", f.Domains)
	}
	if f.SchemaComplexity >= 0.3 {
		t.Errorf("schema complexity = %g, want < 0.3", f.SchemaComplexity)
	}
	if f.Novelty >= 0.2 {
		t.Errorf("novelty = %g, want < 0.2", f.Novelty)
	}
	if f.FailureRate != 0 {
		t.Errorf("failure rate = %g, want 0", f.FailureRate)
	}
}

func TestExtractDomainFlags(t *testing.T) {
	f := Extract("Review this contract clause about loan interest for the patient billing system", task.HistoryStats{})

	want := map[string]bool{task.DomainFinance: true, task.DomainLegal: true, task.DomainMedical: true}
	for _, d := range f.Domains {
		if !want[d] {
			t.Errorf("unexpected domain %q", d)
		}
		delete(want, d)
	}
	for d := range want {
		t.Errorf("missing domain %q", d)
	}
	if !f.HighRisk() {
		t.Error("finance/legal/medical text should be high risk")
	}
}

func TestExtractReasoningKeywords(t *testing.T) {
	f := Extract("Explain why this happens and compare the two approaches", task.HistoryStats{})
	if len(f.ReasoningKeywords) < 3 {
		t.Errorf("reasoning keywords = %v, want at least explain/why/compare", f.ReasoningKeywords)
	}
}

func TestExtractSchemaComplexity(t *testing.T) {
	structured := Extract(`{"a": {"b": [1, 2]}, "c": {"d": "e"}} with nested schema fields`, task.HistoryStats{})
	plain := Extract("just a plain sentence", task.HistoryStats{})
	if structured.SchemaComplexity <= plain.SchemaComplexity {
		t.Errorf("structured (%g) should outscore plain (%g)", structured.SchemaComplexity, plain.SchemaComplexity)
	}
}

func TestExtractFormatStrictnessIsCapped(t *testing.T) {
	f := Extract("strict json schema xml csv exact format template must", task.HistoryStats{})
	if f.FormatStrictness != 1 {
		t.Errorf("format strictness = %g, want capped at 1", f.FormatStrictness)
	}
}

func TestExtractNoveltyUsesHistory(t *testing.T) {
	text := strings.Repeat("word ", 100)
	fresh := Extract(text, task.HistoryStats{})
	struggling := Extract(text, task.HistoryStats{SuccessRate: 0.2, SampleCount: 50})

	if struggling.Novelty <= fresh.Novelty {
		t.Errorf("poor history (%g) should raise novelty above no history (%g)", struggling.Novelty, fresh.Novelty)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	text := "Analyze the payment schema {a: [1,2]} and explain the trade-off"
	stats := task.HistoryStats{SuccessRate: 0.9, FailureRate: 0.1, SampleCount: 10}
	a := Extract(text, stats)
	b := Extract(text, stats)
	if a.TokenCount != b.TokenCount || a.SchemaComplexity != b.SchemaComplexity ||
		a.Novelty != b.Novelty || a.FormatStrictness != b.FormatStrictness {
		t.Error("extraction must be deterministic for identical input")
	}
}

func TestEntityCount(t *testing.T) {
	f := Extract("ship order 12345 to Alice Johnson in Berlin", task.HistoryStats{})
	if f.EntityCount < 3 {
		t.Errorf("entity count = %d, want at least 3 (number plus capitalized non-leading words)", f.EntityCount)
	}
}
