// Package task defines the immutable feature vector extracted from a task request.
package task

// Domain flags recognized by the feature extractor. Finance, legal and medical
// are treated as high-risk for policy escalation.
const (
	DomainFinance   = "finance"
	DomainLegal     = "legal"
	DomainMedical   = "medical"
	DomainEcommerce = "ecommerce"
)

// Features is the fixed feature vector computed once per task request.
// Values are never mutated after extraction.
type Features struct {
	TokenCount        int      `json:"token_count"`
	SchemaComplexity  float64  `json:"schema_complexity"` // [0,1]
	Domains           []string `json:"domains,omitempty"` // active domain flags
	Novelty           float64  `json:"novelty"`           // [0,1]
	FailureRate       float64  `json:"failure_rate"`      // historical failure rate [0,1]
	ReasoningKeywords []string `json:"reasoning_keywords,omitempty"`
	EntityCount       int      `json:"entity_count"`
	FormatStrictness  float64  `json:"format_strictness"` // [0,1]
}

// HasDomain reports whether the given domain flag is active.
func (f *Features) HasDomain(domain string) bool {
	for _, d := range f.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// HighRisk reports whether any high-risk domain flag is active.
func (f *Features) HighRisk() bool {
	return f.HasDomain(DomainFinance) || f.HasDomain(DomainLegal) || f.HasDomain(DomainMedical)
}

// HistoryStats carries accumulated per-tenant task history used during extraction.
type HistoryStats struct {
	SuccessRate float64 `json:"success_rate"` // [0,1]; 0 means no history
	FailureRate float64 `json:"failure_rate"` // [0,1]
	SampleCount int     `json:"sample_count"`
}
