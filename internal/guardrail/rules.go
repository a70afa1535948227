// Package guardrail enforces traceability rules on generated answers before
// they reach a caller.
package guardrail

// DefaultRefusalSentence is the exact sentence the pipeline returns when it
// cannot ground an answer in retrieved context.
const DefaultRefusalSentence = "I do not have enough grounded context to answer that question."

// Rules is the ordered, immutable guardrail configuration shared by the
// prompt composer and the validator. Construct once, never mutate.
type Rules struct {
	// RefusalSentence is the verbatim insufficient-context reply the model is
	// instructed to produce, and the only uncited answer the validator accepts.
	RefusalSentence string
	// MinCitations is the minimum number of citations a non-refusal answer
	// must carry. The refusal sentence is exempt.
	MinCitations int
}

// ApplyDefaults fills zero values with the standard guardrail policy.
func (r *Rules) ApplyDefaults() {
	if r.RefusalSentence == "" {
		r.RefusalSentence = DefaultRefusalSentence
	}
	if r.MinCitations <= 0 {
		r.MinCitations = 1
	}
}
