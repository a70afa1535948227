package models

import "fmt"

// Intent is an optional hint about what kind of answer the query wants.
// The retriever's section-priority boost branches on it.
type Intent string

const (
	IntentHowTo        Intent = "how_to"
	IntentWhatHappened Intent = "what_happened"
	IntentQuantity     Intent = "quantity"
	IntentUnspecified  Intent = "unspecified"
)

// ParseIntent maps a request string to an Intent, defaulting to unspecified.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentHowTo, IntentWhatHappened, IntentQuantity:
		return Intent(s)
	default:
		return IntentUnspecified
	}
}

// BoostedSection returns the section label that receives the priority boost
// for this intent, or SectionUnknown when no section is boosted.
func (i Intent) BoostedSection() SectionLabel {
	switch i {
	case IntentHowTo:
		return SectionMethods
	case IntentWhatHappened:
		return SectionResults
	default:
		return SectionUnknown
	}
}

// Query is one retrieval request: the embedded question plus ranking hints.
type Query struct {
	// Text is the verbatim user question. Used for prompt composition and,
	// when lexical fusion is enabled, for the keyword leg of retrieval.
	Text string
	// Embedding is the query vector. Must match the index dimensionality.
	Embedding []float32
	Intent    Intent
	// K is the number of candidates to return. Zero means the configured default.
	K int
}

// Validate checks the query and applies the default k.
func (q *Query) Validate(defaultK int) error {
	if len(q.Embedding) == 0 {
		return fmt.Errorf("query embedding cannot be empty")
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if q.Intent == "" {
		q.Intent = IntentUnspecified
	}
	return nil
}
