package guardrail

import (
	"github.com/stratolab/citeguard/internal/models"
	"github.com/stratolab/citeguard/pkg/utils"
)

// Retry/refuse reasons recorded on attempts and in trace records.
const (
	ReasonCitationMissing    = "citation_missing"
	ReasonFabricatedCitation = "fabricated_citation"
)

// Verdict is the validator's decision on one generated answer.
type Verdict struct {
	State models.ValidationState
	// Outcome is set only when State is ValidationAccepted.
	Outcome models.Outcome
	// Citations are the extracted, validated markers (order of appearance).
	Citations []models.Citation
	// Reason names the retry cause when State is ValidationRetry.
	Reason string
}

// Validator checks generated answers against the guardrail rules and the
// candidates actually supplied to the prompt. It is pure: no generation
// calls, no side effects, safe for concurrent use.
type Validator struct {
	rules Rules
}

// NewValidator creates a validator for rules.
func NewValidator(rules Rules) *Validator {
	rules.ApplyDefaults()
	return &Validator{rules: rules}
}

// Rules returns the immutable rule set the validator enforces.
func (v *Validator) Rules() Rules { return v.rules }

// Validate runs the per-attempt state machine:
//
//  1. The exact refusal sentence (modulo whitespace) is accepted as the
//     insufficient-context outcome: a deliberate refusal is a correct answer.
//  2. A non-refusal answer with fewer than the minimum well-formed citation
//     markers retries as citation_missing.
//  3. A citation referencing any document/page range not supplied in the
//     prompt retries as fabricated_citation. This is the anti-hallucination
//     check: fabricated sources are caught deterministically, never passed on.
//  4. Otherwise the answer is accepted.
//
// Exhausting the retry budget is the orchestrator's concern, not the
// validator's; Validate never returns ValidationRefused on its own.
func (v *Validator) Validate(rawAnswer string, candidates []*models.Candidate) Verdict {
	if utils.NormalizeWhitespace(rawAnswer) == utils.NormalizeWhitespace(v.rules.RefusalSentence) {
		return Verdict{
			State:   models.ValidationAccepted,
			Outcome: models.OutcomeRefusedInsufficientContext,
		}
	}

	citations := ParseCitations(rawAnswer)
	if len(citations) < v.rules.MinCitations {
		return Verdict{
			State:     models.ValidationRetry,
			Citations: citations,
			Reason:    ReasonCitationMissing,
		}
	}

	for _, c := range citations {
		if !covered(c, candidates) {
			return Verdict{
				State:     models.ValidationRetry,
				Citations: citations,
				Reason:    ReasonFabricatedCitation,
			}
		}
	}

	return Verdict{
		State:     models.ValidationAccepted,
		Outcome:   models.OutcomeAnswered,
		Citations: citations,
	}
}

func covered(c models.Citation, candidates []*models.Candidate) bool {
	for _, cand := range candidates {
		if c.CoveredBy(cand) {
			return true
		}
	}
	return false
}
