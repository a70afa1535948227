package models

// Outcome is the terminal disposition of one pipeline invocation.
type Outcome string

const (
	// OutcomeAnswered means the answer passed citation validation.
	OutcomeAnswered Outcome = "answered"
	// OutcomeRefusedInsufficientContext means the pipeline deliberately
	// refused because no grounded context was available. This is a correct
	// result, not an error.
	OutcomeRefusedInsufficientContext Outcome = "refused_insufficient_context"
	// OutcomeRefusedValidationFailed means every attempt produced citations
	// that failed validation; the raw answers were discarded.
	OutcomeRefusedValidationFailed Outcome = "refused_validation_failed"
)

// ValidationState is the guardrail validator's verdict on one attempt.
type ValidationState string

const (
	ValidationAccepted ValidationState = "accepted"
	ValidationRetry    ValidationState = "retry"
	ValidationRefused  ValidationState = "refused"
)

// AnswerAttempt records one prompt -> generate -> validate cycle. Attempts
// live only inside a single invocation and are handed to the traceability
// sink when the invocation finishes.
type AnswerAttempt struct {
	Number     int             `json:"attempt_number"`
	PromptText string          `json:"prompt_text"`
	RawAnswer  string          `json:"raw_answer_text"`
	Citations  []Citation      `json:"extracted_citations"`
	State      ValidationState `json:"validation_outcome"`
	// Reason is a short machine-readable cause for retry/refuse verdicts
	// (e.g. "citation_missing", "fabricated_citation", "generation_unavailable").
	Reason string `json:"reason,omitempty"`
}

// PipelineResult is the terminal, immutable output of one invocation.
type PipelineResult struct {
	AnswerText     string     `json:"answer_text"`
	Citations      []Citation `json:"citations"`
	UsedPassageIDs []string   `json:"used_passage_ids"`
	AttemptsMade   int        `json:"attempts_made"`
	Outcome        Outcome    `json:"outcome"`
	// SystemError distinguishes "the generation service was degraded" from
	// "no good answer existed". Only meaningful with
	// OutcomeRefusedValidationFailed.
	SystemError bool `json:"system_error,omitempty"`
}
