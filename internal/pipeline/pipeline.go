// Package pipeline orchestrates one question through retrieval, prompt
// composition, generation, and guardrail validation, driving the bounded
// retry state machine to a terminal outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stratolab/citeguard/internal/generate"
	"github.com/stratolab/citeguard/internal/guardrail"
	"github.com/stratolab/citeguard/internal/models"
	"github.com/stratolab/citeguard/internal/prompt"
	"github.com/stratolab/citeguard/internal/retrieve"
	"github.com/stratolab/citeguard/internal/trace"
	"github.com/stratolab/citeguard/internal/vector"
)

// ReasonGenerationUnavailable marks attempts that never produced an answer
// because the generation service failed or timed out.
const ReasonGenerationUnavailable = "generation_unavailable"

// Config holds the orchestration policy.
type Config struct {
	// MaxAttempts bounds the generate->validate loop per invocation.
	MaxAttempts int
	// Temperature is passed through to the generator on every attempt.
	Temperature float32
	// GenerateTimeout bounds each individual generation call.
	GenerateTimeout time.Duration
}

// ApplyDefaults fills zero values with the standard policy.
func (c *Config) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 60 * time.Second
	}
}

// Pipeline runs invocations. It holds no per-query state and is safe for
// concurrent use; the index snapshot is supplied per call so every invocation
// sees exactly one immutable snapshot end to end.
type Pipeline struct {
	retriever *retrieve.Retriever
	generator generate.Generator
	validator *guardrail.Validator
	sink      trace.Sink
	config    Config
	logger    *zap.Logger
}

// New creates a pipeline. sink may be nil to disable tracing.
func New(r *retrieve.Retriever, g generate.Generator, v *guardrail.Validator, sink trace.Sink, cfg Config, logger *zap.Logger) *Pipeline {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		retriever: r,
		generator: g,
		validator: v,
		sink:      sink,
		config:    cfg,
		logger:    logger,
	}
}

// Ask answers one question against the given index snapshot.
//
// The returned result is always terminal: answered, or one of the two
// refusal outcomes. Refusals are correct results, not errors. An error is
// returned only for faults the pipeline cannot absorb, such as a malformed
// query or a broken chunk store.
func (p *Pipeline) Ask(ctx context.Context, idx vector.Index, q *models.Query) (*models.PipelineResult, error) {
	rec := trace.NewRecord(q.Text, idx.Version())

	candidates, err := p.retriever.Retrieve(ctx, idx, q)
	if err != nil {
		return nil, err
	}
	rec.SetCandidates(candidates)

	rules := p.validator.Rules()
	result := p.runAttempts(ctx, candidates, q.Text, rules, rec)

	rec.Outcome = result.Outcome
	rec.Citations = result.Citations
	rec.SystemError = result.SystemError
	p.emit(ctx, rec)
	return result, nil
}

// runAttempts drives the generate->validate loop until acceptance or budget
// exhaustion. It never returns raw answers that failed validation.
func (p *Pipeline) runAttempts(ctx context.Context, candidates []*models.Candidate, question string, rules guardrail.Rules, rec *trace.Record) *models.PipelineResult {
	systemError := false
	// The compliance block is added only after a guardrail rejection; an
	// unavailable generation service produced no answer to complain about.
	intensified := false

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		promptText, err := prompt.Compose(question, candidates, rules, intensified)
		if err != nil {
			// Template rendering cannot fail for valid inputs; treat it as a
			// degraded-generation attempt rather than crashing the invocation.
			p.logger.Error("prompt composition failed", zap.Error(err))
			systemError = true
			rec.Attempts = append(rec.Attempts, models.AnswerAttempt{
				Number: attempt,
				State:  models.ValidationRetry,
				Reason: ReasonGenerationUnavailable,
			})
			continue
		}

		raw, err := p.generate(ctx, promptText)
		if err != nil {
			var unavailable *generate.UnavailableError
			if !errors.As(err, &unavailable) && !errors.Is(err, context.DeadlineExceeded) {
				// Caller cancellation or an unclassified fault: stop retrying.
				p.logger.Warn("generation aborted", zap.Error(err))
				systemError = true
				rec.Attempts = append(rec.Attempts, models.AnswerAttempt{
					Number:     attempt,
					PromptText: promptText,
					State:      models.ValidationRefused,
					Reason:     ReasonGenerationUnavailable,
				})
				break
			}
			p.logger.Warn("generation unavailable",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			systemError = true
			rec.Attempts = append(rec.Attempts, models.AnswerAttempt{
				Number:     attempt,
				PromptText: promptText,
				State:      models.ValidationRetry,
				Reason:     ReasonGenerationUnavailable,
			})
			continue
		}

		verdict := p.validator.Validate(raw, candidates)
		rec.Attempts = append(rec.Attempts, models.AnswerAttempt{
			Number:     attempt,
			PromptText: promptText,
			RawAnswer:  raw,
			Citations:  verdict.Citations,
			State:      verdict.State,
			Reason:     verdict.Reason,
		})

		if verdict.State == models.ValidationAccepted {
			return p.accepted(raw, verdict, candidates, rules, len(rec.Attempts))
		}
		p.logger.Info("answer rejected by guardrail",
			zap.Int("attempt", attempt),
			zap.String("reason", verdict.Reason),
		)
		intensified = true
	}

	// Budget exhausted: every raw answer is discarded and the caller gets the
	// refusal sentence, never unvalidated text.
	if n := len(rec.Attempts); n > 0 {
		rec.Attempts[n-1].State = models.ValidationRefused
	}
	return &models.PipelineResult{
		AnswerText:     rules.RefusalSentence,
		Citations:      []models.Citation{},
		UsedPassageIDs: []string{},
		AttemptsMade:   len(rec.Attempts),
		Outcome:        models.OutcomeRefusedValidationFailed,
		SystemError:    systemError,
	}
}

func (p *Pipeline) accepted(raw string, verdict guardrail.Verdict, candidates []*models.Candidate, rules guardrail.Rules, attempts int) *models.PipelineResult {
	if verdict.Outcome == models.OutcomeRefusedInsufficientContext {
		return &models.PipelineResult{
			AnswerText:     rules.RefusalSentence,
			Citations:      []models.Citation{},
			UsedPassageIDs: []string{},
			AttemptsMade:   attempts,
			Outcome:        models.OutcomeRefusedInsufficientContext,
		}
	}
	return &models.PipelineResult{
		AnswerText:     raw,
		Citations:      verdict.Citations,
		UsedPassageIDs: guardrail.UsedPassageIDs(verdict.Citations, candidates),
		AttemptsMade:   attempts,
		Outcome:        models.OutcomeAnswered,
	}
}

func (p *Pipeline) generate(ctx context.Context, promptText string) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, p.config.GenerateTimeout)
	defer cancel()
	raw, err := p.generator.Generate(genCtx, promptText, p.config.Temperature)
	if err != nil {
		if genCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", &generate.UnavailableError{Err: fmt.Errorf("generation timed out after %s", p.config.GenerateTimeout)}
		}
		return "", err
	}
	return raw, nil
}

// emit hands the record to the trace sink. Trace failures are logged and
// swallowed; traceability never fails an invocation.
func (p *Pipeline) emit(ctx context.Context, rec *trace.Record) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Emit(ctx, rec); err != nil {
		p.logger.Warn("trace emit failed",
			zap.String("trace_id", rec.ID),
			zap.Error(err),
		)
	}
}
