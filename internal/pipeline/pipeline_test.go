package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stratolab/citeguard/internal/generate"
	"github.com/stratolab/citeguard/internal/guardrail"
	"github.com/stratolab/citeguard/internal/models"
	"github.com/stratolab/citeguard/internal/retrieve"
	"github.com/stratolab/citeguard/internal/store"
	"github.com/stratolab/citeguard/internal/trace"
	"github.com/stratolab/citeguard/internal/vector"
)

// stubIndex returns a fixed hit list for every search.
type stubIndex struct {
	hits []vector.Result
}

func (s *stubIndex) Search(_ context.Context, query []float32, _ int) ([]vector.Result, error) {
	if len(query) == 0 {
		return nil, &vector.InvalidQueryError{Reason: "empty query vector"}
	}
	return s.hits, nil
}
func (s *stubIndex) Version() string { return "snap-test" }
func (s *stubIndex) Dimensions() int { return 3 }
func (s *stubIndex) Size() int       { return len(s.hits) }

// stubStore serves passages from a map.
type stubStore struct {
	passages map[string]*models.Passage
}

func (s *stubStore) GetPassage(_ context.Context, id string) (*models.Passage, error) {
	p, ok := s.passages[id]
	if !ok {
		return nil, &store.NotFoundError{PassageID: id}
	}
	return p, nil
}
func (s *stubStore) ListPassages(context.Context, int, int) ([]*models.Passage, error) {
	return nil, nil
}
func (s *stubStore) CountPassages(context.Context) (int64, error) {
	return int64(len(s.passages)), nil
}
func (s *stubStore) CreatePassage(context.Context, *models.Passage) error        { return nil }
func (s *stubStore) BatchCreatePassages(context.Context, []*models.Passage) error { return nil }
func (s *stubStore) Close() error                                                { return nil }

// scriptGen replays a fixed sequence of answers or errors, one per call,
// recording the prompt it was given.
type scriptGen struct {
	answers []string
	errs    []error
	prompts []string
}

func (g *scriptGen) Generate(_ context.Context, prompt string, _ float32) (string, error) {
	call := len(g.prompts)
	g.prompts = append(g.prompts, prompt)
	if call < len(g.errs) && g.errs[call] != nil {
		return "", g.errs[call]
	}
	if call < len(g.answers) {
		return g.answers[call], nil
	}
	return "", &generate.UnavailableError{Err: errors.New("script exhausted")}
}

// captureSink keeps every emitted record.
type captureSink struct {
	records []*trace.Record
}

func (c *captureSink) Emit(_ context.Context, rec *trace.Record) error {
	c.records = append(c.records, rec)
	return nil
}
func (c *captureSink) Close() error { return nil }

func testCorpus() (*stubIndex, *stubStore) {
	idx := &stubIndex{hits: []vector.Result{
		{PassageID: "p1", Score: 0.9},
		{PassageID: "p2", Score: 0.7},
	}}
	st := &stubStore{passages: map[string]*models.Passage{
		"p1": {ID: "p1", DocumentID: "protocol_001", SectionLabel: models.SectionMethods,
			PageStart: 3, PageEnd: 5, Text: "Spin the sample at 3000 rpm for ten minutes."},
		"p2": {ID: "p2", DocumentID: "study_042", SectionLabel: models.SectionResults,
			PageStart: 11, PageEnd: 12, Text: "Yield improved by 40 percent."},
	}}
	return idx, st
}

func newTestPipeline(gen generate.Generator, sink trace.Sink, st store.Store) *Pipeline {
	r := retrieve.NewRetriever(st, nil, retrieve.Config{}, nil)
	v := guardrail.NewValidator(guardrail.Rules{})
	return New(r, gen, v, sink, Config{}, nil)
}

func askQuery() *models.Query {
	return &models.Query{Text: "How fast should I spin the sample?", Embedding: []float32{1, 0, 0}}
}

func TestAsk_AnsweredFirstAttempt(t *testing.T) {
	idx, st := testCorpus()
	gen := &scriptGen{answers: []string{"Spin at 3000 rpm [protocol_001 pp. 3-5]."}}
	sink := &captureSink{}
	p := newTestPipeline(gen, sink, st)

	result, err := p.Ask(context.Background(), idx, askQuery())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != models.OutcomeAnswered {
		t.Fatalf("outcome = %s, want answered", result.Outcome)
	}
	if result.AttemptsMade != 1 {
		t.Errorf("attempts = %d, want 1", result.AttemptsMade)
	}
	if result.AnswerText != gen.answers[0] {
		t.Errorf("answer = %q", result.AnswerText)
	}
	if len(result.UsedPassageIDs) != 1 || result.UsedPassageIDs[0] != "p1" {
		t.Errorf("used passage ids = %v", result.UsedPassageIDs)
	}
	if len(sink.records) != 1 || sink.records[0].Outcome != models.OutcomeAnswered {
		t.Errorf("trace record not emitted correctly: %+v", sink.records)
	}
}

func TestAsk_Idempotent(t *testing.T) {
	idx, st := testCorpus()
	answer := "Spin at 3000 rpm [protocol_001 pp. 3-5]."
	gen := &scriptGen{answers: []string{answer, answer}}
	p := newTestPipeline(gen, nil, st)

	first, err := p.Ask(context.Background(), idx, askQuery())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	second, err := p.Ask(context.Background(), idx, askQuery())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical inputs over the same snapshot must yield identical results:\n%+v\n%+v", first, second)
	}
	if gen.prompts[0] != gen.prompts[1] {
		t.Error("identical inputs must compose identical prompts")
	}
}

func TestAsk_RetryThenAccept(t *testing.T) {
	idx, st := testCorpus()
	gen := &scriptGen{answers: []string{
		"Spin at 3000 rpm [protocol_099 pp. 3-5].",
		"Spin at 3000 rpm [protocol_001 pp. 3-5].",
	}}
	p := newTestPipeline(gen, nil, st)

	result, err := p.Ask(context.Background(), idx, askQuery())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != models.OutcomeAnswered {
		t.Fatalf("outcome = %s, want answered", result.Outcome)
	}
	if result.AttemptsMade != 2 {
		t.Errorf("attempts = %d, want 2", result.AttemptsMade)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("generator called %d times, want 2", len(gen.prompts))
	}
	if strings.Contains(gen.prompts[0], "COMPLIANCE CHECK FAILED") {
		t.Error("first prompt must not be intensified")
	}
	if !strings.Contains(gen.prompts[1], "COMPLIANCE CHECK FAILED") {
		t.Error("second prompt must carry the intensified compliance block")
	}
}

func TestAsk_BudgetExhausted(t *testing.T) {
	idx, st := testCorpus()
	gen := &scriptGen{answers: []string{
		"Fabricated [made_up p. 1].",
		"Still fabricated [made_up p. 2].",
	}}
	sink := &captureSink{}
	p := newTestPipeline(gen, sink, st)

	result, err := p.Ask(context.Background(), idx, askQuery())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != models.OutcomeRefusedValidationFailed {
		t.Fatalf("outcome = %s, want refused_validation_failed", result.Outcome)
	}
	if result.AnswerText != guardrail.DefaultRefusalSentence {
		t.Errorf("exhausted invocations must return the refusal sentence, got %q", result.AnswerText)
	}
	if result.SystemError {
		t.Error("guardrail exhaustion is not a system error")
	}
	if result.AttemptsMade != 2 {
		t.Errorf("attempts = %d, want 2", result.AttemptsMade)
	}
	rec := sink.records[0]
	if got := rec.Attempts[len(rec.Attempts)-1].State; got != models.ValidationRefused {
		t.Errorf("final attempt state = %s, want refused", got)
	}
	for _, a := range rec.Attempts {
		if a.RawAnswer == result.AnswerText {
			t.Error("raw rejected answers must never leak into the result")
		}
	}
}

func TestAsk_InsufficientContextRefusal(t *testing.T) {
	idx := &stubIndex{hits: []vector.Result{{PassageID: "p1", Score: 0.05}}}
	_, st := testCorpus()
	gen := &scriptGen{answers: []string{guardrail.DefaultRefusalSentence}}
	p := newTestPipeline(gen, nil, st)

	result, err := p.Ask(context.Background(), idx, askQuery())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != models.OutcomeRefusedInsufficientContext {
		t.Fatalf("outcome = %s, want refused_insufficient_context", result.Outcome)
	}
	if result.AttemptsMade != 1 {
		t.Errorf("attempts = %d, want 1", result.AttemptsMade)
	}
	if len(result.Citations) != 0 || len(result.UsedPassageIDs) != 0 {
		t.Error("refusals must carry no citations or passage ids")
	}
	if !strings.Contains(gen.prompts[0], "No context passages were found") {
		t.Error("empty candidate set must still compose a prompt steering to refusal")
	}
}

func TestAsk_GenerationUnavailable(t *testing.T) {
	idx, st := testCorpus()
	gen := &scriptGen{errs: []error{
		&generate.UnavailableError{Err: errors.New("connection refused")},
		&generate.UnavailableError{Err: errors.New("connection refused")},
	}}
	p := newTestPipeline(gen, nil, st)

	result, err := p.Ask(context.Background(), idx, askQuery())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != models.OutcomeRefusedValidationFailed {
		t.Fatalf("outcome = %s, want refused_validation_failed", result.Outcome)
	}
	if !result.SystemError {
		t.Error("generation unavailability must set the system error flag")
	}
	if result.AnswerText != guardrail.DefaultRefusalSentence {
		t.Errorf("degraded invocations must still return the refusal sentence, got %q", result.AnswerText)
	}
}

func TestAsk_UnavailableThenRecovered(t *testing.T) {
	idx, st := testCorpus()
	gen := &scriptGen{
		errs:    []error{&generate.UnavailableError{Err: errors.New("timeout")}, nil},
		answers: []string{"", "Spin at 3000 rpm [protocol_001 pp. 3-5]."},
	}
	p := newTestPipeline(gen, nil, st)

	result, err := p.Ask(context.Background(), idx, askQuery())
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if result.Outcome != models.OutcomeAnswered {
		t.Fatalf("outcome = %s, want answered after recovery", result.Outcome)
	}
	if result.AttemptsMade != 2 {
		t.Errorf("attempts = %d, want 2", result.AttemptsMade)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("generator called %d times, want 2", len(gen.prompts))
	}
	if strings.Contains(gen.prompts[1], "COMPLIANCE CHECK FAILED") {
		t.Error("an unavailable attempt produced no answer, so the retry must not claim a failed compliance check")
	}
}

func TestAsk_InvalidQuery(t *testing.T) {
	idx, st := testCorpus()
	p := newTestPipeline(&scriptGen{}, nil, st)

	_, err := p.Ask(context.Background(), idx, &models.Query{Text: "q"})
	var invalid *vector.InvalidQueryError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidQueryError, got %v", err)
	}
}
