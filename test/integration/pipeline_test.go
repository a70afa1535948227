// Package integration exercises the full answer pipeline over real storage:
// SQLite chunk store, Bleve lexical index, saved vector snapshots, and the
// SQLite trace sink, with only the generation service scripted.
package integration

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stratolab/citeguard/internal/generate"
	"github.com/stratolab/citeguard/internal/guardrail"
	"github.com/stratolab/citeguard/internal/lexical"
	"github.com/stratolab/citeguard/internal/models"
	"github.com/stratolab/citeguard/internal/pipeline"
	"github.com/stratolab/citeguard/internal/retrieve"
	"github.com/stratolab/citeguard/internal/snapshot"
	"github.com/stratolab/citeguard/internal/store"
	"github.com/stratolab/citeguard/internal/trace"
	"github.com/stratolab/citeguard/internal/vector"
)

// scriptGen replays one answer per call.
type scriptGen struct {
	answers []string
	calls   int
}

func (g *scriptGen) Generate(context.Context, string, float32) (string, error) {
	if g.calls >= len(g.answers) {
		return "", &generate.UnavailableError{Err: errors.New("script exhausted")}
	}
	answer := g.answers[g.calls]
	g.calls++
	return answer, nil
}

var corpus = []*models.Passage{
	{ID: "protocol_001:3", DocumentID: "protocol_001", SectionLabel: models.SectionMethods,
		PageStart: 3, PageEnd: 5, Text: "Centrifuge the lysate at 3000 rpm for ten minutes before decanting."},
	{ID: "protocol_001:8", DocumentID: "protocol_001", SectionLabel: models.SectionNotes,
		PageStart: 8, PageEnd: 8, Text: "Store unused buffer at four degrees for at most one week."},
	{ID: "study_042:11", DocumentID: "study_042", SectionLabel: models.SectionResults,
		PageStart: 11, PageEnd: 12, Text: "The treated samples showed a forty percent improvement in yield."},
}

// testEnv wires real components in a temp directory.
type testEnv struct {
	store    store.Store
	lexical  lexical.Index
	embedder generate.Embedder
	manager  *snapshot.Manager
	traces   *trace.SQLiteSink
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(dir, "passages.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.BatchCreatePassages(ctx, corpus); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	lex, err := lexical.NewBleveIndex(filepath.Join(dir, "lexical"))
	if err != nil {
		t.Fatalf("lexical: %v", err)
	}
	t.Cleanup(func() { lex.Close() })
	if n, err := lex.BuildFromStore(ctx, st); err != nil || n != len(corpus) {
		t.Fatalf("lexical build: n=%d err=%v", n, err)
	}

	embedder := generate.NewMockEmbedder(32)
	idx, err := vector.NewMemoryIndex("v1", 32)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	for _, p := range corpus {
		emb, err := embedder.Embed(ctx, p.Text)
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		if err := idx.Add([]string{p.ID}, [][]float32{emb}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	snapDir := filepath.Join(dir, "snapshots")
	manager := snapshot.NewManager(snapDir, nil)
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("snapshot watcher: %v", err)
	}
	t.Cleanup(manager.Stop)
	if err := idx.Save(filepath.Join(snapDir, "v1"+snapshot.SnapshotExt)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if err := manager.LoadExisting(); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}

	traces, err := trace.NewSQLiteSink(filepath.Join(dir, "traces.db"))
	if err != nil {
		t.Fatalf("traces: %v", err)
	}
	t.Cleanup(func() { traces.Close() })

	return &testEnv{store: st, lexical: lex, embedder: embedder, manager: manager, traces: traces}
}

func (e *testEnv) newPipeline(gen generate.Generator, lexWeight float64) *pipeline.Pipeline {
	floor := 0.01
	r := retrieve.NewRetriever(e.store, e.lexical, retrieve.Config{
		K:               3,
		SimilarityFloor: &floor,
		LexicalWeight:   lexWeight,
	}, nil)
	v := guardrail.NewValidator(guardrail.Rules{})
	return pipeline.New(r, gen, v, e.traces, pipeline.Config{}, nil)
}

// ask embeds the question with the same embedder that built the snapshot.
func (e *testEnv) ask(t *testing.T, p *pipeline.Pipeline, question string) *models.PipelineResult {
	t.Helper()
	ctx := context.Background()
	emb, err := e.embedder.Embed(ctx, question)
	if err != nil {
		t.Fatalf("embed question: %v", err)
	}
	idx := e.manager.Current()
	if idx == nil {
		t.Fatal("no snapshot published")
	}
	result, err := p.Ask(ctx, idx, &models.Query{Text: question, Embedding: emb, Intent: models.IntentHowTo})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	return result
}

func TestPipeline_EndToEndAnswered(t *testing.T) {
	env := setup(t)
	// Ask with the exact passage text so the mock embedding matches exactly.
	question := corpus[0].Text
	gen := &scriptGen{answers: []string{"Centrifuge at 3000 rpm [protocol_001 pp. 3-5]."}}
	p := env.newPipeline(gen, 0)

	result := env.ask(t, p, question)
	if result.Outcome != models.OutcomeAnswered {
		t.Fatalf("outcome = %s, want answered", result.Outcome)
	}
	if len(result.Citations) != 1 || result.Citations[0].DocumentID != "protocol_001" {
		t.Errorf("citations = %v", result.Citations)
	}
	if len(result.UsedPassageIDs) != 1 || result.UsedPassageIDs[0] != "protocol_001:3" {
		t.Errorf("used passage ids = %v", result.UsedPassageIDs)
	}
}

func TestPipeline_FabricationCaughtThenRefused(t *testing.T) {
	env := setup(t)
	gen := &scriptGen{answers: []string{
		"Centrifuge at 3000 rpm [protocol_999 pp. 1-2].",
		"Centrifuge at 3000 rpm [protocol_999 pp. 1-2].",
	}}
	p := env.newPipeline(gen, 0)

	result := env.ask(t, p, corpus[0].Text)
	if result.Outcome != models.OutcomeRefusedValidationFailed {
		t.Fatalf("outcome = %s, want refused_validation_failed", result.Outcome)
	}
	if !strings.Contains(result.AnswerText, "I do not have enough grounded context") {
		t.Errorf("refusal text missing, got %q", result.AnswerText)
	}
	if gen.calls != 2 {
		t.Errorf("generator called %d times, want 2", gen.calls)
	}
}

func TestPipeline_LexicalFusionRetrieves(t *testing.T) {
	env := setup(t)
	gen := &scriptGen{answers: []string{"Store the buffer cold [protocol_001 p. 8]."}}
	p := env.newPipeline(gen, 0.5)

	// The question is the notes passage verbatim, so both legs agree: the
	// vector leg scores it 1.0 and Bleve ranks it first on keyword overlap.
	// This drives the full fusion path over a real Bleve index.
	result := env.ask(t, p, corpus[1].Text)
	if result.Outcome != models.OutcomeAnswered {
		t.Fatalf("outcome = %s, want answered", result.Outcome)
	}
	if result.UsedPassageIDs[0] != "protocol_001:8" {
		t.Errorf("used passage ids = %v", result.UsedPassageIDs)
	}
}

func TestPipeline_SnapshotHotSwap(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	// Build a second snapshot holding only the results passage.
	idx2, err := vector.NewMemoryIndex("v2", 32)
	if err != nil {
		t.Fatal(err)
	}
	emb, _ := env.embedder.Embed(ctx, corpus[2].Text)
	if err := idx2.Add([]string{corpus[2].ID}, [][]float32{emb}); err != nil {
		t.Fatal(err)
	}
	if !env.manager.Publish(idx2) {
		t.Fatal("newer snapshot must publish")
	}

	if got := env.manager.Current().Version(); got != "v2" {
		t.Fatalf("current snapshot = %s, want v2", got)
	}
	gen := &scriptGen{answers: []string{"Yield improved by forty percent [study_042 pp. 11-12]."}}
	p := env.newPipeline(gen, 0)
	result := env.ask(t, p, corpus[2].Text)
	if result.Outcome != models.OutcomeAnswered {
		t.Fatalf("outcome = %s, want answered", result.Outcome)
	}
	if result.UsedPassageIDs[0] != "study_042:11" {
		t.Errorf("used passage ids = %v", result.UsedPassageIDs)
	}
}
