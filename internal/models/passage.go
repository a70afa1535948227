// Package models defines core data structures for passages, candidates, and pipeline results.
package models

import "fmt"

// SectionLabel classifies which part of a document a passage came from.
// The set is closed: the retriever's section-priority boost branches on it.
type SectionLabel string

const (
	SectionTitleAbstract SectionLabel = "title_abstract"
	SectionMethods       SectionLabel = "methods"
	SectionResults       SectionLabel = "results"
	SectionDiscussion    SectionLabel = "discussion"
	SectionNotes         SectionLabel = "notes"
	SectionUnknown       SectionLabel = "unknown"
)

// ParseSectionLabel maps a stored label string to a SectionLabel.
// Unrecognized labels map to SectionUnknown rather than failing, so stale
// metadata never breaks retrieval.
func ParseSectionLabel(s string) SectionLabel {
	switch SectionLabel(s) {
	case SectionTitleAbstract, SectionMethods, SectionResults, SectionDiscussion, SectionNotes:
		return SectionLabel(s)
	default:
		return SectionUnknown
	}
}

// Passage is one retrievable unit of document text with location metadata.
// Passages are read-only from the pipeline's perspective.
type Passage struct {
	ID           string       `json:"passage_id" db:"id"`
	DocumentID   string       `json:"document_id" db:"document_id"`
	SectionLabel SectionLabel `json:"section_label" db:"section_label"`
	PageStart    int          `json:"page_start" db:"page_start"`
	PageEnd      int          `json:"page_end" db:"page_end"`
	Text         string       `json:"text" db:"text"`
	Embedding    []float32    `json:"-" db:"-"`
}

// Validate checks the passage invariants (non-empty ids, page_start <= page_end).
func (p *Passage) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("passage id cannot be empty")
	}
	if p.DocumentID == "" {
		return fmt.Errorf("passage %s: document id cannot be empty", p.ID)
	}
	if p.PageStart > p.PageEnd {
		return fmt.Errorf("passage %s: page_start %d > page_end %d", p.ID, p.PageStart, p.PageEnd)
	}
	return nil
}

// Candidate is a Passage scored and ranked for one query. Candidates are
// produced fresh per query and never persisted.
type Candidate struct {
	Passage
	// Similarity is the raw inner-product score from the vector index, in [-1, 1].
	Similarity float64 `json:"similarity_score"`
	// Boosted is Similarity after lexical fusion and the section-priority boost.
	Boosted float64 `json:"boosted_score"`
	// Rank is the 0-based position in the final ranking order.
	Rank int `json:"rank"`
}

// Citation is one resolved source reference in a validated answer.
type Citation struct {
	DocumentID string `json:"document_id"`
	PageStart  int    `json:"page_start"`
	PageEnd    int    `json:"page_end"`
}

// String renders the citation in the marker format required of generated answers.
func (c Citation) String() string {
	if c.PageStart == c.PageEnd {
		return fmt.Sprintf("[%s p. %d]", c.DocumentID, c.PageStart)
	}
	return fmt.Sprintf("[%s pp. %d-%d]", c.DocumentID, c.PageStart, c.PageEnd)
}

// CoveredBy reports whether the citation falls within candidate c2: same
// document and the cited page range contained in the candidate's range.
func (c Citation) CoveredBy(cand *Candidate) bool {
	return c.DocumentID == cand.DocumentID &&
		c.PageStart >= cand.PageStart &&
		c.PageEnd <= cand.PageEnd
}
