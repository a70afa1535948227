// Package trace records pipeline invocations for audit and debugging.
// Every invocation produces one record: the question, the exact prompts,
// the raw answers, the validation verdicts, and the terminal outcome.
package trace

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stratolab/citeguard/internal/models"
)

// CandidateRef identifies one retrieved passage inside a trace record,
// without duplicating the passage text.
type CandidateRef struct {
	PassageID  string  `json:"passage_id"`
	DocumentID string  `json:"document_id"`
	Similarity float64 `json:"similarity"`
	Boosted    float64 `json:"boosted"`
	Rank       int     `json:"rank"`
}

// Record is the full audit trail of one pipeline invocation.
type Record struct {
	ID              string                 `json:"id"`
	Question        string                 `json:"question"`
	SnapshotVersion string                 `json:"snapshot_version"`
	Candidates      []CandidateRef         `json:"candidates"`
	Attempts        []models.AnswerAttempt `json:"attempts"`
	Outcome         models.Outcome         `json:"outcome"`
	Citations       []models.Citation      `json:"citations"`
	SystemError     bool                   `json:"system_error,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// NewRecord creates a record with a fresh id and timestamp.
func NewRecord(question, snapshotVersion string) *Record {
	return &Record{
		ID:              uuid.New().String(),
		Question:        question,
		SnapshotVersion: snapshotVersion,
		CreatedAt:       time.Now().UTC(),
	}
}

// SetCandidates captures the retrieved candidate set by reference.
func (r *Record) SetCandidates(candidates []*models.Candidate) {
	r.Candidates = make([]CandidateRef, 0, len(candidates))
	for _, c := range candidates {
		r.Candidates = append(r.Candidates, CandidateRef{
			PassageID:  c.ID,
			DocumentID: c.DocumentID,
			Similarity: c.Similarity,
			Boosted:    c.Boosted,
			Rank:       c.Rank,
		})
	}
}

// Sink persists trace records. Emit failures must never fail the invocation
// being traced; callers log and move on.
type Sink interface {
	Emit(ctx context.Context, rec *Record) error
	Close() error
}
