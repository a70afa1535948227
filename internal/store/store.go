// Package store defines the read-side chunk store the pipeline resolves
// passages from.
package store

import (
	"context"
	"fmt"

	"github.com/stratolab/citeguard/internal/models"
)

// Store maps passage ids to passage text and location metadata. The pipeline
// only reads; writes belong to the ingestion side.
type Store interface {
	// GetPassage returns the passage for id. Returns a *NotFoundError when the
	// id is stale relative to the index snapshot.
	GetPassage(ctx context.Context, id string) (*models.Passage, error)
	// ListPassages returns passages ordered by id, for read-only derivations
	// such as building the lexical index.
	ListPassages(ctx context.Context, offset, limit int) ([]*models.Passage, error)
	CountPassages(ctx context.Context) (int64, error)

	// Write side, used by ingestion and test fixtures.
	CreatePassage(ctx context.Context, p *models.Passage) error
	BatchCreatePassages(ctx context.Context, ps []*models.Passage) error

	Close() error
}

// NotFoundError reports a passage id with no backing row. The retriever
// recovers locally by dropping the candidate; it is never retried.
type NotFoundError struct {
	PassageID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("passage not found: %s", e.PassageID)
}
