// Package vector provides the passage-embedding index and similarity search.
package vector

import (
	"context"
	"fmt"
)

// Result is a single nearest-neighbor hit: the passage id and its
// inner-product similarity against the query vector (cosine similarity for
// normalized vectors, in [-1, 1]).
type Result struct {
	PassageID string
	Score     float64
}

// Index is the search contract the pipeline consumes. An Index is one named,
// immutable snapshot: it is never mutated once loaded, so concurrent queries
// share it without locking.
type Index interface {
	// Search returns up to k results ordered by descending score.
	// Returns InvalidQueryError when the query dimensionality does not match
	// the index, or k < 1.
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	// Version is the snapshot identifier this index was loaded from.
	Version() string
	// Dimensions is the fixed embedding dimensionality D.
	Dimensions() int
	Size() int
}

// InvalidQueryError reports a malformed query vector. Fatal for the
// invocation: it is surfaced to the caller, never retried.
type InvalidQueryError struct {
	Got      int
	Expected int
	Reason   string
}

func (e *InvalidQueryError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid query: %s", e.Reason)
	}
	return fmt.Sprintf("invalid query: dimension mismatch: got %d, expected %d", e.Got, e.Expected)
}

// InnerProduct returns the inner product of two vectors (equals cosine
// similarity for normalized vectors).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}
