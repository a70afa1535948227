// Package generate adapts external generation and embedding services.
package generate

import (
	"context"
	"fmt"
)

// Generator invokes the external generation service with a composed prompt.
// Implementations never retry internally; the pipeline owns the retry policy.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
}

// Embedder turns question text into a unit-length query vector. Used by the
// service layer; the pipeline core itself only ever sees embedded queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// UnavailableError reports a transient generation failure (transport error,
// timeout, malformed upstream response). The pipeline retries it within the
// attempt budget and then surfaces a system-error-flagged refusal.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("generation unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
