// Package retrieve selects and ranks candidate passages for one query.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/stratolab/citeguard/internal/lexical"
	"github.com/stratolab/citeguard/internal/models"
	"github.com/stratolab/citeguard/internal/store"
	"github.com/stratolab/citeguard/internal/vector"
)

// Config holds the retrieval policy knobs. Values are fixed at construction;
// retrieval behavior never depends on ambient state.
type Config struct {
	// K is the default number of candidates returned per query.
	K int
	// SimilarityFloor drops vector hits scoring below it. Nil selects the
	// default floor; an explicit zero disables floor filtering.
	SimilarityFloor *float64
	// SectionBoost is added to the similarity of passages whose section
	// matches the query intent's priority section, before re-sorting.
	// Nil selects the default boost; an explicit zero disables boosting.
	SectionBoost *float64
	// RawMultiplier widens the index search to K*RawMultiplier for
	// post-filtering headroom.
	RawMultiplier int
	// LexicalWeight in (0,1] blends normalized keyword scores into the
	// similarity before boosting. Zero disables the keyword leg entirely.
	LexicalWeight float64
}

// ApplyDefaults fills zero values with the standard retrieval policy.
func (c *Config) ApplyDefaults() {
	if c.K <= 0 {
		c.K = 10
	}
	if c.SimilarityFloor == nil {
		floor := 0.2
		c.SimilarityFloor = &floor
	}
	if c.SectionBoost == nil {
		boost := 0.05
		c.SectionBoost = &boost
	}
	if c.RawMultiplier <= 0 {
		c.RawMultiplier = 3
	}
}

// Retriever queries the vector index, filters by similarity floor, resolves
// passages through the chunk store, and applies the section-priority boost.
// It is stateless across queries; the index snapshot is passed per call so a
// snapshot swap is never observable mid-query.
type Retriever struct {
	store   store.Store
	lexical lexical.Index
	config  Config
	logger  *zap.Logger
}

// NewRetriever creates a retriever. lex may be nil; it is only consulted when
// cfg.LexicalWeight > 0.
func NewRetriever(s store.Store, lex lexical.Index, cfg Config, logger *zap.Logger) *Retriever {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: s, lexical: lex, config: cfg, logger: logger}
}

// Retrieve returns the ordered candidate list for q against idx.
//
// An empty result is a valid outcome, not an error: it means the index
// returned nothing or every hit fell below the similarity floor, and the
// pipeline turns it into an insufficient-context refusal.
func (r *Retriever) Retrieve(ctx context.Context, idx vector.Index, q *models.Query) ([]*models.Candidate, error) {
	if err := q.Validate(r.config.K); err != nil {
		return nil, &vector.InvalidQueryError{Reason: err.Error()}
	}

	kRaw := q.K * r.config.RawMultiplier
	hits, err := idx.Search(ctx, q.Embedding, kRaw)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	var lexScores map[string]float64
	if r.config.LexicalWeight > 0 && r.lexical != nil && q.Text != "" {
		lexResults, lexErr := r.lexical.Search(ctx, q.Text, kRaw)
		if lexErr != nil {
			// Keyword leg is a fusion signal, not a source of truth; degrade
			// to pure vector retrieval.
			r.logger.Warn("lexical search failed, using vector scores only", zap.Error(lexErr))
		} else {
			lexScores = lexical.NormalizeScores(lexResults)
		}
	}

	boostedSection := q.Intent.BoostedSection()
	candidates := make([]*models.Candidate, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < *r.config.SimilarityFloor {
			continue
		}
		passage, err := r.store.GetPassage(ctx, hit.PassageID)
		if err != nil {
			var notFound *store.NotFoundError
			if errors.As(err, &notFound) {
				// Stale id relative to the index snapshot: a data integrity
				// fault recovered locally by dropping the candidate.
				r.logger.Warn("dropping stale passage id",
					zap.String("passage_id", hit.PassageID),
					zap.String("snapshot", idx.Version()),
				)
				continue
			}
			return nil, fmt.Errorf("chunk store lookup failed: %w", err)
		}

		score := hit.Score
		if lexScores != nil {
			w := r.config.LexicalWeight
			score = (1-w)*score + w*lexScores[passage.ID]
		}
		boosted := score
		if boostedSection != models.SectionUnknown && passage.SectionLabel == boostedSection {
			boosted += *r.config.SectionBoost
		}
		candidates = append(candidates, &models.Candidate{
			Passage:    *passage,
			Similarity: hit.Score,
			Boosted:    boosted,
		})
	}

	// Stable sort, descending boosted score, ties broken by ascending passage
	// id, so the ordering is reproducible across repeated calls.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Boosted != candidates[j].Boosted {
			return candidates[i].Boosted > candidates[j].Boosted
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > q.K {
		candidates = candidates[:q.K]
	}
	for i := range candidates {
		candidates[i].Rank = i
	}
	return candidates, nil
}
