// Package lexical provides a Bleve keyword index over passage text, used as
// an optional fusion signal during retrieval.
package lexical

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/stratolab/citeguard/internal/models"
	"github.com/stratolab/citeguard/internal/store"
)

// Result is one keyword hit: the passage id and Bleve's raw relevance score.
type Result struct {
	PassageID string
	Score     float64
}

// Index is the keyword search contract consumed by the retriever.
type Index interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	Close() error
}

// indexedPassage is the shape Bleve indexes per passage.
type indexedPassage struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
}

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is
// reused; remove the directory to force a rebuild after mapping changes.
// The standard analyzer (lowercase + tokenize, no stemming) keeps protocol
// identifiers like "protocol_017" searchable verbatim.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("document_id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("passage", docMapping)
	im.DefaultType = "passage"
	im.DefaultMapping = docMapping

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexPassage indexes one passage by id.
func (b *BleveIndex) IndexPassage(ctx context.Context, p *models.Passage) error {
	return b.index.Index(p.ID, indexedPassage{Text: p.Text, DocumentID: p.DocumentID})
}

// BuildFromStore derives the keyword index from the chunk store, reading in
// pages. The store stays untouched; this is a read-only projection.
func (b *BleveIndex) BuildFromStore(ctx context.Context, s store.Store) (int, error) {
	const pageSize = 500
	total := 0
	for offset := 0; ; offset += pageSize {
		passages, err := s.ListPassages(ctx, offset, pageSize)
		if err != nil {
			return total, fmt.Errorf("list passages: %w", err)
		}
		if len(passages) == 0 {
			return total, nil
		}
		batch := b.index.NewBatch()
		for _, p := range passages {
			if err := batch.Index(p.ID, indexedPassage{Text: p.Text, DocumentID: p.DocumentID}); err != nil {
				return total, fmt.Errorf("batch index %s: %w", p.ID, err)
			}
		}
		if err := b.index.Batch(batch); err != nil {
			return total, fmt.Errorf("apply batch: %w", err)
		}
		total += len(passages)
	}
}

// Search runs a match query over passage text and returns up to limit hits.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("text")
	req := bleve.NewSearchRequestOptions(matchQuery, limit, 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}
	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, Result{PassageID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// NormalizeScores maps raw scores to [0, 1] by dividing by the maximum.
// Returns an empty map for no results.
func NormalizeScores(results []Result) map[string]float64 {
	if len(results) == 0 {
		return map[string]float64{}
	}
	max := results[0].Score
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	norm := make(map[string]float64, len(results))
	for _, r := range results {
		if max > 0 {
			norm[r.PassageID] = r.Score / max
		} else {
			norm[r.PassageID] = 0
		}
	}
	return norm
}
