package guardrail

import (
	"regexp"
	"strconv"

	"github.com/stratolab/citeguard/internal/models"
)

// citationRe matches the required citation marker format:
// [document_id pp. 3-5] for a range, [document_id p. 3] for a single page.
// Document ids are the identifiers used in the context blocks: alphanumerics
// plus underscore, dot, and hyphen.
var citationRe = regexp.MustCompile(`\[([A-Za-z0-9][A-Za-z0-9_.-]*)\s+pp?\.\s*(\d+)(?:\s*[-–]\s*(\d+))?\]`)

// ParseCitations scans answer text for citation markers and returns them in
// order of first appearance, deduplicated. Markers that do not match the
// required format are ignored and therefore count as missing.
func ParseCitations(text string) []models.Citation {
	matches := citationRe.FindAllStringSubmatch(text, -1)
	seen := make(map[models.Citation]bool, len(matches))
	citations := make([]models.Citation, 0, len(matches))
	for _, m := range matches {
		start, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		end := start
		if m[3] != "" {
			end, err = strconv.Atoi(m[3])
			if err != nil {
				continue
			}
		}
		if start > end {
			// Inverted ranges are malformed, not citations.
			continue
		}
		c := models.Citation{DocumentID: m[1], PageStart: start, PageEnd: end}
		if seen[c] {
			continue
		}
		seen[c] = true
		citations = append(citations, c)
	}
	return citations
}

// UsedPassageIDs returns the ids of candidates covering any of the given
// citations, ordered by candidate rank and deduplicated. This is the subset
// of retrieved passages the answer actually leaned on.
func UsedPassageIDs(citations []models.Citation, candidates []*models.Candidate) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, cand := range candidates {
		if seen[cand.ID] {
			continue
		}
		for _, c := range citations {
			if c.CoveredBy(cand) {
				seen[cand.ID] = true
				ids = append(ids, cand.ID)
				break
			}
		}
	}
	return ids
}
