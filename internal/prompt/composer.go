// Package prompt renders the instruction+context payload sent to the
// generation service. Composition is a pure function: no retrieval, no
// network, and byte-for-byte reproducible output for identical inputs.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/stratolab/citeguard/internal/guardrail"
	"github.com/stratolab/citeguard/internal/models"
)

// Context blocks are fenced by these delimiter lines. Passage text is
// neutralized so no candidate can smuggle a fence into the prompt.
const (
	blockOpen  = "<<<PASSAGE>>>"
	blockClose = "<<<END_PASSAGE>>>"
)

var promptTmpl = template.Must(template.New("answer").Parse(`You are a careful research assistant answering questions about scientific and protocol documents.

Rules:
- Answer using ONLY the context passages below. Never invent facts, numbers, procedures, or sources.
- Support every factual statement with a citation marker in exactly this format: [document_id pp. start-end], or [document_id p. n] for a single page. Every answer needs at least {{.MinCitations}} citation(s).
- Cite only documents and page ranges that appear in the context passages. Citing anything else is a violation.
- If the context passages do not contain the information needed to answer, reply with exactly this sentence and nothing else: {{.Refusal}}
{{- if .Intensified}}

COMPLIANCE CHECK FAILED ON YOUR PREVIOUS ANSWER. This is your final attempt. Every citation marker must use the exact [document_id pp. start-end] format and must reference a document id and page range copied verbatim from a context passage below. If you cannot do that, reply with the refusal sentence.
{{- end}}

Context:
{{- if .Blocks}}
{{- range .Blocks}}
{{.}}
{{- end}}
{{- else}}
No context passages were found for this question. Reply with the refusal sentence.
{{- end}}

Question: {{.Question}}
`))

type promptData struct {
	MinCitations int
	Refusal      string
	Intensified  bool
	Blocks       []string
	Question     string
}

// Compose renders the full prompt for question over candidates under rules.
// intensified appends the citation-compliance reminder used on retry attempts.
// If candidates is empty the prompt still renders, steering generation toward
// the refusal path.
func Compose(question string, candidates []*models.Candidate, rules guardrail.Rules, intensified bool) (string, error) {
	rules.ApplyDefaults()
	blocks := make([]string, 0, len(candidates))
	for _, c := range candidates {
		blocks = append(blocks, renderBlock(c))
	}
	var buf bytes.Buffer
	err := promptTmpl.Execute(&buf, promptData{
		MinCitations: rules.MinCitations,
		Refusal:      rules.RefusalSentence,
		Intensified:  intensified,
		Blocks:       blocks,
		Question:     question,
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}

func renderBlock(c *models.Candidate) string {
	var b strings.Builder
	b.WriteString(blockOpen)
	b.WriteString("\n")
	fmt.Fprintf(&b, "document_id: %s\n", Neutralize(c.DocumentID))
	fmt.Fprintf(&b, "section: %s\n", c.SectionLabel)
	fmt.Fprintf(&b, "pages: %d-%d\n", c.PageStart, c.PageEnd)
	b.WriteString(Neutralize(c.Text))
	b.WriteString("\n")
	b.WriteString(blockClose)
	return b.String()
}

// Neutralize defuses accidental delimiter collisions in passage text by
// breaking up any "<<<" run, so candidate content can never open or close a
// context block. Deterministic: the same input always maps to the same output.
func Neutralize(text string) string {
	return strings.ReplaceAll(text, "<<<", "< < <")
}
