// Package kb imports remediation manuals into the solution catalog and the
// vector store. A manual is one document per problem tag; its sections become
// the ordered (tag, step) procedure the dialog walks through.
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atendeai/helpdesk/internal/embed"
	"github.com/atendeai/helpdesk/internal/retrieval"
	"github.com/atendeai/helpdesk/internal/storage"
)

// Document formats accepted by the importer.
const (
	FormatText = "text"
	FormatHTML = "html"
	FormatPDF  = "pdf"
)

// Document is one inbound remediation manual.
type Document struct {
	ProblemTag string
	Category   string
	Difficulty int
	Keywords   string
	Format     string // text, html or pdf
	Content    []byte
}

// Catalog abstracts the solution persistence the importer needs.
// Implemented by storage.Store.
type Catalog interface {
	SaveSolution(ctx context.Context, sol storage.Solution) error
	MaxStep(ctx context.Context, tag string) (int, error)
}

// VectorWriter abstracts the vector store side.
// Implemented by *retrieval.SQLiteStore.
type VectorWriter interface {
	Insert(ctx context.Context, records []retrieval.Record) error
	DeleteBySolution(ctx context.Context, solutionID string) error
}

// Importer turns documents into solution steps plus their embeddings.
type Importer struct {
	catalog  Catalog
	embedder embed.Embedder
	vectors  VectorWriter
	logger   *slog.Logger
}

// New creates an Importer. embedder may be nil; the catalog is then
// populated without vectors and retrieval degrades to lexical search.
func New(catalog Catalog, embedder embed.Embedder, vectors VectorWriter) *Importer {
	return &Importer{
		catalog:  catalog,
		embedder: embedder,
		vectors:  vectors,
		logger:   slog.Default(),
	}
}

// Report summarizes one import.
type Report struct {
	ProblemTag string
	Steps      int
	Vectors    int
}

// Import parses the document, appends its sections as the next steps of the
// problem tag's procedure, and embeds each section.
func (i *Importer) Import(ctx context.Context, doc Document) (*Report, error) {
	if doc.ProblemTag == "" {
		return nil, fmt.Errorf("problem tag is required")
	}

	text, err := extractText(doc)
	if err != nil {
		return nil, err
	}

	sections := splitSections(text)
	if len(sections) == 0 {
		return nil, fmt.Errorf("document for %s contains no usable sections", doc.ProblemTag)
	}

	// Steps stay contiguous: new sections continue after the last stored step.
	base, err := i.catalog.MaxStep(ctx, doc.ProblemTag)
	if err != nil {
		return nil, fmt.Errorf("reading max step for %s: %w", doc.ProblemTag, err)
	}

	now := time.Now().UTC()
	report := &Report{ProblemTag: doc.ProblemTag}

	for n, sec := range sections {
		sol := storage.Solution{
			ID:             uuid.NewString(),
			ProblemTag:     doc.ProblemTag,
			Step:           base + n + 1,
			Title:          sec.title,
			Content:        sec.body,
			ProceduresJSON: proceduresJSON(sec),
			Keywords:       doc.Keywords,
			Category:       doc.Category,
			Difficulty:     doc.Difficulty,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := i.catalog.SaveSolution(ctx, sol); err != nil {
			return nil, fmt.Errorf("saving step %d of %s: %w", sol.Step, doc.ProblemTag, err)
		}
		report.Steps++

		if i.embedder == nil || i.vectors == nil {
			continue
		}
		if err := i.embedSolution(ctx, sol); err != nil {
			// The catalog row is already in place; lexical search still
			// covers it, so log and keep importing.
			i.logger.Warn("embedding failed, step is lexical-only",
				"problem_tag", doc.ProblemTag, "step", sol.Step, "error", err)
			continue
		}
		report.Vectors++
	}

	return report, nil
}

// Reindex re-embeds one solution, replacing its existing vectors.
func (i *Importer) Reindex(ctx context.Context, sol storage.Solution) error {
	if i.embedder == nil || i.vectors == nil {
		return fmt.Errorf("no embedder configured")
	}
	if err := i.vectors.DeleteBySolution(ctx, sol.ID); err != nil {
		return fmt.Errorf("clearing vectors for %s: %w", sol.ID, err)
	}
	return i.embedSolution(ctx, sol)
}

func (i *Importer) embedSolution(ctx context.Context, sol storage.Solution) error {
	chunks := chunkText(sol.Title+"\n"+sol.Content, 1000)
	vecs, err := embed.Batch(ctx, i.embedder, chunks)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for n := range chunks {
		records[n] = retrieval.Record{
			ID:         uuid.NewString(),
			SolutionID: sol.ID,
			ProblemTag: sol.ProblemTag,
			Step:       sol.Step,
			TextChunk:  chunks[n],
			Embedding:  vecs[n],
			CreatedAt:  now,
		}
	}
	return i.vectors.Insert(ctx, records)
}

// section is one step-to-be of the parsed manual.
type section struct {
	title string
	body  string
	items []string
}

// splitSections cuts extracted text into steps. A line starting with "#" (any
// depth) or "Passo N" opens a new section; the first line of a headingless
// document doubles as its title.
func splitSections(text string) []section {
	var sections []section
	var cur *section

	flush := func() {
		if cur != nil && (cur.title != "" || cur.body != "") {
			cur.body = strings.TrimSpace(cur.body)
			sections = append(sections, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if cur != nil {
				cur.body += "\n"
			}
			continue
		}

		if isHeading(trimmed) {
			flush()
			cur = &section{title: strings.TrimSpace(strings.TrimLeft(trimmed, "# "))}
			continue
		}

		if cur == nil {
			cur = &section{title: trimmed}
			continue
		}
		if item, ok := listItem(trimmed); ok {
			cur.items = append(cur.items, item)
		}
		cur.body += trimmed + "\n"
	}
	flush()

	return sections
}

func isHeading(line string) bool {
	if strings.HasPrefix(line, "#") {
		return true
	}
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "passo ") && len(line) < 80
}

func listItem(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	if len(line) > 2 && line[0] >= '1' && line[0] <= '9' && (line[1] == '.' || line[1] == ')') {
		return strings.TrimSpace(line[2:]), true
	}
	return "", false
}

// proceduresJSON serializes the section's list items in the shape the reply
// templates render. Sections without list items keep an empty procedures
// field and are rendered from their body text.
func proceduresJSON(sec section) string {
	if len(sec.items) == 0 {
		return ""
	}
	type procedure struct {
		Order       int    `json:"order"`
		Instruction string `json:"instruction"`
	}
	procs := make([]procedure, len(sec.items))
	for n, item := range sec.items {
		procs[n] = procedure{Order: n + 1, Instruction: item}
	}
	data, err := json.Marshal(procs)
	if err != nil {
		return ""
	}
	return string(data)
}

// chunkText splits text into roughly maxRunes-sized chunks on paragraph
// boundaries.
func chunkText(text string, maxRunes int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	var b strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if b.Len() > 0 && len([]rune(b.String()+para)) > maxRunes {
			chunks = append(chunks, strings.TrimSpace(b.String()))
			b.Reset()
		}
		b.WriteString(para)
		b.WriteString("\n\n")
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
