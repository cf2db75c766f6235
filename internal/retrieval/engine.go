package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/atendeai/helpdesk/internal/storage"
)

const (
	// DefaultSimilarityThreshold is the minimum cosine score for a vector
	// candidate to be considered.
	DefaultSimilarityThreshold = 0.7
	// DefaultMaxResults caps the ranked result set.
	DefaultMaxResults = 5
)

// RankedResult is one candidate remediation procedure with its score.
// Lexical-fallback candidates carry a zero score and rank after vector hits.
type RankedResult struct {
	Solution storage.Solution `json:"solution"`
	Score    float64          `json:"score"`
}

// SearchOptions tune a single search call. Zero values use defaults.
type SearchOptions struct {
	SimilarityThreshold float64
	MaxResults          int
	Category            string
	ProblemTag          string
	MaxDifficulty       int
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	return o
}

// Catalog is the subset of the relational store the engine needs.
// Implemented by *storage.Store.
type Catalog interface {
	SolutionByID(ctx context.Context, id string) (storage.Solution, error)
	SolutionByTagStep(ctx context.Context, tag string, step int) (storage.Solution, error)
	HasStep(ctx context.Context, tag string, step int) (bool, error)
	LexicalSearch(ctx context.Context, terms []string, category string, limit int) ([]storage.Solution, error)
}

// Embedder produces a query embedding; implemented by *embed.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine produces ranked remediation candidates for a query. Vector search
// and lexical search run as two legs: the vector leg degrades silently when
// the embedding oracle or vector store fails, while a lexical (catalog) leg
// failure is a real error the caller must treat as requiring escalation
// rather than "no solution found".
type Engine struct {
	cache    *Cache
	embedder Embedder
	vectors  VectorStore
	catalog  Catalog
}

// NewEngine wires the retrieval engine.
func NewEngine(cache *Cache, embedder Embedder, vectors VectorStore, catalog Catalog) *Engine {
	return &Engine{cache: cache, embedder: embedder, vectors: vectors, catalog: catalog}
}

// Search returns ranked candidates for a free-text query, consulting the
// cache first. An empty result with a nil error is a normal outcome.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]RankedResult, error) {
	opts = opts.withDefaults()

	if results, ok := e.cache.Get(ctx, query); ok {
		return capResults(results, opts.MaxResults), nil
	}

	var vectorResults []RankedResult
	var lexicalResults []storage.Solution

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Oracle or vector store failure degrades to lexical-only.
		res, err := e.vectorSearch(gCtx, query, opts)
		if err != nil {
			slog.Warn("vector search degraded to lexical-only", "error", err)
			return nil
		}
		vectorResults = res
		return nil
	})
	g.Go(func() error {
		res, err := e.catalog.LexicalSearch(gCtx, queryTerms(query), opts.Category, opts.MaxResults)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexicalResults = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeResults(vectorResults, lexicalResults, opts)
	merged = capResults(merged, opts.MaxResults)

	e.cache.Put(ctx, query, merged)
	return merged, nil
}

// ByTagStep bypasses similarity scoring: direct lookup of one step of a known
// procedure. Returns storage.ErrNotFound when the step does not exist.
func (e *Engine) ByTagStep(ctx context.Context, tag string, step int) (storage.Solution, error) {
	return e.catalog.SolutionByTagStep(ctx, tag, step)
}

// HasNextStep reports whether step+1 exists for the tag. The absence of a
// next step is the sole terminal signal for a procedure.
func (e *Engine) HasNextStep(ctx context.Context, tag string, step int) (bool, error) {
	return e.catalog.HasStep(ctx, tag, step+1)
}

func (e *Engine) vectorSearch(ctx context.Context, query string, opts SearchOptions) ([]RankedResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Over-fetch: several chunks may map to the same solution.
	scored, err := e.vectors.Search(ctx, vec, opts.MaxResults*3)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	best := make(map[string]float64)
	for _, s := range scored {
		if s.Score < opts.SimilarityThreshold {
			continue
		}
		if prev, ok := best[s.SolutionID]; !ok || s.Score > prev {
			best[s.SolutionID] = s.Score
		}
	}

	var results []RankedResult
	for id, score := range best {
		sol, err := e.catalog.SolutionByID(ctx, id)
		if err != nil {
			if err == storage.ErrNotFound {
				slog.Warn("vector record references missing solution", "solution_id", id)
				continue
			}
			return nil, fmt.Errorf("loading solution %s: %w", id, err)
		}
		if !matchesFilters(sol, opts) {
			continue
		}
		results = append(results, RankedResult{Solution: sol, Score: score})
	}
	return results, nil
}

// mergeResults combines the vector and lexical candidate sets, deduplicating
// by solution ID with the vector score winning, and ranks by score
// descending with ties broken by lower step then newer update time.
func mergeResults(vector []RankedResult, lexical []storage.Solution, opts SearchOptions) []RankedResult {
	seen := make(map[string]bool, len(vector))
	merged := make([]RankedResult, 0, len(vector)+len(lexical))
	for _, r := range vector {
		seen[r.Solution.ID] = true
		merged = append(merged, r)
	}
	for _, sol := range lexical {
		if seen[sol.ID] || !matchesFilters(sol, opts) {
			continue
		}
		merged = append(merged, RankedResult{Solution: sol, Score: 0})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Solution.Step != b.Solution.Step {
			return a.Solution.Step < b.Solution.Step
		}
		return a.Solution.UpdatedAt.After(b.Solution.UpdatedAt)
	})
	return merged
}

func matchesFilters(sol storage.Solution, opts SearchOptions) bool {
	if opts.Category != "" && sol.Category != opts.Category {
		return false
	}
	if opts.ProblemTag != "" && sol.ProblemTag != opts.ProblemTag {
		return false
	}
	if opts.MaxDifficulty > 0 && sol.Difficulty > opts.MaxDifficulty {
		return false
	}
	return true
}

func capResults(results []RankedResult, max int) []RankedResult {
	if len(results) > max {
		return results[:max]
	}
	return results
}

// queryTerms splits a query into lexical search terms, dropping short tokens
// that would match everything.
func queryTerms(query string) []string {
	fields := strings.Fields(NormalizeQuery(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}
