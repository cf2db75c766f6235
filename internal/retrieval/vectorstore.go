package retrieval

import (
	"context"
	"time"
)

// VectorStore is the interface for vector storage and similarity search over
// the solution catalog. The default implementation uses SQLite with
// brute-force cosine similarity; an ANN-capable backend can be swapped in
// behind this interface when the catalog outgrows a linear scan.
type VectorStore interface {
	// Insert adds records to the store.
	Insert(ctx context.Context, records []Record) error

	// Search returns the top-K records most similar to the query vector,
	// score descending.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteBySolution removes all records for a solution ID.
	DeleteBySolution(ctx context.Context, solutionID string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Record is one embedded chunk of a solution document.
type Record struct {
	ID         string
	SolutionID string
	ProblemTag string
	Step       int
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a cosine similarity score attached.
// The embedding is omitted from search results.
type ScoredRecord struct {
	Record
	Score float64
}
