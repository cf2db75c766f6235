package embed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Embedder is the single-text embedding interface consumed by retrieval and
// the knowledge-base importer. Implemented by *Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Batch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func Batch(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the service.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
