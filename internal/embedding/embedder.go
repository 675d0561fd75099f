package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"afpbot/internal/domain"
)

// DefaultConcurrency bounds in-flight Embed calls during ingestion.
const DefaultConcurrency = 4

// Embedder converts free text into a fixed-dimension vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedChunks embeds every chunk, at most concurrency at a time, and checks each
// vector against dim. The result is index-aligned with chunks.
func EmbedChunks(ctx context.Context, emb Embedder, chunks []domain.Chunk, dim, concurrency int) ([][]float32, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range chunks {
		g.Go(func() error {
			vec, err := emb.Embed(gctx, chunks[i].Content)
			if err != nil {
				return fmt.Errorf("embed chunk %s: %w", chunks[i].ID, err)
			}
			if err := domain.CheckDimension(vec, dim); err != nil {
				return fmt.Errorf("embed chunk %s: %w", chunks[i].ID, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery embeds a query string and checks its dimension.
func EmbedQuery(ctx context.Context, emb Embedder, query string, dim int) ([]float32, error) {
	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := domain.CheckDimension(vec, dim); err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}
