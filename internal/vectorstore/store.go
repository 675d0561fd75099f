package vectorstore

import (
	"context"

	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/embedding"
)

// Store is the retrieval contract shared by every backend.
//
// SimilaritySearch returns at most k results, most relevant first. It fails with
// domain.ErrStoreUnavailable when no index or connection exists and with
// domain.ErrBackendQuery when the backend call itself fails; zero matches is an
// empty slice and a nil error.
//
// Ingest replaces the store contents with chunks, creating the index or
// collection (cosine metric, configured dimension) when absent. A nil embedder
// falls back to the store's own.
//
// IsAvailable and Status read a cached flag and never touch the network.
type Store interface {
	Kind() config.StoreKind
	SimilaritySearch(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
	Ingest(ctx context.Context, chunks []domain.Chunk, emb embedding.Embedder) error
	IsAvailable() bool
	Status() domain.StoreStatus
	Close() error
}
