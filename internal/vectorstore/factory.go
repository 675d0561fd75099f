package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/embedding"
	"afpbot/internal/vectorstore/flat"
	"afpbot/internal/vectorstore/pinecone"
	"afpbot/internal/vectorstore/weaviate"
)

var (
	_ Store = (*flat.Store)(nil)
	_ Store = (*pinecone.Store)(nil)
	_ Store = (*weaviate.Store)(nil)
)

// New builds the adapter selected by cfg.Type. Unknown kinds fail before any
// connection is attempted. Backends that cannot be reached are returned in an
// unavailable state rather than as an error.
func New(ctx context.Context, cfg config.StoreConfig, emb embedding.Embedder, log *slog.Logger) (Store, error) {
	kind, err := cfg.Kind()
	if err != nil {
		return nil, err
	}
	if emb != nil && emb.Dimension() != cfg.Dimension {
		return nil, fmt.Errorf("%w: embedder %s produces %d dimensions, store expects %d",
			domain.ErrConfiguration, emb.Name(), emb.Dimension(), cfg.Dimension)
	}

	var s Store
	switch kind {
	case config.KindFlat:
		s, err = flat.New(ctx, flat.Config{
			Path:        cfg.Flat.Path,
			Dimension:   cfg.Dimension,
			Concurrency: cfg.Concurrency,
		}, emb, log)
	case config.KindPinecone:
		p := cfg.Pinecone
		s, err = pinecone.New(ctx, pinecone.Config{
			APIKey:        p.APIKey,
			IndexName:     p.IndexName,
			Cloud:         p.Cloud,
			Region:        p.Region,
			Namespace:     p.Namespace,
			ControllerURL: p.ControllerURL,
			Dimension:     cfg.Dimension,
			Timeout:       seconds(p.TimeoutSecs),
			BatchSize:     p.BatchSize,
			UpsertRPS:     p.UpsertRPS,
			Concurrency:   cfg.Concurrency,
		}, emb, log)
	case config.KindWeaviate:
		w := cfg.Weaviate
		s, err = weaviate.New(ctx, weaviate.Config{
			URL:         w.URL,
			APIKey:      w.APIKey,
			Collection:  w.Collection,
			Dimension:   cfg.Dimension,
			Timeout:     seconds(w.TimeoutSecs),
			BatchSize:   w.BatchSize,
			Concurrency: cfg.Concurrency,
		}, emb, log)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedBackend, kind)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
