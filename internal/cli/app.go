package cli

import (
	"context"
	"fmt"
	"time"

	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/embedding"
	"afpbot/internal/embedding/hashing"
	"afpbot/internal/embedding/openai"
	"afpbot/internal/service"
	"afpbot/internal/vectorstore"
)

func newEmbedder() (embedding.Embedder, error) {
	e := appCfg.Embedder
	switch e.Type {
	case "hashing", "":
		return hashing.NewEmbedder(e.Dimension), nil
	case "openai":
		o := e.OpenAI
		if o == nil {
			o = &config.OpenAIEmbedderConfig{APIKeyEnv: "OPENAI_API_KEY"}
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:    o.BaseURL,
			APIKeyEnv:  o.APIKeyEnv,
			Model:      e.Model,
			Dimension:  e.Dimension,
			Timeout:    time.Duration(o.TimeoutSecs) * time.Second,
			MaxRetries: o.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: openai embedder: %w", domain.ErrConfiguration, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrConfiguration, e.Type)
	}
}

// openRetriever builds the configured store behind the retrieval facade.
// Configuration problems are fatal; an unreachable backend is not.
func openRetriever(ctx context.Context) (*service.Retriever, embedding.Embedder, error) {
	emb, err := newEmbedder()
	if err != nil {
		return nil, nil, err
	}
	r, err := openStore(ctx, appCfg.Store(), emb)
	if err != nil {
		return nil, nil, err
	}
	return r, emb, nil
}

// openStore builds the store described by sc through the factory.
func openStore(ctx context.Context, sc config.StoreConfig, emb embedding.Embedder) (*service.Retriever, error) {
	kind, err := sc.Kind()
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.New(ctx, sc, emb, appLog)
	if err != nil {
		return nil, err
	}
	return service.NewRetriever(kind, store, appLog), nil
}
