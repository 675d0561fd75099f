package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/embedding"
	"afpbot/internal/logger"
	"afpbot/internal/vectorstore"
)

// Retriever is the query-side facade over one vector store. Callers only ever
// see the domain error taxonomy, never adapter-specific failures.
type Retriever struct {
	kind  config.StoreKind
	store vectorstore.Store
	log   *slog.Logger
}

var _ vectorstore.Store = (*Retriever)(nil)

// NewRetriever wraps store. A nil store is allowed and makes every query fail
// with domain.ErrStoreUnavailable; kind names the configured backend for reporting.
func NewRetriever(kind config.StoreKind, store vectorstore.Store, log *slog.Logger) *Retriever {
	if log == nil {
		log = logger.Nop()
	}
	if store != nil {
		kind = store.Kind()
	}
	return &Retriever{kind: kind, store: store, log: log}
}

func (r *Retriever) Kind() config.StoreKind { return r.kind }

func (r *Retriever) IsAvailable() bool {
	return r.store != nil && r.store.IsAvailable()
}

func (r *Retriever) Status() domain.StoreStatus {
	if r.store == nil {
		return domain.StoreStatus{Reason: "vector store was not constructed"}
	}
	return r.store.Status()
}

// Ready reports whether a store instance exists, available or not.
func (r *Retriever) Ready() bool { return r.store != nil }

// SimilaritySearch returns up to k chunks for query, most relevant first.
func (r *Retriever) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if r.store == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, r.Status().Reason)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}

	start := time.Now()
	results, err := r.store.SimilaritySearch(ctx, query, k)
	if err != nil {
		err = translate(err)
		if errors.Is(err, domain.ErrBackendQuery) {
			r.log.Error("similarity search failed", "store", string(r.kind), "k", k, "err", err)
		} else {
			r.log.Warn("similarity search rejected", "store", string(r.kind), "k", k, "err", err)
		}
		return nil, err
	}
	r.log.Debug("similarity search", "store", string(r.kind), "k", k, "results", len(results), "elapsed", time.Since(start))
	return results, nil
}

// Ingest forwards to the store unchanged.
func (r *Retriever) Ingest(ctx context.Context, chunks []domain.Chunk, emb embedding.Embedder) error {
	if r.store == nil {
		return fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, r.Status().Reason)
	}
	return r.store.Ingest(ctx, chunks, emb)
}

func (r *Retriever) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// translate maps anything outside the taxonomy to domain.ErrBackendQuery.
func translate(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) ||
		errors.Is(err, domain.ErrBackendQuery) ||
		errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrBackendQuery, err)
}
