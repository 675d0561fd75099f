// Package pinecone stores chunks in a serverless Pinecone index over its REST API.
package pinecone

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/embedding"
	"afpbot/internal/logger"
)

const (
	DefaultControllerURL = "https://api.pinecone.io"
	DefaultBatchSize     = 100

	metaText       = "text"
	metaDocumentID = "document_id"
	metaPosition   = "position"
)

// Config configures the Pinecone adapter.
type Config struct {
	APIKey        string
	IndexName     string
	Cloud         string
	Region        string
	Namespace     string
	ControllerURL string
	Dimension     int
	Timeout       time.Duration
	BatchSize     int
	UpsertRPS     float64
	Concurrency   int

	// PollInterval paces readiness checks after index creation.
	PollInterval time.Duration
}

// Store is a handle to one named Pinecone index.
type Store struct {
	cfg     Config
	api     *client
	emb     embedding.Embedder
	log     *slog.Logger
	limiter *rate.Limiter

	ingestMu sync.Mutex

	mu     sync.RWMutex
	host   string
	status domain.StoreStatus
}

// New describes the configured index. A missing index, a dimension mismatch or
// an unreachable control plane leave the store unavailable instead of failing.
func New(ctx context.Context, cfg Config, emb embedding.Embedder, log *slog.Logger) (*Store, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: pinecone api key is required", domain.ErrConfiguration)
	}
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("%w: pinecone index name is required", domain.ErrConfiguration)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: invalid dimension %d", domain.ErrConfiguration, cfg.Dimension)
	}
	if cfg.ControllerURL == "" {
		cfg.ControllerURL = DefaultControllerURL
	}
	cfg.ControllerURL = strings.TrimRight(cfg.ControllerURL, "/")
	if cfg.Cloud == "" {
		cfg.Cloud = "aws"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	limit := rate.Inf
	if cfg.UpsertRPS > 0 {
		limit = rate.Limit(cfg.UpsertRPS)
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Store{
		cfg:     cfg,
		api:     &client{apiKey: cfg.APIKey, http: &http.Client{Timeout: cfg.Timeout}},
		emb:     emb,
		log:     log.With("store", string(config.KindPinecone), "index", cfg.IndexName),
		limiter: rate.NewLimiter(limit, 1),
	}

	desc, err := s.describe(ctx)
	switch {
	case isStatus(err, http.StatusNotFound):
		s.setUnavailable(fmt.Sprintf("index %q does not exist, run ingest", cfg.IndexName))
	case err != nil:
		s.setUnavailable("describe index: " + err.Error())
	case desc.Dimension != cfg.Dimension:
		s.setUnavailable(fmt.Sprintf("index %q %v", cfg.IndexName,
			&domain.DimensionMismatchError{Expected: cfg.Dimension, Actual: desc.Dimension}))
	case !desc.Status.Ready:
		s.setUnavailable(fmt.Sprintf("index %q is not ready (%s)", cfg.IndexName, desc.Status.State))
	default:
		s.setAvailable(desc.Host)
		s.log.Info("connected to pinecone index", "dimension", desc.Dimension, "metric", desc.Metric)
	}
	return s, nil
}

func (s *Store) setUnavailable(reason string) {
	s.mu.Lock()
	s.host = ""
	s.status = domain.StoreStatus{Reason: reason}
	s.mu.Unlock()
	s.log.Warn("pinecone store unavailable", "reason", reason)
}

func (s *Store) setAvailable(host string) {
	s.mu.Lock()
	s.host = dataPlaneURL(host)
	s.status = domain.StoreStatus{Available: true}
	s.mu.Unlock()
}

// dataPlaneURL turns the host reported by the control plane into a base URL.
func dataPlaneURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}

func (s *Store) Kind() config.StoreKind { return config.KindPinecone }

func (s *Store) IsAvailable() bool { return s.Status().Available }

func (s *Store) Status() domain.StoreStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) dataHost() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrInvalidInput, k)
	}
	host := s.dataHost()
	if host == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, s.Status().Reason)
	}
	if s.emb == nil {
		return nil, fmt.Errorf("%w: no embedder configured", domain.ErrBackendQuery)
	}
	vec, err := embedding.EmbedQuery(ctx, s.emb, query, s.cfg.Dimension)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBackendQuery, err)
	}

	var resp queryResponse
	req := queryRequest{Vector: vec, TopK: k, IncludeMetadata: true, Namespace: s.cfg.Namespace}
	if err := s.api.do(ctx, http.MethodPost, host+"/query", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: pinecone index %q: %w", domain.ErrBackendQuery, s.cfg.IndexName, err)
	}

	matches := resp.Matches[:min(k, len(resp.Matches))]
	results := make([]domain.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, domain.SearchResult{Chunk: chunkFromMetadata(m.ID, m.Metadata), Score: m.Score})
	}
	return results, nil
}

// Ingest creates the index when absent, clears the namespace when it already
// existed, then upserts every chunk in rate-limited batches.
func (s *Store) Ingest(ctx context.Context, chunks []domain.Chunk, emb embedding.Embedder) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks to ingest", domain.ErrInvalidInput)
	}
	if emb == nil {
		emb = s.emb
	}
	if emb == nil {
		return fmt.Errorf("%w: no embedder configured", domain.ErrConfiguration)
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	vectors, err := embedding.EmbedChunks(ctx, emb, chunks, s.cfg.Dimension, s.cfg.Concurrency)
	if err != nil {
		return err
	}

	desc, err := s.ensureIndex(ctx)
	if err != nil {
		return err
	}
	host := dataPlaneURL(desc.Host)
	s.setUnavailable(fmt.Sprintf("index %s is incomplete until ingest finishes", s.cfg.IndexName))

	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))
		batch := upsertRequest{Namespace: s.cfg.Namespace, Vectors: make([]vector, 0, end-start)}
		for i := start; i < end; i++ {
			batch.Vectors = append(batch.Vectors, vector{
				ID:       chunks[i].ID,
				Values:   vectors[i],
				Metadata: chunkMetadata(chunks[i]),
			})
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.api.do(ctx, http.MethodPost, host+"/vectors/upsert", batch, nil); err != nil {
			return fmt.Errorf("%w: upsert batch at %d: %w", domain.ErrBackendQuery, start, err)
		}
		s.log.Debug("upserted batch", "from", start, "to", end)
	}

	s.setAvailable(desc.Host)
	s.log.Info("pinecone index populated", "chunks", len(chunks))
	return nil
}

// ensureIndex returns a ready index description, creating the index if needed.
func (s *Store) ensureIndex(ctx context.Context) (indexDescription, error) {
	desc, err := s.describe(ctx)
	if err == nil {
		if desc.Dimension != s.cfg.Dimension {
			return desc, fmt.Errorf("index %q: %w", s.cfg.IndexName,
				&domain.DimensionMismatchError{Expected: s.cfg.Dimension, Actual: desc.Dimension})
		}
		if !desc.Status.Ready {
			if desc, err = s.waitReady(ctx); err != nil {
				return desc, err
			}
		}
		s.log.Info("using existing pinecone index, clearing namespace", "namespace", s.cfg.Namespace)
		req := deleteRequest{DeleteAll: true, Namespace: s.cfg.Namespace}
		if err := s.api.do(ctx, http.MethodPost, dataPlaneURL(desc.Host)+"/vectors/delete", req, nil); err != nil && !isStatus(err, http.StatusNotFound) {
			return desc, fmt.Errorf("%w: clear namespace: %w", domain.ErrBackendQuery, err)
		}
		return desc, nil
	}
	if !isStatus(err, http.StatusNotFound) {
		return desc, fmt.Errorf("%w: describe index: %w", domain.ErrBackendQuery, err)
	}

	s.log.Info("creating pinecone index", "dimension", s.cfg.Dimension, "cloud", s.cfg.Cloud, "region", s.cfg.Region)
	req := createIndexRequest{Name: s.cfg.IndexName, Dimension: s.cfg.Dimension, Metric: "cosine"}
	req.Spec.Serverless.Cloud = s.cfg.Cloud
	req.Spec.Serverless.Region = s.cfg.Region
	if err := s.api.do(ctx, http.MethodPost, s.cfg.ControllerURL+"/indexes", req, nil); err != nil && !isStatus(err, http.StatusConflict) {
		return desc, fmt.Errorf("%w: create index: %w", domain.ErrBackendQuery, err)
	}
	return s.waitReady(ctx)
}

func (s *Store) waitReady(ctx context.Context) (indexDescription, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		desc, err := s.describe(ctx)
		if err != nil && !isStatus(err, http.StatusNotFound) {
			return desc, fmt.Errorf("%w: describe index: %w", domain.ErrBackendQuery, err)
		}
		if err == nil && desc.Status.Ready && desc.Host != "" {
			return desc, nil
		}
		select {
		case <-ctx.Done():
			return desc, fmt.Errorf("waiting for index %q: %w", s.cfg.IndexName, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Store) describe(ctx context.Context) (indexDescription, error) {
	var desc indexDescription
	err := s.api.do(ctx, http.MethodGet, s.cfg.ControllerURL+"/indexes/"+url.PathEscape(s.cfg.IndexName), nil, &desc)
	return desc, err
}

// Close releases idle connections. The store stays usable.
func (s *Store) Close() error {
	s.api.http.CloseIdleConnections()
	return nil
}

func chunkMetadata(c domain.Chunk) map[string]any {
	meta := make(map[string]any, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta[metaText] = c.Content
	meta[metaDocumentID] = c.DocumentID
	meta[metaPosition] = c.Position
	return meta
}

func chunkFromMetadata(id string, meta map[string]any) domain.Chunk {
	c := domain.Chunk{ID: id, Metadata: map[string]string{}}
	for k, v := range meta {
		switch k {
		case metaText:
			c.Content, _ = v.(string)
		case metaDocumentID:
			c.DocumentID, _ = v.(string)
		case metaPosition:
			if f, ok := v.(float64); ok {
				c.Position = int(f)
			}
		default:
			switch x := v.(type) {
			case string:
				c.Metadata[k] = x
			case float64:
				c.Metadata[k] = strconv.FormatFloat(x, 'f', -1, 64)
			case bool:
				c.Metadata[k] = strconv.FormatBool(x)
			}
		}
	}
	return c
}
