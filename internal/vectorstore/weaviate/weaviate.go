// Package weaviate stores chunks as objects in a Weaviate collection and
// searches them with nearVector GraphQL queries.
package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/embedding"
	"afpbot/internal/logger"
)

const (
	DefaultLocalPort = "8080"
	DefaultBatchSize = 100

	// TextKey is the property holding chunk text.
	TextKey = "text"
)

var (
	classPattern = regexp.MustCompile(`^[A-Z][_0-9A-Za-z]*$`)

	// objectNamespace seeds deterministic object ids derived from chunk ids.
	objectNamespace = uuid.MustParse("5b0c7e52-0b5e-4f7a-9d1e-6a1f3c1d2e77")
)

// Config configures the Weaviate adapter.
type Config struct {
	URL         string
	APIKey      string
	Collection  string
	Dimension   int
	Timeout     time.Duration
	BatchSize   int
	Concurrency int

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Store owns at most one live connection. Opening and closing it are
// serialized by connMu; mu only guards the published conn and status, so
// status reads never wait on the network.
type Store struct {
	cfg      Config
	endpoint string
	emb      embedding.Embedder
	log      *slog.Logger

	ingestMu sync.Mutex
	connMu   sync.Mutex

	mu     sync.RWMutex
	conn   *conn
	status domain.StoreStatus
}

// Endpoint derives the base URL to dial. With an API key the configured host is
// treated as a cloud cluster reached over https; without one, a local instance
// on the configured hostname (port 8080 unless given) over http.
func Endpoint(rawURL, apiKey string) (string, error) {
	host := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(rawURL), "https://"), "http://")
	host = strings.TrimRight(host, "/")
	if host == "" {
		return "", fmt.Errorf("%w: weaviate url is required", domain.ErrConfiguration)
	}
	if apiKey != "" {
		return "https://" + host, nil
	}
	u, err := url.Parse("http://" + host)
	if err != nil {
		return "", fmt.Errorf("%w: weaviate url: %w", domain.ErrConfiguration, err)
	}
	port := u.Port()
	if port == "" {
		port = DefaultLocalPort
	}
	return "http://" + u.Hostname() + ":" + port, nil
}

// New connects and checks readiness. When the server is not ready the
// connection is released and the store reports unavailable.
func New(ctx context.Context, cfg Config, emb embedding.Embedder, log *slog.Logger) (*Store, error) {
	if !classPattern.MatchString(cfg.Collection) {
		return nil, fmt.Errorf("%w: invalid weaviate collection name %q", domain.ErrConfiguration, cfg.Collection)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: invalid dimension %d", domain.ErrConfiguration, cfg.Dimension)
	}
	endpoint, err := Endpoint(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Store{
		cfg:      cfg,
		endpoint: endpoint,
		emb:      emb,
		log:      log.With("store", string(config.KindWeaviate), "endpoint", endpoint, "collection", cfg.Collection),
	}
	s.connMu.Lock()
	_ = s.connect(ctx)
	s.connMu.Unlock()
	return s, nil
}

// connect replaces any existing connection with a fresh, ready one and
// refreshes the collection status. Callers hold s.connMu. A connection is only
// kept when the collection check gave a definite answer.
func (s *Store) connect(ctx context.Context) error {
	s.mu.Lock()
	old := s.conn
	s.conn = nil
	s.mu.Unlock()
	if old != nil {
		old.close()
	}

	hc := s.cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: s.cfg.Timeout}
	}
	c := &conn{endpoint: s.endpoint, apiKey: s.cfg.APIKey, http: hc}
	if err := c.ready(ctx); err != nil {
		c.close()
		s.publish(nil, domain.StoreStatus{Reason: "weaviate not ready: " + err.Error()})
		s.log.Warn("weaviate not ready", "err", err)
		return err
	}
	s.log.Info("connected to weaviate")

	err := c.do(ctx, http.MethodGet, "/v1/schema/"+s.cfg.Collection, nil, nil)
	switch {
	case err == nil:
		s.publish(c, domain.StoreStatus{Available: true})
	case isStatus(err, http.StatusNotFound):
		s.publish(c, domain.StoreStatus{Reason: fmt.Sprintf("collection %s does not exist, run ingest", s.cfg.Collection)})
	default:
		c.close()
		s.publish(nil, domain.StoreStatus{Reason: "check collection: " + err.Error()})
		s.log.Warn("weaviate collection check failed", "err", err)
		return err
	}
	return nil
}

func (s *Store) publish(c *conn, st domain.StoreStatus) {
	s.mu.Lock()
	s.conn = c
	s.status = st
	s.mu.Unlock()
}

// dropLocked releases the connection after it failed mid-use. Callers hold s.mu.
func (s *Store) dropLocked(reason string) {
	if s.conn != nil {
		s.conn.close()
		s.conn = nil
	}
	s.status = domain.StoreStatus{Reason: reason}
}

func (s *Store) Kind() config.StoreKind { return config.KindWeaviate }

func (s *Store) IsAvailable() bool { return s.Status().Available }

func (s *Store) Status() domain.StoreStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Endpoint returns the base URL the store dials.
func (s *Store) Endpoint() string { return s.endpoint }

// session returns the live connection, reconnecting once if it was dropped.
func (s *Store) session(ctx context.Context) (*conn, domain.StoreStatus) {
	s.mu.RLock()
	c, st := s.conn, s.status
	s.mu.RUnlock()
	if c != nil {
		return c, st
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.mu.RLock()
	c = s.conn
	s.mu.RUnlock()
	if c == nil {
		_ = s.connect(ctx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn, s.status
}

func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrInvalidInput, k)
	}
	c, st := s.session(ctx)
	if c == nil || !st.Available {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, st.Reason)
	}
	if s.emb == nil {
		return nil, fmt.Errorf("%w: no embedder configured", domain.ErrBackendQuery)
	}
	vec, err := embedding.EmbedQuery(ctx, s.emb, query, s.cfg.Dimension)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBackendQuery, err)
	}

	var resp graphqlResponse
	err = c.do(ctx, http.MethodPost, "/v1/graphql", graphqlRequest{Query: nearVectorQuery(s.cfg.Collection, vec, k)}, &resp)
	if err != nil {
		if isTransport(err) && ctx.Err() == nil {
			s.mu.Lock()
			if s.conn == c {
				s.dropLocked("connection dropped: " + err.Error())
			}
			s.mu.Unlock()
			s.log.Warn("weaviate connection dropped", "err", err)
			return nil, fmt.Errorf("%w: connection dropped: %w", domain.ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("%w: weaviate collection %s: %w", domain.ErrBackendQuery, s.cfg.Collection, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: weaviate graphql: %s", domain.ErrBackendQuery, resp.Errors[0].Message)
	}

	objects := resp.Data.Get[s.cfg.Collection]
	objects = objects[:min(k, len(objects))]
	results := make([]domain.SearchResult, 0, len(objects))
	for _, o := range objects {
		results = append(results, domain.SearchResult{Chunk: o.chunk(), Score: 1 - o.Additional.Distance})
	}
	return results, nil
}

// Ingest drops and recreates the collection, then writes every chunk in batches.
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

	c, err := s.ensureConnected(ctx)
	if err != nil {
		return err
	}

	class := s.cfg.Collection
	if err := c.do(ctx, http.MethodDelete, "/v1/schema/"+class, nil, nil); err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: drop collection: %w", domain.ErrBackendQuery, err)
	}
	if err := c.do(ctx, http.MethodPost, "/v1/schema", collectionSchema(class), nil); err != nil {
		return fmt.Errorf("%w: create collection: %w", domain.ErrBackendQuery, err)
	}
	s.mu.Lock()
	s.status = domain.StoreStatus{Reason: fmt.Sprintf("collection %s is incomplete until ingest finishes", class)}
	s.mu.Unlock()

	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))
		req := batchRequest{Objects: make([]batchObject, 0, end-start)}
		for i := start; i < end; i++ {
			obj, err := toObject(class, chunks[i], vectors[i])
			if err != nil {
				return err
			}
			req.Objects = append(req.Objects, obj)
		}
		var results []batchResult
		if err := c.do(ctx, http.MethodPost, "/v1/batch/objects", req, &results); err != nil {
			return fmt.Errorf("%w: batch at %d: %w", domain.ErrBackendQuery, start, err)
		}
		for _, r := range results {
			if r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("%w: object %s: %s", domain.ErrBackendQuery, r.ID, r.Result.Errors.Error[0].Message)
			}
		}
		s.log.Debug("wrote batch", "from", start, "to", end)
	}

	s.mu.Lock()
	if s.conn == c {
		s.status = domain.StoreStatus{Available: true}
	}
	s.mu.Unlock()
	s.log.Info("weaviate collection populated", "chunks", len(chunks))
	return nil
}

// ensureConnected checks the live connection and reopens it if it has dropped.
func (s *Store) ensureConnected(ctx context.Context) (*conn, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.mu.RLock()
	c := s.conn
	s.mu.RUnlock()
	if c != nil && c.ready(ctx) == nil {
		return c, nil
	}
	if err := s.connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, s.Status().Reason)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn, nil
}

// Close releases the connection. It is safe to call more than once.
func (s *Store) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	s.dropLocked("store closed")
	s.log.Debug("weaviate connection closed")
	return nil
}

func collectionSchema(class string) classSchema {
	text := []string{"text"}
	return classSchema{
		Class:             class,
		Vectorizer:        "none",
		VectorIndexConfig: map[string]any{"distance": "cosine"},
		Properties: []propertySchema{
			{Name: TextKey, DataType: text},
			{Name: "chunk_id", DataType: text},
			{Name: "source", DataType: text},
			{Name: "document_id", DataType: text},
			{Name: "position", DataType: []string{"int"}},
			{Name: "metadata", DataType: text},
		},
	}
}

func toObject(class string, c domain.Chunk, vec []float32) (batchObject, error) {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return batchObject{}, fmt.Errorf("marshal metadata for %s: %w", c.ID, err)
	}
	return batchObject{
		Class:  class,
		ID:     uuid.NewSHA1(objectNamespace, []byte(c.ID)).String(),
		Vector: vec,
		Properties: map[string]any{
			TextKey:       c.Content,
			"chunk_id":    c.ID,
			"source":      c.Source(),
			"document_id": c.DocumentID,
			"position":    c.Position,
			"metadata":    string(meta),
		},
	}, nil
}

func (o graphqlObject) chunk() domain.Chunk {
	c := domain.Chunk{
		ID:         o.ChunkID,
		DocumentID: o.DocumentID,
		Content:    o.Text,
		Position:   o.Position,
	}
	if c.ID == "" {
		c.ID = o.Additional.ID
	}
	if o.Metadata != "" {
		_ = json.Unmarshal([]byte(o.Metadata), &c.Metadata)
	}
	if o.Source != "" {
		if c.Metadata == nil {
			c.Metadata = map[string]string{}
		}
		c.Metadata[domain.MetaSource] = o.Source
	}
	return c
}

func nearVectorQuery(class string, vec []float32, k int) string {
	var b strings.Builder
	b.WriteString("{ Get { ")
	b.WriteString(class)
	b.WriteString("(nearVector: {vector: [")
	for i, x := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteString("]}, limit: ")
	b.WriteString(strconv.Itoa(k))
	b.WriteString(") { text chunk_id source document_id position metadata _additional { id distance } } } }")
	return b.String()
}
