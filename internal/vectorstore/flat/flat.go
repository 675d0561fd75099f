// Package flat is an exact cosine-similarity vector store persisted to a local
// directory. The index artifact holds ids and vectors; the docstore artifact
// holds chunk text and metadata. A shared generation id binds the two.
package flat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/embedding"
	"afpbot/internal/logger"
)

const (
	// DefaultPath is where artifacts live when no path is configured.
	DefaultPath = "./vector_stores_data/flat"

	IndexFile    = "index.bin"
	DocstoreFile = "docstore.db"
)

// Config configures the flat store.
type Config struct {
	Path        string
	Dimension   int
	Concurrency int
}

// Store keeps the whole index in memory and searches it exhaustively.
type Store struct {
	dir         string
	dim         int
	concurrency int
	emb         embedding.Embedder
	log         *slog.Logger

	ingestMu sync.Mutex

	mu      sync.RWMutex
	chunks  []domain.Chunk
	vectors [][]float32
	norms   []float64
	status  domain.StoreStatus
}

// New loads the artifacts under cfg.Path when present. A missing or
// inconsistent directory is not an error: the store starts unavailable and
// reports why through Status.
func New(ctx context.Context, cfg Config, emb embedding.Embedder, log *slog.Logger) (*Store, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: invalid dimension %d", domain.ErrConfiguration, cfg.Dimension)
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		dir:         cfg.Path,
		dim:         cfg.Dimension,
		concurrency: cfg.Concurrency,
		emb:         emb,
		log:         log.With("store", string(config.KindFlat), "path", cfg.Path),
	}

	if err := s.load(ctx); err != nil {
		s.status = domain.StoreStatus{Reason: err.Error()}
		s.log.Warn("flat index not loaded", "reason", err)
		return s, nil
	}
	s.status = domain.StoreStatus{Available: true}
	s.log.Info("flat index loaded", "chunks", len(s.chunks))
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("index directory %s does not exist, run ingest", s.dir)
		}
		return err
	}
	indexPath := filepath.Join(s.dir, IndexFile)
	docPath := filepath.Join(s.dir, DocstoreFile)
	for _, p := range []string{indexPath, docPath} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("missing artifact %s, run ingest", filepath.Base(p))
		}
	}

	idx, err := readIndex(indexPath)
	if err != nil {
		return err
	}
	ds, err := readDocstore(ctx, docPath)
	if err != nil {
		return err
	}
	switch {
	case idx.generation != ds.generation:
		return errors.New("index and docstore belong to different ingest runs")
	case idx.dim != s.dim:
		return fmt.Errorf("index %w", &domain.DimensionMismatchError{Expected: s.dim, Actual: idx.dim})
	case ds.dim != idx.dim:
		return errors.New("index and docstore disagree on dimension")
	case len(ds.chunks) != len(idx.ids):
		return fmt.Errorf("index has %d vectors but docstore has %d chunks", len(idx.ids), len(ds.chunks))
	}

	chunks := make([]domain.Chunk, len(idx.ids))
	for i, id := range idx.ids {
		c, ok := ds.chunks[id]
		if !ok {
			return fmt.Errorf("chunk %s missing from docstore", id)
		}
		chunks[i] = c
	}
	s.swap(chunks, idx.vectors)
	return nil
}

// swap installs a new generation. Callers hold no lock.
func (s *Store) swap(chunks []domain.Chunk, vectors [][]float32) {
	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		norms[i] = norm(v)
	}
	s.mu.Lock()
	s.chunks = chunks
	s.vectors = vectors
	s.norms = norms
	s.status = domain.StoreStatus{Available: true}
	s.mu.Unlock()
}

func (s *Store) Kind() config.StoreKind { return config.KindFlat }

func (s *Store) IsAvailable() bool { return s.Status().Available }

func (s *Store) Status() domain.StoreStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrInvalidInput, k)
	}
	if !s.IsAvailable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, s.Status().Reason)
	}
	if s.emb == nil {
		return nil, fmt.Errorf("%w: no embedder configured", domain.ErrBackendQuery)
	}
	q, err := embedding.EmbedQuery(ctx, s.emb, query, s.dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBackendQuery, err)
	}
	qn := norm(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make([]float64, len(s.vectors))
	for i, v := range s.vectors {
		scores[i] = cosine(q, v, qn, s.norms[i])
	}
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	// stable: equal scores keep insertion order
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	if k > len(order) {
		k = len(order)
	}
	results := make([]domain.SearchResult, 0, k)
	for _, j := range order[:k] {
		results = append(results, domain.SearchResult{Chunk: s.chunks[j], Score: scores[j]})
	}
	return results, nil
}

// Ingest rebuilds the index from chunks and atomically replaces the artifacts.
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
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: duplicate chunk id %s", domain.ErrInvalidInput, c.ID)
		}
		seen[c.ID] = struct{}{}
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	vectors, err := embedding.EmbedChunks(ctx, emb, chunks, s.dim, s.concurrency)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	gen := uuid.New()
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := s.commit(ctx, indexFile{generation: gen, dim: s.dim, ids: ids, vectors: vectors}, chunks); err != nil {
		return err
	}

	stored := make([]domain.Chunk, len(chunks))
	copy(stored, chunks)
	s.swap(stored, vectors)
	s.log.Info("flat index rebuilt", "chunks", len(chunks), "generation", gen.String())
	return nil
}

// commit writes both artifacts to temporary files and renames them into place
// only once both are complete. A failed write leaves the previous pair intact.
func (s *Store) commit(ctx context.Context, idx indexFile, chunks []domain.Chunk) error {
	docPath := filepath.Join(s.dir, DocstoreFile)
	idxPath := filepath.Join(s.dir, IndexFile)
	docTmp, idxTmp := docPath+".tmp", idxPath+".tmp"

	if err := writeDocstore(ctx, docTmp, idx.generation, idx.dim, chunks); err != nil {
		return err
	}
	if err := writeIndex(idxTmp, idx); err != nil {
		_ = os.Remove(docTmp)
		return err
	}
	if err := os.Rename(docTmp, docPath); err != nil {
		_ = os.Remove(docTmp)
		_ = os.Remove(idxTmp)
		return fmt.Errorf("install docstore: %w", err)
	}
	if err := os.Rename(idxTmp, idxPath); err != nil {
		_ = os.Remove(idxTmp)
		return fmt.Errorf("install index: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
