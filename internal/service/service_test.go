package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afpbot/internal/chunker"
	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/embedding"
	"afpbot/internal/embedding/hashing"
	"afpbot/internal/summarizer"
	"afpbot/internal/vectorstore/flat"
)

type fakeStore struct {
	results   []domain.SearchResult
	err       error
	available bool
	ingested  []domain.Chunk
	ingestErr error
	closed    bool
}

func (f *fakeStore) Kind() config.StoreKind { return config.KindPinecone }

func (f *fakeStore) SimilaritySearch(_ context.Context, _ string, k int) ([]domain.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}

func (f *fakeStore) Ingest(_ context.Context, chunks []domain.Chunk, _ embedding.Embedder) error {
	if f.ingestErr != nil {
		return f.ingestErr
	}
	f.ingested = chunks
	f.available = true
	return nil
}

func (f *fakeStore) IsAvailable() bool { return f.available }

func (f *fakeStore) Status() domain.StoreStatus { return domain.StoreStatus{Available: f.available} }

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func TestRetriever_NilStore(t *testing.T) {
	r := NewRetriever(config.KindWeaviate, nil, nil)

	assert.Equal(t, config.KindWeaviate, r.Kind())
	assert.False(t, r.Ready())
	assert.False(t, r.IsAvailable())
	assert.NotEmpty(t, r.Status().Reason)

	_, err := r.SimilaritySearch(context.Background(), "retiro", 3)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, r.Ingest(context.Background(), nil, nil), domain.ErrStoreUnavailable)
	assert.NoError(t, r.Close())
}

func TestRetriever_PassesResultsThrough(t *testing.T) {
	store := &fakeStore{available: true, results: []domain.SearchResult{
		{Chunk: domain.Chunk{ID: "a"}, Score: 0.9},
		{Chunk: domain.Chunk{ID: "b"}, Score: 0.5},
	}}
	r := NewRetriever(config.KindFlat, store, nil)
	assert.Equal(t, config.KindPinecone, r.Kind())
	assert.True(t, r.IsAvailable())

	res, err := r.SimilaritySearch(context.Background(), "retiro", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].Chunk.ID)

	require.NoError(t, r.Close())
	assert.True(t, store.closed)
}

func TestRetriever_EmptyResultIsNotAnError(t *testing.T) {
	r := NewRetriever(config.KindFlat, &fakeStore{available: true}, nil)
	res, err := r.SimilaritySearch(context.Background(), "retiro", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestRetriever_ErrorTranslation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable kept", domain.ErrStoreUnavailable, domain.ErrStoreUnavailable},
		{"query error kept", domain.ErrBackendQuery, domain.ErrBackendQuery},
		{"invalid input kept", domain.ErrInvalidInput, domain.ErrInvalidInput},
		{"unknown becomes query error", errors.New("socket closed"), domain.ErrBackendQuery},
		{"deadline becomes query error", context.DeadlineExceeded, domain.ErrBackendQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetriever(config.KindFlat, &fakeStore{err: tt.err}, nil)
			_, err := r.SimilaritySearch(context.Background(), "retiro", 3)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRetriever_EmptyQuery(t *testing.T) {
	r := NewRetriever(config.KindFlat, &fakeStore{available: true}, nil)
	_, err := r.SimilaritySearch(context.Background(), "   ", 3)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestIngester_NoDocuments(t *testing.T) {
	store := &fakeStore{}
	in := NewIngester(chunker.NewRecursiveChunker(500, 50), store, nil, "", nil)

	_, err := in.Run(context.Background(), writeCorpus(t, map[string]string{"notes.md": "ignored"}))
	assert.ErrorIs(t, err, domain.ErrNoDocuments)

	_, err = in.Run(context.Background(), writeCorpus(t, map[string]string{"blank.txt": "  \n"}))
	assert.ErrorIs(t, err, domain.ErrNoDocuments)
	assert.Nil(t, store.ingested)
}

func TestIngester_MissingDirectory(t *testing.T) {
	in := NewIngester(chunker.NewRecursiveChunker(500, 50), &fakeStore{}, nil, "", nil)
	_, err := in.Run(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestIngester_StoreErrorUnchanged(t *testing.T) {
	boom := errors.New("boom")
	in := NewIngester(chunker.NewRecursiveChunker(500, 50), &fakeStore{ingestErr: boom}, nil, "", nil)
	_, err := in.Run(context.Background(), writeCorpus(t, map[string]string{"a.txt": "texto"}))
	assert.Same(t, boom, err)
}

func TestIngester_ChunksEveryDocument(t *testing.T) {
	store := &fakeStore{}
	in := NewIngester(chunker.NewRecursiveChunker(500, 50), store, nil, "", nil)

	report, err := in.Run(context.Background(), writeCorpus(t, map[string]string{
		"a.txt": "El retiro es de hasta 4 UIT.",
		"b.txt": "Las fechas dependen del ultimo digito del DNI.",
	}))
	require.NoError(t, err)
	assert.Equal(t, config.KindPinecone, report.Store)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 2, report.Chunks)
	require.Len(t, store.ingested, 2)
	assert.Equal(t, "El retiro es de hasta 4 UIT.", store.ingested[0].Content)
	assert.Contains(t, store.ingested[0].Source(), "a.txt")
}

func TestIngestThenSearch_FlatEndToEnd(t *testing.T) {
	ctx := context.Background()
	emb := hashing.NewEmbedder(hashing.DefaultDimension)
	store, err := flat.New(ctx, flat.Config{Path: filepath.Join(t.TempDir(), "idx"), Dimension: emb.Dimension()}, emb, nil)
	require.NoError(t, err)
	r := NewRetriever(config.KindFlat, store, nil)
	require.False(t, r.IsAvailable())

	in := NewIngester(chunker.NewRecursiveChunker(500, 50), r, nil, "", nil)
	report, err := in.Run(ctx, writeCorpus(t, map[string]string{"retiro.txt": "El retiro es de hasta 4 UIT."}))
	require.NoError(t, err)
	assert.Equal(t, config.KindFlat, report.Store)
	assert.Equal(t, 1, report.Chunks)

	res, err := r.SimilaritySearch(ctx, "¿cuánto puedo retirar?", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "El retiro es de hasta 4 UIT.", res[0].Chunk.Content)
	assert.True(t, r.IsAvailable())
}

func TestIngester_Digest(t *testing.T) {
	store := &fakeStore{}
	in := NewIngester(chunker.NewRecursiveChunker(500, 50), store, nil, "", nil).
		WithDigest(summarizer.NewFrequencySummarizer(), 1)

	report, err := in.Run(context.Background(), writeCorpus(t, map[string]string{
		"a.txt": "El retiro AFP es de hasta 4 UIT.",
	}))
	require.NoError(t, err)
	assert.Equal(t, "El retiro AFP es de hasta 4 UIT.", report.Digest)
}
