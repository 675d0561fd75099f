package weaviate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afpbot/internal/domain"
	"afpbot/internal/embedding/hashing"
)

const (
	testDim   = 32
	testClass = "AFP_Chatbot"
)

var limitPattern = regexp.MustCompile(`limit: (\d+)`)

type fakeWeaviate struct {
	mu         sync.Mutex
	srv        *httptest.Server
	ready      bool
	classes    map[string]classSchema
	objects    []batchObject
	drops      int
	batches    int
	graphqlErr string
	objectErr  string
	auth       string
	lastQuery  string

	ignoreLimit    bool
	schemaFailures int
	schemaChecks   int
	readyDelay     time.Duration
}

func newFake(t *testing.T, tls bool) *fakeWeaviate {
	f := &fakeWeaviate{ready: true, classes: map[string]classSchema{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/.well-known/ready", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		delay := f.readyDelay
		f.mu.Unlock()
		time.Sleep(delay)
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	mux.HandleFunc("GET /v1/schema/{class}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.schemaChecks++
		if f.schemaFailures > 0 {
			f.schemaFailures--
			http.Error(w, "schema unavailable", http.StatusInternalServerError)
			return
		}
		cs, ok := f.classes[r.PathValue("class")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(cs)
	})
	mux.HandleFunc("DELETE /v1/schema/{class}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.drops++
		if _, ok := f.classes[r.PathValue("class")]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(f.classes, r.PathValue("class"))
		f.objects = nil
	})
	mux.HandleFunc("POST /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		var cs classSchema
		if err := json.NewDecoder(r.Body).Decode(&cs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.classes[cs.Class]; ok {
			http.Error(w, "class exists", http.StatusUnprocessableEntity)
			return
		}
		f.classes[cs.Class] = cs
		_ = json.NewEncoder(w).Encode(cs)
	})
	mux.HandleFunc("POST /v1/batch/objects", func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.batches++
		out := make([]map[string]any, 0, len(req.Objects))
		for _, o := range req.Objects {
			res := map[string]any{}
			if f.objectErr != "" {
				res["errors"] = map[string]any{"error": []map[string]string{{"message": f.objectErr}}}
			} else {
				f.objects = append(f.objects, o)
			}
			out = append(out, map[string]any{"id": o.ID, "result": res})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /v1/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastQuery = req.Query
		if f.graphqlErr != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"errors": []map[string]string{{"message": f.graphqlErr}}})
			return
		}
		limit := len(f.objects)
		if m := limitPattern.FindStringSubmatch(req.Query); m != nil && !f.ignoreLimit {
			n, _ := strconv.Atoi(m[1])
			limit = min(limit, n)
		}
		hits := make([]map[string]any, 0, limit)
		for i, o := range f.objects[:limit] {
			hit := map[string]any{}
			for k, v := range o.Properties {
				hit[k] = v
			}
			hit["_additional"] = map[string]any{"id": o.ID, "distance": float64(i) / 10}
			hits = append(hits, hit)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"Get": map[string]any{testClass: hits}}})
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
	if tls {
		f.srv = httptest.NewTLSServer(handler)
	} else {
		f.srv = httptest.NewServer(handler)
	}
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeWeaviate) setReady(ready bool) {
	f.mu.Lock()
	f.ready = ready
	f.mu.Unlock()
}

func newStore(t *testing.T, f *fakeWeaviate, mutate ...func(*Config)) *Store {
	t.Helper()
	cfg := Config{URL: f.srv.URL, Collection: testClass, Dimension: testDim, BatchSize: 2}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(context.Background(), cfg, hashing.NewEmbedder(testDim), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chunks() []domain.Chunk {
	src := map[string]string{domain.MetaSource: "data/retiro.txt"}
	return []domain.Chunk{
		{ID: "d:0", DocumentID: "d", Position: 0, Content: "El retiro es de hasta 4 UIT.", Metadata: src},
		{ID: "d:1", DocumentID: "d", Position: 1, Content: "Se solicita segun el DNI.", Metadata: src},
		{ID: "d:2", DocumentID: "d", Position: 2, Content: "El plazo vence en enero.", Metadata: src},
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		url, key, want string
	}{
		{"https://afp.weaviate.network", "key", "https://afp.weaviate.network"},
		{"http://afp.weaviate.network/", "key", "https://afp.weaviate.network"},
		{"http://localhost:8080", "", "http://localhost:8080"},
		{"weaviate.internal", "", "http://weaviate.internal:8080"},
		{"https://weaviate.internal/", "", "http://weaviate.internal:8080"},
		{"http://127.0.0.1:9090", "", "http://127.0.0.1:9090"},
	}
	for _, tt := range tests {
		got, err := Endpoint(tt.url, tt.key)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}

	_, err := Endpoint("", "")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "http://localhost", Collection: "lowercase", Dimension: testDim}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(context.Background(), Config{URL: "http://localhost", Collection: testClass}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNew_NotReadyReleasesConnection(t *testing.T) {
	f := newFake(t, false)
	f.setReady(false)
	s := newStore(t, f)

	assert.False(t, s.IsAvailable())
	assert.Contains(t, s.Status().Reason, "not ready")
	assert.Nil(t, s.conn)

	_, err := s.SimilaritySearch(context.Background(), "retiro", 3)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Nil(t, s.conn)
}

func TestNew_MissingCollectionIsUnavailable(t *testing.T) {
	s := newStore(t, newFake(t, false))

	assert.NotNil(t, s.conn)
	assert.False(t, s.IsAvailable())
	assert.Contains(t, s.Status().Reason, "run ingest")

	_, err := s.SimilaritySearch(context.Background(), "retiro", 3)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestIngest_CreatesCollectionAndSearches(t *testing.T) {
	ctx := context.Background()
	f := newFake(t, false)
	s := newStore(t, f)

	require.NoError(t, s.Ingest(ctx, chunks(), nil))
	assert.True(t, s.IsAvailable())
	assert.Equal(t, 2, f.batches)
	require.Len(t, f.objects, 3)

	cs := f.classes[testClass]
	assert.Equal(t, "none", cs.Vectorizer)
	assert.Equal(t, "cosine", cs.VectorIndexConfig["distance"])
	assert.Equal(t, uuid.NewSHA1(objectNamespace, []byte("d:0")).String(), f.objects[0].ID)
	assert.Equal(t, "El retiro es de hasta 4 UIT.", f.objects[0].Properties[TextKey])

	res, err := s.SimilaritySearch(ctx, "¿cuánto puedo retirar?", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, chunks()[0], res[0].Chunk)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	assert.True(t, strings.HasPrefix(f.lastQuery, "{ Get { "+testClass+"(nearVector:"))
	assert.Contains(t, f.lastQuery, "limit: 1")
}

func TestIngest_ReplacesExistingCollection(t *testing.T) {
	ctx := context.Background()
	f := newFake(t, false)
	s := newStore(t, f)

	require.NoError(t, s.Ingest(ctx, chunks(), nil))
	require.NoError(t, s.Ingest(ctx, chunks()[:1], nil))
	assert.Equal(t, 2, f.drops)
	assert.Len(t, f.objects, 1)
}

func TestIngest_ReconnectsAfterNotReady(t *testing.T) {
	f := newFake(t, false)
	f.setReady(false)
	s := newStore(t, f)
	require.False(t, s.IsAvailable())

	assert.ErrorIs(t, s.Ingest(context.Background(), chunks(), nil), domain.ErrStoreUnavailable)

	f.setReady(true)
	require.NoError(t, s.Ingest(context.Background(), chunks(), nil))
	assert.True(t, s.IsAvailable())
}

func TestIngest_ObjectErrors(t *testing.T) {
	f := newFake(t, false)
	f.objectErr = "vector lengths don't match"
	s := newStore(t, f)

	err := s.Ingest(context.Background(), chunks(), nil)
	assert.ErrorIs(t, err, domain.ErrBackendQuery)
	assert.False(t, s.IsAvailable())
}

func TestSimilaritySearch_GraphQLErrors(t *testing.T) {
	ctx := context.Background()
	f := newFake(t, false)
	s := newStore(t, f)
	require.NoError(t, s.Ingest(ctx, chunks(), nil))

	f.mu.Lock()
	f.graphqlErr = "Cannot query field"
	f.mu.Unlock()

	_, err := s.SimilaritySearch(ctx, "retiro", 3)
	assert.ErrorIs(t, err, domain.ErrBackendQuery)
	assert.True(t, s.IsAvailable())
}

func TestSimilaritySearch_EmptyCollection(t *testing.T) {
	f := newFake(t, false)
	f.classes[testClass] = collectionSchema(testClass)
	s := newStore(t, f)
	require.True(t, s.IsAvailable())

	res, err := s.SimilaritySearch(context.Background(), "retiro", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSimilaritySearch_DroppedConnection(t *testing.T) {
	ctx := context.Background()
	f := newFake(t, false)
	s := newStore(t, f)
	require.NoError(t, s.Ingest(ctx, chunks(), nil))
	f.srv.Close()

	res, err := s.SimilaritySearch(ctx, "retiro", 3)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, domain.ErrBackendQuery)
	assert.Nil(t, res)
	assert.False(t, s.IsAvailable())
	assert.Contains(t, s.Status().Reason, "connection dropped")
}

func TestCloudEndpointSendsBearerToken(t *testing.T) {
	f := newFake(t, true)
	f.classes[testClass] = collectionSchema(testClass)
	s := newStore(t, f, func(c *Config) {
		c.APIKey = "wv-key"
		c.HTTPClient = f.srv.Client()
	})

	assert.Equal(t, f.srv.URL, s.Endpoint())
	assert.True(t, s.IsAvailable())
	assert.Equal(t, "Bearer wv-key", f.auth)
}

func TestClose_Idempotent(t *testing.T) {
	f := newFake(t, false)
	f.classes[testClass] = collectionSchema(testClass)
	s := newStore(t, f)
	require.True(t, s.IsAvailable())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.IsAvailable())
	assert.Nil(t, s.conn)
}

func TestSimilaritySearch_ReturnsAtMostK(t *testing.T) {
	ctx := context.Background()
	f := newFake(t, false)
	s := newStore(t, f)
	require.NoError(t, s.Ingest(ctx, chunks(), nil))

	f.mu.Lock()
	f.ignoreLimit = true
	f.mu.Unlock()

	res, err := s.SimilaritySearch(ctx, "retiro", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "d:0", res[0].Chunk.ID)
	assert.Equal(t, "d:1", res[1].Chunk.ID)
}

func TestSimilaritySearch_RechecksCollectionAfterFailedCheck(t *testing.T) {
	f := newFake(t, false)
	f.classes[testClass] = collectionSchema(testClass)
	f.schemaFailures = 1
	s := newStore(t, f)

	assert.False(t, s.IsAvailable())
	assert.Contains(t, s.Status().Reason, "check collection")
	assert.Nil(t, s.conn)

	res, err := s.SimilaritySearch(context.Background(), "retiro", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.True(t, s.IsAvailable())
	assert.Equal(t, 2, f.schemaChecks)
}

func TestStatus_DoesNotWaitForReconnect(t *testing.T) {
	ctx := context.Background()
	f := newFake(t, false)
	f.setReady(false)
	s := newStore(t, f)
	require.False(t, s.IsAvailable())

	f.mu.Lock()
	f.ready = true
	f.readyDelay = time.Second
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.SimilaritySearch(ctx, "retiro", 3)
	}()

	// let the search reach the slow readiness check
	time.Sleep(200 * time.Millisecond)
	start := time.Now()
	_ = s.IsAvailable()
	_ = s.Status()
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	<-done
}
