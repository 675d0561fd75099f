package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afpbot/internal/domain"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  port: 9090
embedder:
  type: openai
  model: all-minilm
vector_store:
  type: weaviate
  weaviate:
    url: http://weaviate.internal:8080
    collection: Docs
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, "Docs", cfg.VectorStore.Weaviate.Collection)
	assert.Equal(t, 100, cfg.VectorStore.Weaviate.BatchSize)

	kind, err := cfg.Store().Kind()
	require.NoError(t, err)
	assert.Equal(t, KindWeaviate, kind)
	assert.Equal(t, 384, cfg.Store().Dimension)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [oops"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Server.Port = 1234
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, loaded.Server.Port)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{
		"VECTOR_STORE_TYPE":    "pinecone",
		"PINECONE_API_KEY":     "pk",
		"PINECONE_INDEX_NAME":  "idx",
		"PINECONE_ENVIRONMENT": "europe-west4-gcp",
		"PORT":                 "8081",
		"EMBEDDING_MODEL":      "custom",
	}))

	assert.Equal(t, "pinecone", cfg.VectorStore.Type)
	assert.Equal(t, "pk", cfg.VectorStore.Pinecone.APIKey)
	assert.Equal(t, "idx", cfg.VectorStore.Pinecone.IndexName)
	assert.Equal(t, "gcp", cfg.VectorStore.Pinecone.Cloud)
	assert.Equal(t, "europe-west4", cfg.VectorStore.Pinecone.Region)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "custom", cfg.Embedder.Model)
	require.NoError(t, cfg.Validate())
}

func TestParsePineconeEnvironment(t *testing.T) {
	cloud, region := parsePineconeEnvironment("us-east-1-aws")
	assert.Equal(t, "aws", cloud)
	assert.Equal(t, "us-east-1", region)

	cloud, region = parsePineconeEnvironment("us-west-2")
	assert.Equal(t, "aws", cloud)
	assert.Equal(t, "us-west-2", region)
}

func TestParseStoreKind(t *testing.T) {
	for in, want := range map[string]StoreKind{
		"flat": KindFlat, "FAISS": KindFlat, "": KindFlat,
		"pinecone": KindPinecone, " Weaviate ": KindWeaviate,
	} {
		got, err := ParseStoreKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStoreKind("chroma")
	assert.ErrorIs(t, err, domain.ErrUnsupportedBackend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   error
	}{
		{"unsupported backend", func(c *AppConfig) { c.VectorStore.Type = "milvus" }, domain.ErrUnsupportedBackend},
		{"pinecone without key", func(c *AppConfig) { c.VectorStore.Type = "pinecone" }, domain.ErrConfiguration},
		{"weaviate without url", func(c *AppConfig) {
			c.VectorStore.Type = "weaviate"
			c.VectorStore.Weaviate.URL = ""
		}, domain.ErrConfiguration},
		{"flat without path", func(c *AppConfig) { c.VectorStore.Flat.Path = "" }, domain.ErrConfiguration},
		{"bad overlap", func(c *AppConfig) { c.Chunker.ChunkOverlap = c.Chunker.ChunkSize }, domain.ErrConfiguration},
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "bert" }, domain.ErrConfiguration},
		{"zero dimension", func(c *AppConfig) { c.Embedder.Dimension = 0 }, domain.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.VectorStore.Pinecone.APIKey = "secret"
	r := cfg.Redacted()
	assert.Equal(t, "****", r.VectorStore.Pinecone.APIKey)
	assert.Equal(t, "secret", cfg.VectorStore.Pinecone.APIKey)
	assert.Equal(t, "localhost:8000", cfg.Server.Addr())
}
