package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"afpbot/internal/domain"
)

// StoreKind names a vector store backend.
type StoreKind string

const (
	KindFlat     StoreKind = "flat"
	KindPinecone StoreKind = "pinecone"
	KindWeaviate StoreKind = "weaviate"
)

// ParseStoreKind normalizes a backend name. "faiss" is accepted for the flat store.
func ParseStoreKind(s string) (StoreKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flat", "faiss", "":
		return KindFlat, nil
	case "pinecone":
		return KindPinecone, nil
	case "weaviate":
		return KindWeaviate, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedBackend, s)
	}
}

// ServerConfig configures the HTTP query API.
type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
	TopK               int    `yaml:"top_k"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                `yaml:"type"`
	Model       string                `yaml:"model"`
	Dimension   int                   `yaml:"dimension"`
	Concurrency int                   `yaml:"concurrency"`
	OpenAI      *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// IngestConfig locates the corpus. DigestSentences bounds the extractive
// corpus digest printed after ingest; zero disables it.
type IngestConfig struct {
	DataDir         string `yaml:"data_dir"`
	Pattern         string `yaml:"pattern"`
	DigestSentences int    `yaml:"digest_sentences"`
}

// FlatConfig configures the local flat index.
type FlatConfig struct {
	Path string `yaml:"path"`
}

// PineconeConfig contains connection details for the managed Pinecone service.
type PineconeConfig struct {
	APIKey        string  `yaml:"api_key"`
	IndexName     string  `yaml:"index_name"`
	Cloud         string  `yaml:"cloud"`
	Region        string  `yaml:"region"`
	Namespace     string  `yaml:"namespace"`
	ControllerURL string  `yaml:"controller_url"`
	TimeoutSecs   int     `yaml:"timeout_secs"`
	BatchSize     int     `yaml:"batch_size"`
	UpsertRPS     float64 `yaml:"upsert_rps"`
}

// WeaviateConfig contains connection details for a Weaviate instance or cluster.
type WeaviateConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// StoreConfig selects and configures the vector store. It is resolved once at
// startup and passed by value; nothing mutates it afterwards.
type StoreConfig struct {
	Type     string         `yaml:"type"`
	Flat     FlatConfig     `yaml:"flat"`
	Pinecone PineconeConfig `yaml:"pinecone"`
	Weaviate WeaviateConfig `yaml:"weaviate"`

	// Dimension and Concurrency are copied from the embedder section by Store.
	Dimension   int `yaml:"-"`
	Concurrency int `yaml:"-"`
}

// Kind returns the parsed backend kind.
func (c StoreConfig) Kind() (StoreKind, error) { return ParseStoreKind(c.Type) }

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig   `yaml:"server"`
	Embedder    EmbedderConfig `yaml:"embedder"`
	Chunker     ChunkerConfig  `yaml:"chunker"`
	Ingest      IngestConfig   `yaml:"ingest"`
	VectorStore StoreConfig    `yaml:"vector_store"`
	Log         LogConfig      `yaml:"log"`
}

// Store returns the resolved, immutable store configuration.
func (c *AppConfig) Store() StoreConfig {
	sc := c.VectorStore
	sc.Dimension = c.Embedder.Dimension
	sc.Concurrency = c.Embedder.Concurrency
	return sc
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/afpbot/config.yaml.
// If neither exists, built-in defaults are returned with an empty path.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return Default(), "", nil
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	return Default(), "", nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "afpbot", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{Host: "localhost", Port: 8000, RequestTimeoutSecs: 30, TopK: 3},
		Embedder: EmbedderConfig{
			Type:        "hashing",
			Model:       "sentence-transformers/all-MiniLM-L6-v2",
			Dimension:   384,
			Concurrency: 4,
		},
		Chunker: ChunkerConfig{ChunkSize: 500, ChunkOverlap: 50},
		Ingest:  IngestConfig{DataDir: "./data", Pattern: "*.txt", DigestSentences: 3},
		VectorStore: StoreConfig{
			Type: string(KindFlat),
			Flat: FlatConfig{Path: "./vector_stores_data/flat"},
			Pinecone: PineconeConfig{
				IndexName:     "afp-chatbot",
				Cloud:         "aws",
				Region:        "us-east-1",
				ControllerURL: "https://api.pinecone.io",
				TimeoutSecs:   30,
				BatchSize:     100,
				UpsertRPS:     10,
			},
			Weaviate: WeaviateConfig{
				URL:         "http://localhost:8080",
				Collection:  "AFP_Chatbot",
				TimeoutSecs: 30,
				BatchSize:   100,
			},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.TopK <= 0 {
		cfg.Server.TopK = def.Server.TopK
	}
	if cfg.Server.RequestTimeoutSecs <= 0 {
		cfg.Server.RequestTimeoutSecs = def.Server.RequestTimeoutSecs
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = def.Embedder.Dimension
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = def.Chunker.ChunkSize
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI == nil {
		cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
	}
	if o := cfg.Embedder.OpenAI; o != nil {
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
	}
	if cfg.VectorStore.Pinecone.BatchSize <= 0 {
		cfg.VectorStore.Pinecone.BatchSize = def.VectorStore.Pinecone.BatchSize
	}
	if cfg.VectorStore.Weaviate.BatchSize <= 0 {
		cfg.VectorStore.Weaviate.BatchSize = def.VectorStore.Weaviate.BatchSize
	}
}

// ApplyEnv overlays the environment variables understood by the deployment
// scripts. getenv is os.Getenv outside of tests.
func (c *AppConfig) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.VectorStore.Type, "VECTOR_STORE_TYPE")
	set(&c.Embedder.Model, "EMBEDDING_MODEL")
	set(&c.Server.Host, "HOST")
	if v := getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	set(&c.Ingest.DataDir, "DATA_DIR")
	set(&c.VectorStore.Flat.Path, "FLAT_VECTORSTORE_PATH")

	set(&c.VectorStore.Pinecone.APIKey, "PINECONE_API_KEY")
	set(&c.VectorStore.Pinecone.IndexName, "PINECONE_INDEX_NAME")
	if env := getenv("PINECONE_ENVIRONMENT"); env != "" {
		c.VectorStore.Pinecone.Cloud, c.VectorStore.Pinecone.Region = parsePineconeEnvironment(env)
	}

	set(&c.VectorStore.Weaviate.URL, "WEAVIATE_URL")
	set(&c.VectorStore.Weaviate.APIKey, "WEAVIATE_API_KEY")
	set(&c.VectorStore.Weaviate.Collection, "WEAVIATE_INDEX_NAME")
}

// parsePineconeEnvironment splits legacy values such as "us-east-1-aws".
func parsePineconeEnvironment(env string) (cloud, region string) {
	switch {
	case strings.HasSuffix(env, "-aws"):
		return "aws", strings.TrimSuffix(env, "-aws")
	case strings.HasSuffix(env, "-gcp"):
		return "gcp", strings.TrimSuffix(env, "-gcp")
	case strings.HasSuffix(env, "-azure"):
		return "azure", strings.TrimSuffix(env, "-azure")
	default:
		return "aws", env
	}
}

// Validate reports missing parameters for the selected backend before any
// network activity takes place.
func (c *AppConfig) Validate() error {
	kind, err := c.VectorStore.Kind()
	if err != nil {
		return err
	}
	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("%w: embedder.dimension must be positive", domain.ErrConfiguration)
	}
	switch c.Embedder.Type {
	case "hashing", "":
	case "openai":
		if c.Embedder.Model == "" {
			return fmt.Errorf("%w: embedder.model is required for openai", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown embedder %q", domain.ErrConfiguration, c.Embedder.Type)
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size)", domain.ErrConfiguration)
	}

	switch kind {
	case KindFlat:
		if c.VectorStore.Flat.Path == "" {
			return fmt.Errorf("%w: vector_store.flat.path is required", domain.ErrConfiguration)
		}
	case KindPinecone:
		p := c.VectorStore.Pinecone
		if p.APIKey == "" {
			return fmt.Errorf("%w: PINECONE_API_KEY is not set", domain.ErrConfiguration)
		}
		if p.IndexName == "" {
			return fmt.Errorf("%w: pinecone index name is required", domain.ErrConfiguration)
		}
	case KindWeaviate:
		w := c.VectorStore.Weaviate
		if w.URL == "" {
			return fmt.Errorf("%w: WEAVIATE_URL is not set", domain.ErrConfiguration)
		}
		if w.Collection == "" {
			return fmt.Errorf("%w: weaviate collection name is required", domain.ErrConfiguration)
		}
	}
	return nil
}

// Redacted returns a copy with credentials masked, suitable for printing.
func (c *AppConfig) Redacted() *AppConfig {
	cp := *c
	if cp.VectorStore.Pinecone.APIKey != "" {
		cp.VectorStore.Pinecone.APIKey = "****"
	}
	if cp.VectorStore.Weaviate.APIKey != "" {
		cp.VectorStore.Weaviate.APIKey = "****"
	}
	return &cp
}
