package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the legislative RAG pipeline.
type Config struct {
	Scrape        ScrapeConfig        `yaml:"scrape"`
	DocStore      DocStoreConfig      `yaml:"docstore"`
	Cache         CacheConfig         `yaml:"cache"`
	Download      DownloadConfig      `yaml:"download"`
	Index         IndexConfig         `yaml:"index"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	LLM           LLMConfig           `yaml:"llm"`
	Retrieve      RetrieveConfig      `yaml:"retrieve"`
	Observability ObservabilityConfig `yaml:"observability"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ScrapeConfig maps each document type to the page its listing table lives on.
type ScrapeConfig struct {
	Sources         map[string]string `yaml:"sources"`      // doc_type -> file, glob or http(s) URL
	RowSelector     string            `yaml:"row_selector"` // CSS selector for listing rows
	BillDownloadURL string            `yaml:"bill_download_url"`
	Timeout         time.Duration     `yaml:"timeout"`
}

// DocStoreConfig selects and configures the document store.
type DocStoreConfig struct {
	Driver     string `yaml:"driver"` // "bolt", "mongo"
	Path       string `yaml:"path"`
	URIEnv     string `yaml:"uri_env"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	BatchSize  int    `yaml:"batch_size"`
}

// CacheConfig selects and configures the artifact cache.
type CacheConfig struct {
	Driver string   `yaml:"driver"` // "bolt", "s3", "memory"
	Path   string   `yaml:"path"`
	Size   int      `yaml:"size"` // memory driver only
	S3     S3Config `yaml:"s3"`
}

// S3Config holds object storage settings. Credentials come from the AWS default chain.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// DownloadConfig holds PDF download stage settings.
type DownloadConfig struct {
	Workers  int           `yaml:"workers"`
	Attempts int           `yaml:"attempts"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// IndexConfig holds chunking and vector index configuration.
type IndexConfig struct {
	Name            string `yaml:"name"`
	Dir             string `yaml:"dir"`
	PipelineVersion string `yaml:"pipeline_version"`
	Tokenizer       string `yaml:"tokenizer"` // "cl100k_base", "words"
	ChunkTokens     int    `yaml:"chunk_tokens"`
	ChunkOverlap    int    `yaml:"chunk_overlap"`
	PrepWorkers     int    `yaml:"prep_workers"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`    // "openai", "ollama", "gemini", "hash"
	Model     string        `yaml:"model"`       // e.g., "text-embedding-3-small"
	APIKeyEnv string        `yaml:"api_key_env"` // Environment variable for API key
	BaseURL   string        `yaml:"base_url"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Workers   int           `yaml:"workers"`
	Attempts  int           `yaml:"attempts"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"` // query vector LRU entries
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// LLMConfig holds answer generation configuration.
type LLMConfig struct {
	Provider  string        `yaml:"provider"` // "openai", "ollama", "gemini"
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK         int     `yaml:"top_k"`
	MMRLambda    float64 `yaml:"mmr_lambda"` // 0 disables MMR
	DedupJaccard float64 `yaml:"dedup_jaccard"`
}

// ObservabilityConfig selects where answered queries are recorded.
type ObservabilityConfig struct {
	Sink       string        `yaml:"sink"` // "log", "mongo", "none"
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ServerConfig holds the HTTP query endpoint configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console", "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Scrape: ScrapeConfig{
			Sources:         map[string]string{},
			RowSelector:     "table.dataTable tbody tr",
			BillDownloadURL: "https://nass.gov.ng/documents/billdownload/%s.pdf",
			Timeout:         30 * time.Second,
		},
		DocStore: DocStoreConfig{
			Driver:     "bolt",
			Path:       filepath.Join(".legisrag", "documents.db"),
			URIEnv:     "MONGODB_URI",
			Database:   "nass_bot",
			Collection: "corpus",
			BatchSize:  150,
		},
		Cache: CacheConfig{
			Driver: "bolt",
			Path:   filepath.Join(".legisrag", "cache.db"),
			Size:   4096,
			S3: S3Config{
				Bucket: "nass-bot",
				Region: "us-east-1",
			},
		},
		Download: DownloadConfig{
			Workers:  10,
			Attempts: 3,
			Timeout:  60 * time.Second,
			MaxBytes: 64 << 20,
		},
		Index: IndexConfig{
			Name:            "nass",
			Dir:             filepath.Join(".legisrag", "vectors"),
			PipelineVersion: "v1",
			Tokenizer:       "cl100k_base",
			ChunkTokens:     500,
			ChunkOverlap:    100,
			PrepWorkers:     100,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 1536,
			BatchSize: 64,
			Workers:   4,
			Attempts:  3,
			Timeout:   60 * time.Second,
			CacheSize: 512,
			CacheTTL:  10 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   90 * time.Second,
			MaxTokens: 1024,
		},
		Retrieve: RetrieveConfig{
			TopK:         2,
			MMRLambda:    0,
			DedupJaccard: 0.9,
		},
		Observability: ObservabilityConfig{
			Sink:       "log",
			Collection: "query_log",
			Timeout:    5 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// LoadFromDir loads configuration from a directory (looks for legisrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "legisrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".legisrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Index.Name == "" {
		return fmt.Errorf("index.name is required")
	}
	if c.Index.ChunkTokens <= 0 {
		return fmt.Errorf("index.chunk_tokens must be positive, got %d", c.Index.ChunkTokens)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkTokens {
		return fmt.Errorf("index.chunk_overlap must be in [0, %d), got %d", c.Index.ChunkTokens, c.Index.ChunkOverlap)
	}
	if c.Retrieve.TopK < 2 || c.Retrieve.TopK > 5 {
		return fmt.Errorf("retrieve.top_k must be between 2 and 5, got %d", c.Retrieve.TopK)
	}
	if c.Retrieve.MMRLambda < 0 || c.Retrieve.MMRLambda > 1 {
		return fmt.Errorf("retrieve.mmr_lambda must be in [0, 1], got %f", c.Retrieve.MMRLambda)
	}
	if c.DocStore.BatchSize <= 0 {
		return fmt.Errorf("docstore.batch_size must be positive, got %d", c.DocStore.BatchSize)
	}
	return nil
}

// PipelineHash hashes every setting that changes derived artifacts.
// Cache keys for snapshots and prepared chunks are prefixed with it, so a
// changed setting reads from fresh keys instead of a stale hit.
func (c *Config) PipelineHash() string {
	relevant := struct {
		Version      string `json:"version"`
		Tokenizer    string `json:"tokenizer"`
		ChunkTokens  int    `json:"chunk_tokens"`
		ChunkOverlap int    `json:"chunk_overlap"`
		EmbProvider  string `json:"emb_provider"`
		EmbModel     string `json:"emb_model"`
		EmbDimension int    `json:"emb_dimension"`
	}{
		Version:      c.Index.PipelineVersion,
		Tokenizer:    c.Index.Tokenizer,
		ChunkTokens:  c.Index.ChunkTokens,
		ChunkOverlap: c.Index.ChunkOverlap,
		EmbProvider:  c.Embedding.Provider,
		EmbModel:     c.Embedding.Model,
		EmbDimension: c.Embedding.Dimension,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return c.Index.PipelineVersion + "-" + hex.EncodeToString(hash[:6])
}

// Resolve makes relative paths absolute against dir.
func (c *Config) Resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.DocStore.Path = abs(c.DocStore.Path)
	c.Cache.Path = abs(c.Cache.Path)
	c.Index.Dir = abs(c.Index.Dir)
}

// EnsureDataDir ensures the .legisrag directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".legisrag"), 0755)
}
