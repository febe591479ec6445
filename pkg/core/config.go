package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/query"
	"github.com/lorekeeper/recall/pkg/retrieval"
	"github.com/lorekeeper/recall/pkg/search"
)

// Config contains the complete configuration for a recall client.
//
// Example:
//
//	config := core.DefaultConfig()
//	config.Store.Path = "./data/recall.db"
//	config.Embedder = core.EmbedderConfig{
//	    Provider:   "openai",
//	    APIKey:     "sk-...",
//	    Model:      "text-embedding-3-small",
//	    Dimensions: 1536,
//	}
//	client, err := core.NewClient(config)
type Config struct {
	// Store is the relational backend holding memories and entities.
	Store StoreConfig `json:"store" yaml:"store"`

	// VectorIndex selects where similarity queries run.
	VectorIndex VectorIndexConfig `json:"vector_index" yaml:"vector_index"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// LLM enables query expansion and LLM reranking (optional).
	LLM *LLMConfig `json:"llm,omitempty" yaml:"llm,omitempty"`

	// Retrieval tunes the retrieval pipeline.
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`

	// Logging configures the client logger.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// StoreConfig contains configuration for the relational store.
//
// Supported providers: sqlite, postgres, oceanbase
type StoreConfig struct {
	// Provider is the store name.
	Provider string `json:"provider" yaml:"provider"`

	// CollectionName is the memory table name. Entity tables derive from it.
	CollectionName string `json:"collection_name" yaml:"collection_name"`

	// Dimensions is the embedding size of the vector column. Required by
	// postgres and oceanbase.
	Dimensions int `json:"embedding_model_dims,omitempty" yaml:"embedding_model_dims,omitempty"`

	// Path is the SQLite database file.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Host, Port, User, Password, DBName and SSLMode address a server store.
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DBName   string `json:"db_name,omitempty" yaml:"db_name,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
}

// VectorIndexConfig selects the vector index.
//
// Supported providers: store (the relational store itself), chromem
type VectorIndexConfig struct {
	Provider string `json:"provider" yaml:"provider"`

	// Path persists a chromem index. Empty keeps it in memory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, mock
type EmbedderConfig struct {
	// Provider is the embedding provider name.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Model is the embedding model name.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors.
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`

	// CacheMB is the in-process embedding cache size. Zero disables it.
	CacheMB int `json:"cache_mb,omitempty" yaml:"cache_mb,omitempty"`
}

// LLMConfig contains configuration for the chat model.
//
// Supported providers: openai, deepseek, qwen, ollama
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// RewriteQueries lets the model rephrase queries.
	RewriteQueries bool `json:"rewrite_queries" yaml:"rewrite_queries"`

	// Rerank uses the model as the reranker.
	Rerank bool `json:"rerank" yaml:"rerank"`

	// TimeoutMS bounds each model call. Zero means no extra bound.
	TimeoutMS int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// RetrievalConfig tunes the retrieval pipeline.
type RetrievalConfig struct {
	// DefaultLimit is the result size when a call gives none.
	DefaultLimit int `json:"default_limit" yaml:"default_limit"`

	// Strategy is the default ranking strategy: hybrid or product.
	Strategy string `json:"strategy" yaml:"strategy"`

	// SimilarityThreshold is the minimum cosine similarity of a vector hit.
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`

	// KeywordCorpusLimit bounds the memories BM25 ranks per query.
	KeywordCorpusLimit int `json:"keyword_corpus_limit" yaml:"keyword_corpus_limit"`

	// BranchTimeoutMS bounds each search branch.
	BranchTimeoutMS int `json:"branch_timeout_ms" yaml:"branch_timeout_ms"`

	// ConfidenceTimeoutMS bounds each entity confidence lookup.
	ConfidenceTimeoutMS int `json:"confidence_timeout_ms" yaml:"confidence_timeout_ms"`

	// MaxConcurrency bounds concurrent branches and lookups.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// RerankTopK is how many fused memories get reranked.
	RerankTopK int `json:"rerank_top_k" yaml:"rerank_top_k"`

	// HistoryWindow is how many conversation turns the rewriter reads.
	HistoryWindow int `json:"history_window" yaml:"history_window"`

	// Presets override the routing preset of individual query types
	// (recent, factual, entity, exploratory, default).
	Presets map[string]query.Preset `json:"presets,omitempty" yaml:"presets,omitempty"`
}

// LoggingConfig configures the client logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level"`

	// Format is console or json.
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns a configuration that runs fully offline: a local
// SQLite store and the deterministic mock embedder.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Provider:       "sqlite",
			CollectionName: "memories",
			Path:           "./recall.db",
		},
		VectorIndex: VectorIndexConfig{Provider: "store"},
		Embedder: EmbedderConfig{
			Provider:   "mock",
			Dimensions: 256,
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:        retrieval.DefaultLimit,
			Strategy:            string(retrieval.RankHybrid),
			SimilarityThreshold: search.DefaultSimilarityThreshold,
			KeywordCorpusLimit:  500,
			BranchTimeoutMS:     5000,
			ConfidenceTimeoutMS: 1000,
			MaxConcurrency:      4,
			RerankTopK:          20,
			HistoryWindow:       6,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// LoadConfig loads configuration by file extension: .yaml/.yml, .json or
// .env. An empty path reads the environment.
func LoadConfig(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		if path == "" {
			return LoadConfigFromEnv()
		}
		return LoadConfigFromEnvFile(path)
	case ".yaml", ".yml":
		return LoadConfigFromYAML(path)
	case ".json":
		return LoadConfigFromJSON(path)
	default:
		return LoadConfigFromEnvFile(path)
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables over DefaultConfig
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, postgres, oceanbase)
//   - SQLITE_PATH, SQLITE_COLLECTION
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE,
//     POSTGRES_COLLECTION, POSTGRES_SSLMODE, POSTGRES_EMBEDDING_MODEL_DIMS
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, OCEANBASE_DATABASE,
//     OCEANBASE_COLLECTION, OCEANBASE_EMBEDDING_MODEL_DIMS
//   - VECTOR_INDEX_PROVIDER (store, chromem), VECTOR_INDEX_PATH
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL,
//     EMBEDDING_DIMS, EMBEDDING_CACHE_MB
//   - LLM_PROVIDER (empty disables the LLM), LLM_API_KEY, LLM_MODEL, LLM_BASE_URL,
//     LLM_REWRITE_QUERIES, LLM_RERANK, LLM_TIMEOUT_MS
//   - RETRIEVAL_LIMIT, RETRIEVAL_STRATEGY, RETRIEVAL_THRESHOLD, RETRIEVAL_BRANCH_TIMEOUT_MS,
//     RETRIEVAL_RERANK_TOP_K
//   - LOG_LEVEL, LOG_FORMAT
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := DefaultConfig()
	config.Store.Provider = getEnvOrDefault("DATABASE_PROVIDER", config.Store.Provider)

	switch config.Store.Provider {
	case "sqlite":
		config.Store.Path = getEnvOrDefault("SQLITE_PATH", config.Store.Path)
		config.Store.CollectionName = getEnvOrDefault("SQLITE_COLLECTION", config.Store.CollectionName)
	case "postgres":
		config.Store.Host = getEnvOrDefault("POSTGRES_HOST", "localhost")
		config.Store.Port = getEnvInt("POSTGRES_PORT", 5432)
		config.Store.User = getEnvOrDefault("POSTGRES_USER", "postgres")
		config.Store.Password = os.Getenv("POSTGRES_PASSWORD")
		config.Store.DBName = getEnvOrDefault("POSTGRES_DATABASE", "recall")
		config.Store.CollectionName = getEnvOrDefault("POSTGRES_COLLECTION", config.Store.CollectionName)
		config.Store.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", "disable")
		config.Store.Dimensions = getEnvInt("POSTGRES_EMBEDDING_MODEL_DIMS", 1536)
	case "oceanbase":
		config.Store.Host = getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1")
		config.Store.Port = getEnvInt("OCEANBASE_PORT", 2881)
		config.Store.User = getEnvOrDefault("OCEANBASE_USER", "root@sys")
		config.Store.Password = os.Getenv("OCEANBASE_PASSWORD")
		config.Store.DBName = getEnvOrDefault("OCEANBASE_DATABASE", "recall")
		config.Store.CollectionName = getEnvOrDefault("OCEANBASE_COLLECTION", config.Store.CollectionName)
		config.Store.Dimensions = getEnvInt("OCEANBASE_EMBEDDING_MODEL_DIMS", 1536)
	}

	config.VectorIndex.Provider = getEnvOrDefault("VECTOR_INDEX_PROVIDER", config.VectorIndex.Provider)
	config.VectorIndex.Path = os.Getenv("VECTOR_INDEX_PATH")

	config.Embedder.Provider = getEnvOrDefault("EMBEDDING_PROVIDER", config.Embedder.Provider)
	config.Embedder.APIKey = os.Getenv("EMBEDDING_API_KEY")
	config.Embedder.Model = os.Getenv("EMBEDDING_MODEL")
	config.Embedder.BaseURL = os.Getenv("EMBEDDING_BASE_URL")
	config.Embedder.CacheMB = getEnvInt("EMBEDDING_CACHE_MB", 0)
	if config.Embedder.Provider == "openai" {
		config.Embedder.Dimensions = getEnvInt("EMBEDDING_DIMS", 1536)
	} else {
		config.Embedder.Dimensions = getEnvInt("EMBEDDING_DIMS", config.Embedder.Dimensions)
	}

	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM = &LLMConfig{
			Provider:       provider,
			APIKey:         os.Getenv("LLM_API_KEY"),
			Model:          os.Getenv("LLM_MODEL"),
			BaseURL:        os.Getenv("LLM_BASE_URL"),
			RewriteQueries: getEnvBool("LLM_REWRITE_QUERIES", true),
			Rerank:         getEnvBool("LLM_RERANK", false),
			TimeoutMS:      getEnvInt("LLM_TIMEOUT_MS", 3000),
		}
	}

	r := &config.Retrieval
	r.DefaultLimit = getEnvInt("RETRIEVAL_LIMIT", r.DefaultLimit)
	r.Strategy = getEnvOrDefault("RETRIEVAL_STRATEGY", r.Strategy)
	r.SimilarityThreshold = getEnvFloat("RETRIEVAL_THRESHOLD", r.SimilarityThreshold)
	r.BranchTimeoutMS = getEnvInt("RETRIEVAL_BRANCH_TIMEOUT_MS", r.BranchTimeoutMS)
	r.RerankTopK = getEnvInt("RETRIEVAL_RERANK_TOP_K", r.RerankTopK)

	config.Logging.Level = getEnvOrDefault("LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnvOrDefault("LOG_FORMAT", config.Logging.Format)

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, NewRecallError("LoadConfigFromEnvFile", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Fields the file
// omits keep their DefaultConfig values.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewRecallError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewRecallError("LoadConfigFromJSON", err)
	}
	return config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file. Fields the file
// omits keep their DefaultConfig values.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewRecallError("LoadConfigFromYAML", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, NewRecallError("LoadConfigFromYAML", err)
	}
	return config, nil
}

// Validate checks providers and value ranges.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return NewRecallError("Validate", fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Store.Provider {
	case "sqlite":
		if c.Store.Path == "" {
			return invalid("sqlite store needs a path")
		}
	case "postgres", "oceanbase":
		if c.Store.Dimensions <= 0 {
			return invalid("%s store needs embedding_model_dims", c.Store.Provider)
		}
	default:
		return invalid("unknown store provider %q", c.Store.Provider)
	}

	switch c.VectorIndex.Provider {
	case "", "store", "chromem":
	default:
		return invalid("unknown vector index provider %q", c.VectorIndex.Provider)
	}

	switch c.Embedder.Provider {
	case "mock":
	case "openai":
		if c.Embedder.APIKey == "" {
			return invalid("openai embedder needs an api key")
		}
	default:
		return invalid("unknown embedder provider %q", c.Embedder.Provider)
	}
	if c.Store.Dimensions > 0 && c.Embedder.Dimensions > 0 && c.Store.Dimensions != c.Embedder.Dimensions {
		return invalid("store dimensions %d do not match embedder dimensions %d", c.Store.Dimensions, c.Embedder.Dimensions)
	}

	if c.LLM != nil {
		switch c.LLM.Provider {
		case "openai", "deepseek", "qwen", "ollama":
		default:
			return invalid("unknown llm provider %q", c.LLM.Provider)
		}
	}

	r := c.Retrieval
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		return invalid("similarity_threshold %v is outside [0,1]", r.SimilarityThreshold)
	}
	switch retrieval.Strategy(r.Strategy) {
	case "", retrieval.RankHybrid, retrieval.RankProduct:
	default:
		return invalid("unknown ranking strategy %q", r.Strategy)
	}
	for name, p := range r.Presets {
		switch memory.QueryType(name) {
		case memory.QueryRecent, memory.QueryFactual, memory.QueryEntity, memory.QueryExploratory, memory.QueryDefault:
		default:
			return invalid("unknown query type %q in presets", name)
		}
		w := p.Weights
		if w.Semantic < 0 || w.Keyword < 0 || w.Entity < 0 || w.Temporal < 0 {
			return invalid("preset %q has a negative weight", name)
		}
	}
	return nil
}

func (r RetrievalConfig) branchTimeout() time.Duration {
	return time.Duration(r.BranchTimeoutMS) * time.Millisecond
}

func (r RetrievalConfig) confidenceTimeout() time.Duration {
	return time.Duration(r.ConfidenceTimeoutMS) * time.Millisecond
}

func (r RetrievalConfig) presets() map[memory.QueryType]query.Preset {
	if len(r.Presets) == 0 {
		return nil
	}
	out := make(map[memory.QueryType]query.Preset, len(r.Presets))
	for name, p := range r.Presets {
		out[memory.QueryType(name)] = p
	}
	return out
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
