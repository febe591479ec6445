package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/lorekeeper/recall/pkg/embedder"
	"github.com/lorekeeper/recall/pkg/embedder/mock"
	openaiEmbedder "github.com/lorekeeper/recall/pkg/embedder/openai"
	"github.com/lorekeeper/recall/pkg/intelligence"
	"github.com/lorekeeper/recall/pkg/llm"
	openaiLLM "github.com/lorekeeper/recall/pkg/llm/openai"
	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/query"
	"github.com/lorekeeper/recall/pkg/rerank"
	"github.com/lorekeeper/recall/pkg/retrieval"
	"github.com/lorekeeper/recall/pkg/search"
	"github.com/lorekeeper/recall/pkg/storage"
	chromemIndex "github.com/lorekeeper/recall/pkg/storage/chromem"
	"github.com/lorekeeper/recall/pkg/storage/oceanbase"
	postgresStore "github.com/lorekeeper/recall/pkg/storage/postgres"
	sqliteStore "github.com/lorekeeper/recall/pkg/storage/sqlite"
)

// Client is the main recall client.
//
// It wires a relational store, a vector index, an embedder and an optional
// LLM into the retrieval pipeline. The client is safe for concurrent use.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	mc := client.Retrieve(ctx, "user_001",
//	    core.WithQuery("what did I do with Ana last week?"),
//	    core.WithLimit(5),
//	)
type Client struct {
	config *Config

	// store holds memories, entities and links.
	store storage.Store

	// chromem is set when similarity search runs on a chromem index.
	chromem *chromemIndex.Index

	embedder embedder.Provider

	// llm is nil unless configured.
	llm llm.Provider

	retriever *retrieval.Orchestrator

	// snowflakeNode generates request and memory ids.
	snowflakeNode *snowflake.Node

	logger *slog.Logger
}

// ClientOption customizes NewClient.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logWriter io.Writer
	embedder  embedder.Provider
	llm       llm.Provider
	now       func() time.Time
}

// WithLogWriter sends client logs to w instead of stderr.
func WithLogWriter(w io.Writer) ClientOption {
	return func(o *clientOptions) { o.logWriter = w }
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(p embedder.Provider) ClientOption {
	return func(o *clientOptions) { o.embedder = p }
}

// WithLLM replaces the configured chat model.
func WithLLM(p llm.Provider) ClientOption {
	return func(o *clientOptions) { o.llm = p }
}

// WithClock fixes the time used for recency weighting.
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) { o.now = now }
}

// NewClient creates a new recall client.
//
// The client is initialized with:
//   - Relational store (SQLite, PostgreSQL or OceanBase)
//   - Vector index (the store itself, or chromem)
//   - Embedding provider (OpenAI or mock), optionally cached
//   - LLM provider for query expansion and reranking (optional)
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{logWriter: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}
	logger := logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, o.logWriter)

	store, err := initStorage(cfg.Store)
	if err != nil {
		return nil, err
	}

	client := &Client{config: cfg, store: store, logger: logger}

	if err := client.init(o); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) init(o *clientOptions) error {
	cfg := c.config

	emb := o.embedder
	if emb == nil {
		var err error
		emb, err = initEmbedder(cfg.Embedder)
		if err != nil {
			return err
		}
	}
	if cfg.Embedder.CacheMB > 0 {
		cached, err := embedder.NewCached(emb, &embedder.CacheConfig{MaxCost: int64(cfg.Embedder.CacheMB) << 20})
		if err != nil {
			return NewRecallError("NewClient", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
		}
		emb = cached
	}
	c.embedder = emb

	c.llm = o.llm
	if c.llm == nil && cfg.LLM != nil {
		provider, err := initLLM(cfg.LLM)
		if err != nil {
			return err
		}
		c.llm = provider
	}

	var index storage.VectorIndex = c.store
	if cfg.VectorIndex.Provider == "chromem" {
		idx, err := chromemIndex.New(cfg.VectorIndex.Path)
		if err != nil {
			return NewRecallError("NewClient", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
		}
		c.chromem = idx
		index = idx
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return NewRecallError("NewClient", err)
	}
	c.snowflakeNode = node

	retriever, err := retrieval.New(c.deps(index, o.now), &retrieval.Config{
		BranchTimeout:  cfg.Retrieval.branchTimeout(),
		MaxConcurrency: cfg.Retrieval.MaxConcurrency,
		RerankTopK:     cfg.Retrieval.RerankTopK,
	})
	if err != nil {
		return NewRecallError("NewClient", err)
	}
	c.retriever = retriever
	return nil
}

// deps assembles the retrieval components over the client's backends.
func (c *Client) deps(index storage.VectorIndex, now func() time.Time) retrieval.Deps {
	cfg := c.config
	r := cfg.Retrieval

	rewriteCfg := &query.Config{HistoryWindow: r.HistoryWindow}
	if cfg.LLM != nil {
		rewriteCfg.UseLLM = cfg.LLM.RewriteQueries
		rewriteCfg.LLMTimeout = time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond
	}

	var temporalOpts []intelligence.TemporalOption
	if now != nil {
		temporalOpts = append(temporalOpts, intelligence.WithClock(now))
	}
	temporal := intelligence.NewTemporalWeighter(temporalOpts...)

	var reranker rerank.Reranker = rerank.NewHeuristic(temporal.Now)
	if c.llm != nil && cfg.LLM != nil && cfg.LLM.Rerank {
		reranker = rerank.NewLLM(c.llm, reranker)
	}

	return retrieval.Deps{
		Rewriter:   query.NewQueryRewriter(c.llm, rewriteCfg),
		Router:     query.NewIntentRouter(r.presets()),
		Semantic:   search.NewSemanticSearcher(c.embedder, index, c.store, r.SimilarityThreshold),
		Keyword:    search.NewKeywordSearcher(c.store, r.KeywordCorpusLimit),
		Entities:   intelligence.NewEntityBooster(c.store),
		Confidence: intelligence.NewConfidenceScorer(c.store, r.MaxConcurrency, r.confidenceTimeout()),
		Temporal:   temporal,
		Reranker:   reranker,
		Memories:   c.store,
	}
}

// initStorage initializes the relational store based on configuration.
func initStorage(cfg StoreConfig) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Provider {
	case "sqlite":
		store, err = sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:         cfg.Path,
			CollectionName: cfg.CollectionName,
		})
	case "postgres":
		store, err = postgresStore.NewClient(&postgresStore.Config{
			Host:               cfg.Host,
			Port:               cfg.Port,
			User:               cfg.User,
			Password:           cfg.Password,
			DBName:             cfg.DBName,
			CollectionName:     cfg.CollectionName,
			EmbeddingModelDims: cfg.Dimensions,
			SSLMode:            cfg.SSLMode,
		})
	case "oceanbase":
		store, err = oceanbase.NewClient(&oceanbase.Config{
			Host:               cfg.Host,
			Port:               cfg.Port,
			User:               cfg.User,
			Password:           cfg.Password,
			DBName:             cfg.DBName,
			CollectionName:     cfg.CollectionName,
			EmbeddingModelDims: cfg.Dimensions,
		})
	default:
		return nil, NewRecallError("initStorage", fmt.Errorf("%w: unsupported store provider %q", ErrInvalidConfig, cfg.Provider))
	}
	if err != nil {
		return nil, NewRecallError("initStorage", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
	return store, nil
}

// initEmbedder initializes the embedding provider based on configuration.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "mock":
		return mock.New(cfg.Dimensions), nil
	case "openai":
		p, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, NewRecallError("initEmbedder", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
		}
		return p, nil
	default:
		return nil, NewRecallError("initEmbedder", fmt.Errorf("%w: unsupported embedder provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initLLM initializes the chat model based on configuration.
func initLLM(cfg *LLMConfig) (llm.Provider, error) {
	p, err := openaiLLM.NewClient(&openaiLLM.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		return nil, NewRecallError("initLLM", fmt.Errorf("%w: %v", ErrLLMOperation, err))
	}
	return p, nil
}

// Retrieve returns the user's most relevant memories for a query. It never
// fails: when every stage fails the context holds no memories.
//
// Example:
//
//	mc := client.Retrieve(ctx, "user_001",
//	    core.WithQuery("when is her birthday?"),
//	    core.WithHistory(history),
//	)
func (c *Client) Retrieve(ctx context.Context, userID string, opts ...RetrieveOption) *MemoryContext {
	requestID := c.snowflakeNode.Generate().String()
	logger := c.logger.With("request_id", requestID)
	ctx = logging.With(ctx, logger)

	base := []RetrieveOption{
		retrieval.WithRequestID(requestID),
		retrieval.WithLimit(c.config.Retrieval.DefaultLimit),
	}
	if c.config.Retrieval.Strategy != "" {
		base = append(base, retrieval.WithStrategy(retrieval.Strategy(c.config.Retrieval.Strategy)))
	}
	options := retrieval.ApplyRetrieveOptions(append(base, opts...)...)

	if strings.TrimSpace(userID) == "" {
		logger.Warn("retrieve without user id")
		return &MemoryContext{
			Query:       options.Query,
			Memories:    []memory.Scored{},
			Strategy:    options.Strategy,
			RequestID:   requestID,
			GeneratedAt: time.Now(),
		}
	}

	resp := c.retriever.Retrieve(ctx, userID, append(base, opts...)...)
	return toMemoryContext(userID, options.Query, resp)
}

// Search runs plain semantic search ranked by product scoring.
//
// Example:
//
//	results, err := client.Search(ctx, "user_001", "hiking trips",
//	    core.WithLimitForSearch(5),
//	    core.WithMinScore(0.2),
//	)
func (c *Client) Search(ctx context.Context, userID, text string, opts ...SearchOption) ([]memory.Scored, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewRecallError("Search", fmt.Errorf("%w: user id is required", ErrInvalidInput))
	}
	if strings.TrimSpace(text) == "" {
		return nil, NewRecallError("Search", fmt.Errorf("%w: query is required", ErrInvalidInput))
	}
	searchOpts := applySearchOptions(c.config.Retrieval.DefaultLimit, opts)

	ctx = logging.With(ctx, c.logger.With("request_id", c.snowflakeNode.Generate().String()))
	scored, err := c.retriever.Search(ctx, userID, text, searchOpts.Limit)
	if err != nil {
		return nil, NewRecallError("Search", fmt.Errorf("%w: %v", ErrStorageOperation, err))
	}
	return filterByScore(scored, searchOpts.MinScore), nil
}

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Close releases the store, embedder and LLM.
func (c *Client) Close() error {
	var errs []error

	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return NewRecallError("Close", errs[0])
	}
	return nil
}
