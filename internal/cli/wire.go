package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"legisrag/config"
	"legisrag/internal/adapter/analyzer"
	"legisrag/internal/adapter/cache"
	"legisrag/internal/adapter/embedding"
	"legisrag/internal/adapter/llm"
	"legisrag/internal/adapter/retriever"
	"legisrag/internal/adapter/sink"
	"legisrag/internal/adapter/store"
	"legisrag/internal/port"
	"legisrag/internal/usecase"
)

// closers collects cleanup functions and runs them in reverse order.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c *closers) Close() error {
	var errs []error
	for i := len(*c) - 1; i >= 0; i-- {
		errs = append(errs, (*c)[i]())
	}
	return errors.Join(errs...)
}

func mongoURI(cfg *config.Config) (string, error) {
	uri := os.Getenv(cfg.DocStore.URIEnv)
	if uri == "" {
		return "", fmt.Errorf("mongodb uri not found in environment variable: %s", cfg.DocStore.URIEnv)
	}
	return uri, nil
}

func connectMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	uri, err := mongoURI(cfg)
	if err != nil {
		return nil, err
	}
	return store.ConnectMongo(ctx, uri)
}

func openDocStore(ctx context.Context, cfg *config.Config) (port.DocumentStore, error) {
	switch cfg.DocStore.Driver {
	case "bolt", "":
		return store.NewBoltStore(cfg.DocStore.Path, cfg.DocStore.BatchSize)
	case "mongo":
		client, err := connectMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store.NewMongoStore(client, cfg.DocStore.Database, cfg.DocStore.Collection, cfg.DocStore.BatchSize, true), nil
	default:
		return nil, fmt.Errorf("unsupported docstore driver: %s", cfg.DocStore.Driver)
	}
}

func openCache(ctx context.Context, cfg *config.Config) (port.ArtifactCache, error) {
	switch cfg.Cache.Driver {
	case "bolt", "":
		return cache.NewBoltCache(cfg.Cache.Path)
	case "s3":
		return cache.NewS3Cache(ctx, cfg.Cache.S3)
	case "memory":
		return cache.NewMemoryCache(cfg.Cache.Size)
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

func newEmbedder(ctx context.Context, cfg *config.Config) (port.Embedder, error) {
	e := cfg.Embedding
	switch e.Provider {
	case "openai":
		if e.BaseURL != "" {
			return embedding.NewOpenAICompatibleEmbedder(e.APIKeyEnv, e.Model, e.BaseURL, e.Dimension)
		}
		return embedding.NewOpenAIEmbedder(e.APIKeyEnv, e.Model, e.Dimension)
	case "ollama":
		return embedding.NewOllamaEmbedder(e.BaseURL, e.Model, e.Dimension)
	case "gemini":
		return embedding.NewGeminiEmbedder(ctx, e.APIKeyEnv, e.Model, e.Dimension)
	case "hash":
		return embedding.NewHashEmbedder(e.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", e.Provider)
	}
}

func newLLM(ctx context.Context, cfg *config.Config) (port.LLM, error) {
	l := cfg.LLM
	switch l.Provider {
	case "openai":
		return llm.NewOpenAIChat(l.APIKeyEnv, l.Model, l.BaseURL, l.MaxTokens, l.Timeout)
	case "ollama":
		return llm.NewOllamaLLM(l.BaseURL, l.Model, l.MaxTokens)
	case "gemini":
		return llm.NewGeminiLLM(ctx, l.APIKeyEnv, l.Model, l.MaxTokens)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", l.Provider)
	}
}

// indexManifest describes the index the configured embedder produces.
func indexManifest(cfg *config.Config, embedder port.Embedder) store.Manifest {
	return store.Manifest{
		Model:        embedder.ModelName(),
		Dimension:    embedder.Dimension(),
		Tokenizer:    cfg.Index.Tokenizer,
		PipelineHash: cfg.PipelineHash(),
	}
}

func newSink(ctx context.Context, cfg *config.Config, c *closers) (port.EventSink, error) {
	switch cfg.Observability.Sink {
	case "log", "":
		return sink.NewLogSink(logger), nil
	case "none":
		return sink.Nop{}, nil
	case "mongo":
		client, err := connectMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.add(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
		return sink.NewMongoSink(client, cfg.DocStore.Database, cfg.Observability.Collection, cfg.Observability.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported observability sink: %s", cfg.Observability.Sink)
	}
}

// newRetriever opens the index for querying. The query embedder is wrapped
// in an LRU so repeated questions skip the embedding call.
func newRetriever(ctx context.Context, cfg *config.Config, c *closers) (port.Retriever, error) {
	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	index, err := store.OpenVectorIndex(cfg.Index.Dir, cfg.Index.Name, indexManifest(cfg, embedder))
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", cfg.Index.Name, err)
	}
	c.add(index.Close)

	var reranker port.DiversityReranker
	if cfg.Retrieve.MMRLambda > 0 {
		reranker = retriever.NewMMRReranker(cfg.Retrieve.MMRLambda, cfg.Retrieve.DedupJaccard, analyzer.NewTokenizer().Terms)
	}

	cached := cache.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL)
	return retriever.NewSemanticRetriever(index, cached, reranker, retriever.WithQueryTimeout(cfg.Embedding.Timeout)), nil
}

// newAnswerer wires retrieval, the language model and the query sink.
func newAnswerer(ctx context.Context, cfg *config.Config, c *closers) (*usecase.AnswerUseCase, error) {
	r, err := newRetriever(ctx, cfg, c)
	if err != nil {
		return nil, err
	}

	model, err := newLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s, err := newSink(ctx, cfg, c)
	if err != nil {
		return nil, err
	}

	return usecase.NewAnswerUseCase(r, model, s, cfg.Retrieve.TopK, logger, usecase.WithGenerateTimeout(cfg.LLM.Timeout)), nil
}
