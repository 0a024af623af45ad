package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kenkyu/internal/config"
	"github.com/hyperjump/kenkyu/internal/embedding"
	"github.com/hyperjump/kenkyu/internal/index"
	"github.com/hyperjump/kenkyu/internal/indexer"
	"github.com/hyperjump/kenkyu/internal/search"
	"github.com/hyperjump/kenkyu/internal/storage"
	"github.com/hyperjump/kenkyu/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Storage   storage.Storage
	Embedder  embedding.Embedder
	Engine    vector.Engine
	Index     *index.VectorIndex
	Indexer   *indexer.Indexer
	Retriever *search.Retriever
	logger    *zap.Logger
}

// Close releases components in reverse order of creation.
func (c *Components) Close() {
	if c.Engine != nil {
		if err := c.Engine.Close(); err != nil {
			c.logger.Warn("vector engine close failed", zap.Error(err))
		}
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	var base embedding.Embedder
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:            cfg.Embedding.APIKey,
			BaseURL:           cfg.Embedding.BaseURL,
			Model:             cfg.Embedding.Model,
			Dimensions:        cfg.Embedding.Dimensions,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		}, logger)
		if err != nil {
			return nil, err
		}
		base = e
	default:
		base = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.CacheSize <= 0 {
		return base, nil
	}
	return embedding.NewCachedEmbedder(base, cfg.Embedding.CacheSize)
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Components{logger: logger}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	engine, err := vector.NewEngine(ctx, vector.EngineConfig{
		Type:        cfg.Vector.Engine,
		Dir:         cfg.Storage.VectorDir,
		PostgresDSN: cfg.Vector.PostgresDSN,
		Collection: vector.CollectionInfo{
			Name:        cfg.Vector.Collection,
			Description: cfg.Vector.Description,
			Dimensions:  cfg.Embedding.Dimensions,
			ModelID:     embedder.ModelID(),
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector engine: %w", err)
	}
	c.Engine = engine
	if info := engine.Info(); info.ModelID != "" && info.ModelID != embedder.ModelID() {
		logger.Warn("collection was created with a different embedding model; reindex to mix safely",
			zap.String("collection_model", info.ModelID), zap.String("embedder_model", embedder.ModelID()))
	}
	logger.Info("vector engine initialized",
		zap.String("type", engine.Type()), zap.String("collection", cfg.Vector.Collection))

	vi, err := index.New(engine, embedder, index.Config{
		Collection: cfg.Vector.Collection,
		Dimensions: cfg.Embedding.Dimensions,
	}, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Index = vi

	chunker, err := indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.OverlapOrDefault())
	if err != nil {
		c.Close()
		return nil, err
	}
	idxOpts := []indexer.IndexerOption{}
	if debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	c.Indexer = indexer.NewIndexer(store, embedder, vi, chunker, idxOpts...)
	c.Retriever = search.NewRetriever(vi, search.RetrieverConfig{TrackMetrics: cfg.Retrieval.TrackMetrics}, logger)
	return c, nil
}
