package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/gitingest/internal/chunk"
	"github.com/Aman-CERP/gitingest/internal/config"
	"github.com/Aman-CERP/gitingest/internal/corpus"
	"github.com/Aman-CERP/gitingest/internal/embed"
	"github.com/Aman-CERP/gitingest/internal/pipeline"
	"github.com/Aman-CERP/gitingest/internal/query"
	"github.com/Aman-CERP/gitingest/internal/store"
)

// app wires the components every command needs from one configuration.
type app struct {
	cfg      *config.Config
	dir      string
	embedder embed.Embedder
	store    store.Store
	reader   *corpus.Reader
	ingester *pipeline.Ingester
	query    *query.Service
	logger   *slog.Logger
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	return buildApp(ctx, cfg, dir, slog.Default())
}

func buildApp(ctx context.Context, cfg *config.Config, dir string, logger *slog.Logger) (*app, error) {
	provider, err := embed.ParseProvider(cfg.Embeddings.Provider)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.EmbedTimeout()
	if err != nil {
		return nil, err
	}

	embedder, err := embed.NewEmbedder(ctx, embed.Options{
		Provider:   provider,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Host:       cfg.Embeddings.OllamaHost,
		Timeout:    timeout,
		CacheSize:  cfg.Embeddings.CacheSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, dir: dir, embedder: embedder, logger: logger}

	storeOpts := []store.Option{store.WithLogger(logger)}
	if cfg.Store.Index == "hnsw" {
		storeOpts = append(storeOpts, store.WithHNSW())
	}

	var lockDir string
	switch cfg.Store.Backend {
	case "memory":
		a.store = store.NewMemoryStore(storeOpts...)
	default:
		path := cfg.StorePath(dir)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		st, err := store.OpenSQLite(ctx, path, storeOpts...)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.store = st
		lockDir = filepath.Dir(path)
	}

	chunker, err := chunk.NewChunker(cfg.Chunking.MaxWords, cfg.Chunking.Overlap)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.reader = corpus.NewReader(
		corpus.WithExclude(cfg.Reader.Exclude...),
		corpus.WithMaxFileSize(cfg.Reader.MaxFileSize),
		corpus.WithLogger(logger),
	)

	a.ingester, err = pipeline.New(pipeline.Config{
		Embedder:  embedder,
		Store:     a.store,
		Chunker:   chunker,
		Reader:    a.reader,
		Workers:   cfg.Reader.Workers,
		BatchSize: cfg.Embeddings.BatchSize,
		LockDir:   lockDir,
		Logger:    logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.query, err = query.NewService(embedder, a.store,
		query.WithDefaultTopK(cfg.Query.DefaultTopK),
		query.WithLogger(logger))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the store and the embedder.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
