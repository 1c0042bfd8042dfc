// Package pipeline wires the write path: corpus reader, chunker, entry
// builder, embedder and store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/gitingest/internal/chunk"
	"github.com/Aman-CERP/gitingest/internal/corpus"
	"github.com/Aman-CERP/gitingest/internal/embed"
	"github.com/Aman-CERP/gitingest/internal/entry"
	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
	"github.com/Aman-CERP/gitingest/internal/store"
)

var (
	// ErrNilEmbedder is returned when Config.Embedder is nil.
	ErrNilEmbedder = errors.New("pipeline: nil embedder")

	// ErrNilStore is returned when Config.Store is nil.
	ErrNilStore = errors.New("pipeline: nil store")
)

// Config holds the collaborators of an Ingester.
type Config struct {
	Embedder embed.Embedder
	Store    store.Store

	// Chunker defaults to chunk.Default().
	Chunker *chunk.Chunker

	// Reader defaults to corpus.NewReader().
	Reader *corpus.Reader

	// Workers bounds concurrent per-file work. Defaults to runtime.NumCPU().
	Workers int

	// BatchSize is the number of texts per embedder call. Defaults to
	// embed.DefaultBatchSize.
	BatchSize int

	// LockDir, when set, holds an IngestLock for the duration of Ingest so
	// concurrent processes writing the same store serialize.
	LockDir string

	Logger *slog.Logger
}

// Result summarizes one ingestion.
type Result struct {
	CorpusID string        `json:"corpus_id"`
	Entries  int           `json:"count"`
	Files    int           `json:"files"`
	Skipped  []string      `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
}

// Ingester turns a corpus into stored entries.
type Ingester struct {
	cfg Config
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Ingester, error) {
	if cfg.Embedder == nil {
		return nil, ErrNilEmbedder
	}
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	if cfg.Chunker == nil {
		cfg.Chunker = chunk.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reader == nil {
		cfg.Reader = corpus.NewReader(corpus.WithLogger(cfg.Logger))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	if cfg.BatchSize > embed.MaxBatchSize {
		return nil, ragerrors.ConfigError(
			fmt.Sprintf("batch size %d exceeds maximum %d", cfg.BatchSize, embed.MaxBatchSize), nil)
	}
	return &Ingester{cfg: cfg}, nil
}

// Ingest reads every document under root and stores its chunks under
// corpusID. Each file is embedded and put as one unit. The first embedder or
// store failure cancels the remaining work; files already put stay stored.
func (in *Ingester) Ingest(ctx context.Context, root, corpusID string) (*Result, error) {
	if corpusID == "" {
		return nil, ragerrors.ValidationError("corpus id is required", nil)
	}
	if root == "" {
		return nil, ragerrors.ValidationError("ingest path is required", nil)
	}

	unlock, err := in.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	logger := in.cfg.Logger.With(slog.String("corpus_id", corpusID))
	logger.Info("ingest_started",
		slog.String("root", root),
		slog.Int("workers", in.cfg.Workers),
		slog.String("model", in.cfg.Embedder.ModelName()))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Workers)

	docs, err := in.cfg.Reader.Read(gctx, root)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		res = &Result{CorpusID: corpusID, Skipped: []string{}}
	)
	for doc := range docs {
		if gctx.Err() != nil {
			continue // drain until the reader notices
		}
		g.Go(func() error {
			n, err := in.ingestDocument(gctx, corpusID, doc)
			if err != nil {
				return err
			}
			mu.Lock()
			res.Files++
			res.Entries += n
			if doc.Unreadable {
				res.Skipped = append(res.Skipped, doc.Path)
			}
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	res.Duration = time.Since(start)

	if err != nil {
		logger.Error("ingest_failed",
			slog.Int("files", res.Files),
			slog.Int("entries", res.Entries),
			slog.String("error", err.Error()))
		return res, err
	}

	logger.Info("ingest_complete",
		slog.Int("files", res.Files),
		slog.Int("entries", res.Entries),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int64("duration_ms", res.Duration.Milliseconds()))
	return res, nil
}

// IngestFile re-ingests the single file root/rel. A file that no longer
// exists or is now excluded has its entries removed. It returns the number
// of entries written.
func (in *Ingester) IngestFile(ctx context.Context, root, rel, corpusID string) (int, error) {
	rel = filepath.ToSlash(filepath.Clean(rel))
	doc, ok := in.cfg.Reader.ReadOne(root, rel)
	if !ok || (doc.Unreadable && errors.Is(doc.Err, fs.ErrNotExist)) {
		_, err := in.RemoveFile(ctx, corpusID, rel)
		return 0, err
	}
	return in.ingestDocument(ctx, corpusID, doc)
}

// RemoveFile drops every entry of (corpusID, rel).
func (in *Ingester) RemoveFile(ctx context.Context, corpusID, rel string) (int, error) {
	n, err := in.cfg.Store.TruncatePath(ctx, corpusID, rel, 0)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		in.cfg.Logger.Info("ingest_file_removed",
			slog.String("corpus_id", corpusID),
			slog.String("path", rel),
			slog.Int("entries", n))
	}
	return n, nil
}

// RemoveTree drops the entries of rel and of every path below it. Watchers
// use it when a removed path may have been a directory.
func (in *Ingester) RemoveTree(ctx context.Context, corpusID, rel string) (int, error) {
	rel = filepath.ToSlash(filepath.Clean(rel))
	entries, err := in.cfg.Store.List(ctx, corpusID)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	total := 0
	for _, e := range entries {
		p := e.Metadata.Path
		if seen[p] || (p != rel && !strings.HasPrefix(p, rel+"/")) {
			continue
		}
		seen[p] = true
		n, err := in.RemoveFile(ctx, corpusID, p)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (in *Ingester) ingestDocument(ctx context.Context, corpusID string, doc corpus.Document) (int, error) {
	chunks := in.cfg.Chunker.Chunk(doc.Text)
	entries := entry.Build(corpusID, doc.Path, chunks)

	for start := 0; start < len(entries); start += in.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := min(start+in.cfg.BatchSize, len(entries))
		batch := entries[start:end]

		vectors, err := in.cfg.Embedder.EmbedBatch(ctx, entry.Texts(batch))
		if err != nil {
			return 0, fmt.Errorf("embed %s: %w", doc.Path, err)
		}
		if err := entry.Attach(batch, vectors); err != nil {
			return 0, err
		}
	}

	if err := in.cfg.Store.Put(ctx, entries); err != nil {
		return 0, fmt.Errorf("store %s: %w", doc.Path, err)
	}

	// A shorter re-ingest must not leave old trailing chunks behind.
	pruned, err := in.cfg.Store.TruncatePath(ctx, corpusID, doc.Path, len(entries))
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", doc.Path, err)
	}

	in.cfg.Logger.Debug("ingest_file_complete",
		slog.String("corpus_id", corpusID),
		slog.String("path", doc.Path),
		slog.Int("chunks", len(entries)),
		slog.Int("pruned", pruned))
	return len(entries), nil
}

func (in *Ingester) lock(ctx context.Context) (func(), error) {
	if in.cfg.LockDir == "" {
		return func() {}, nil
	}
	l := store.NewIngestLock(in.cfg.LockDir)
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := l.Unlock(); err != nil {
			in.cfg.Logger.Warn("ingest_unlock_failed", slog.String("error", err.Error()))
		}
	}, nil
}
