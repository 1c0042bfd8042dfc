package watcher

import (
	"context"
	"log/slog"
	"time"
)

// Indexer is the part of the ingest pipeline a Syncer drives.
// *pipeline.Ingester implements it.
type Indexer interface {
	IngestFile(ctx context.Context, root, rel, corpusID string) (int, error)
	RemoveTree(ctx context.Context, corpusID, rel string) (int, error)
}

// SyncStats summarizes one applied batch.
type SyncStats struct {
	Ingested int
	Removed  int
	Failed   int
}

// Syncer applies watcher batches to one corpus.
type Syncer struct {
	indexer  Indexer
	root     string
	corpusID string
	logger   *slog.Logger
}

// NewSyncer creates a Syncer for the corpus rooted at root.
func NewSyncer(indexer Indexer, root, corpusID string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{indexer: indexer, root: root, corpusID: corpusID, logger: logger}
}

// Run applies batches until events is closed or ctx is done.
func (s *Syncer) Run(ctx context.Context, events <-chan []FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			s.Apply(ctx, batch)
		}
	}
}

// Apply re-ingests created and modified files and drops removed paths.
// A failure on one path is logged and does not stop the rest of the batch.
func (s *Syncer) Apply(ctx context.Context, batch []FileEvent) SyncStats {
	start := time.Now()
	var stats SyncStats

	for _, ev := range batch {
		if ctx.Err() != nil {
			break
		}

		var err error
		switch ev.Operation {
		case OpCreate, OpModify:
			if ev.IsDir {
				continue
			}
			var n int
			n, err = s.indexer.IngestFile(ctx, s.root, ev.Path, s.corpusID)
			stats.Ingested += n
		case OpDelete, OpRename:
			var n int
			n, err = s.indexer.RemoveTree(ctx, s.corpusID, ev.Path)
			stats.Removed += n
		}

		if err != nil {
			stats.Failed++
			s.logger.Warn("watch_sync_failed",
				slog.String("corpus_id", s.corpusID),
				slog.String("path", ev.Path),
				slog.String("op", ev.Operation.String()),
				slog.String("error", err.Error()))
		}
	}

	s.logger.Info("watch_sync_complete",
		slog.String("corpus_id", s.corpusID),
		slog.Int("events", len(batch)),
		slog.Int("ingested", stats.Ingested),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", stats.Failed),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return stats
}
