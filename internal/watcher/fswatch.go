package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a directory tree recursively and emits debounced batches.
// It uses fsnotify and falls back to polling when fsnotify cannot start.
type Watcher struct {
	opts      Options
	logger    *slog.Logger
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}

	mu      sync.RWMutex
	root    string
	dirs    map[string]bool
	stopped bool

	droppedBatches atomic.Uint64
}

// New creates a watcher. It does not watch anything until Start.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()
	w := &Watcher{
		opts:      opts,
		logger:    opts.Logger,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.Logger),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		dirs:      make(map[string]bool),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsw = fsw
		} else {
			w.logger.Warn("watch_fsnotify_unavailable", slog.String("error", err.Error()))
		}
	}
	return w, nil
}

// Start watches root until ctx is cancelled or Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.mu.Lock()
	w.root = abs
	w.mu.Unlock()

	go w.forward(ctx)
	w.logger.Info("watch_started", slog.String("root", abs), slog.String("mode", w.Mode()))

	if w.fsw == nil {
		p := newPoller(abs, w.opts.PollInterval, w.opts.Ignore, w.debouncer.Add)
		err := p.run(ctx, w.stopCh)
		if ctx.Err() != nil {
			_ = w.Stop()
		}
		return err
	}
	return w.runFsnotify(ctx)
}

func (w *Watcher) runFsnotify(ctx context.Context) error {
	if err := w.addRecursive(w.root, false); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	} else {
		w.mu.RLock()
		isDir = w.dirs[rel]
		w.mu.RUnlock()
	}
	if w.opts.Ignore(rel, isDir) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			// Files can land in a new directory before its watch exists.
			if err := w.addRecursive(ev.Name, true); err != nil {
				w.emitError(err)
			}
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
		w.forgetDir(rel)
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
		w.forgetDir(rel)
	default:
		return
	}

	w.debouncer.Add(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// addRecursive watches dir and its subdirectories. With emitFiles, files
// already present are reported as created.
func (w *Watcher) addRecursive(dir string, emitFiles bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !d.IsDir() {
			if emitFiles && d.Type().IsRegular() && !w.opts.Ignore(rel, false) {
				w.debouncer.Add(FileEvent{Path: rel, Operation: OpCreate, Timestamp: time.Now()})
			}
			return nil
		}
		if rel != "." && w.opts.Ignore(rel, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.mu.Lock()
		w.dirs[rel] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) forgetDir(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for d := range w.dirs {
		if d == rel || strings.HasPrefix(d, rel+"/") {
			delete(w.dirs, d)
		}
	}
}

func (w *Watcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.emitEvents(batch)
		}
	}
}

func (w *Watcher) emitEvents(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.droppedBatches.Add(1)
		w.logger.Warn("watch_batch_dropped",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", n))
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Stop releases resources and closes Events and Errors. Safe to call more
// than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced batches.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Mode is "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// DroppedBatches returns how many batches were dropped on a full buffer.
func (w *Watcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}
