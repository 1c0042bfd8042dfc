package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// poller detects changes by rescanning the tree. It is the fallback for
// file systems where fsnotify does not work, such as some network mounts.
type poller struct {
	root     string
	interval time.Duration
	ignore   IgnoreFunc
	emit     func(FileEvent)

	mu    sync.Mutex
	state map[string]snapshot
}

type snapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

func newPoller(root string, interval time.Duration, ignore IgnoreFunc, emit func(FileEvent)) *poller {
	return &poller{
		root:     root,
		interval: interval,
		ignore:   ignore,
		emit:     emit,
		state:    make(map[string]snapshot),
	}
}

// run records a baseline and then scans every interval until ctx or stop
// is done.
func (p *poller) run(ctx context.Context, stop <-chan struct{}) error {
	baseline, err := p.scan()
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	p.mu.Lock()
	p.state = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			if err := p.detect(); err != nil {
				return err
			}
		}
	}
}

func (p *poller) scan() (map[string]snapshot, error) {
	current := make(map[string]snapshot)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if p.ignore(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		current[rel] = snapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	return current, err
}

// detect diffs a fresh scan against the previous one.
func (p *poller) detect() error {
	current, err := p.scan()
	if err != nil {
		return fmt.Errorf("scan for changes: %w", err)
	}

	p.mu.Lock()
	prev := p.state
	p.state = current
	p.mu.Unlock()

	now := time.Now()
	for rel, snap := range current {
		old, ok := prev[rel]
		switch {
		case !ok:
			p.emit(FileEvent{Path: rel, Operation: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case !snap.isDir && (old.modTime != snap.modTime || old.size != snap.size):
			p.emit(FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel, snap := range prev {
		if _, ok := current[rel]; !ok {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, IsDir: snap.isDir, Timestamp: now})
		}
	}
	return nil
}
