package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/gitingest/internal/logging"
)

func startWatcher(t *testing.T, root string, opts Options) *Watcher {
	t.Helper()
	opts.Logger = logging.Discard()
	if opts.DebounceWindow == 0 {
		opts.DebounceWindow = 50 * time.Millisecond
	}
	w, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx, root)
	}()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
		<-done
	})
	// Let the initial directory walk or baseline scan finish.
	time.Sleep(100 * time.Millisecond)
	return w
}

// collect gathers events until want is satisfied or the timeout passes.
func collect(t *testing.T, w *Watcher, timeout time.Duration, want func(map[string]Operation) bool) map[string]Operation {
	t.Helper()
	seen := make(map[string]Operation)
	deadline := time.After(timeout)
	for !want(seen) {
		select {
		case batch, ok := <-w.Events():
			if !ok {
				return seen
			}
			for _, ev := range batch {
				seen[ev.Path] = ev.Operation
			}
		case <-deadline:
			return seen
		}
	}
	return seen
}

func TestWatcher_FsnotifyReportsCreateAndDelete(t *testing.T) {
	// Given: a watched empty directory
	root := t.TempDir()
	w := startWatcher(t, root, Options{})
	if w.Mode() != "fsnotify" {
		t.Skip("fsnotify unavailable")
	}

	// When: a file is created
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644))

	// Then: a create event arrives with a relative path
	seen := collect(t, w, 3*time.Second, func(m map[string]Operation) bool { _, ok := m["a.txt"]; return ok })
	assert.Equal(t, OpCreate, seen["a.txt"])

	// When: it is deleted
	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))

	// Then: a delete follows
	seen = collect(t, w, 3*time.Second, func(m map[string]Operation) bool { return m["a.txt"] == OpDelete })
	assert.Equal(t, OpDelete, seen["a.txt"])
}

func TestWatcher_FsnotifyPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, Options{})
	if w.Mode() != "fsnotify" {
		t.Skip("fsnotify unavailable")
	}

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep", "n.txt"), []byte("x"), 0644))

	seen := collect(t, w, 3*time.Second, func(m map[string]Operation) bool { _, ok := m["sub/deep/n.txt"]; return ok })
	assert.Contains(t, seen, "sub/deep/n.txt")
}

func TestWatcher_IgnoredPathsAreDropped(t *testing.T) {
	root := t.TempDir()
	ignore := func(rel string, isDir bool) bool { return strings.HasSuffix(rel, ".log") }
	w := startWatcher(t, root, Options{Ignore: ignore})

	require.NoError(t, os.WriteFile(filepath.Join(root, "debug.log"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("x"), 0644))

	seen := collect(t, w, 3*time.Second, func(m map[string]Operation) bool { _, ok := m["keep.txt"]; return ok })
	assert.Contains(t, seen, "keep.txt")
	assert.NotContains(t, seen, "debug.log")
}

func TestWatcher_PollingFallback(t *testing.T) {
	// Given: a watcher forced into polling mode with an existing file
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.txt"), []byte("a"), 0644))
	w := startWatcher(t, root, Options{ForcePolling: true, PollInterval: 50 * time.Millisecond})
	require.Equal(t, "polling", w.Mode())

	// When: one file is added, one grows and the baseline file is removed
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("b"), 0644))
	require.NoError(t, os.Remove(filepath.Join(root, "old.txt")))

	// Then: the scan diff reports both
	seen := collect(t, w, 3*time.Second, func(m map[string]Operation) bool {
		return m["new.txt"] == OpCreate && m["old.txt"] == OpDelete
	})
	assert.Equal(t, OpCreate, seen["new.txt"])
	assert.Equal(t, OpDelete, seen["old.txt"])
}

func TestPoller_DetectModify(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	var got []FileEvent
	p := newPoller(root, time.Hour, func(string, bool) bool { return false }, func(ev FileEvent) { got = append(got, ev) })
	base, err := p.scan()
	require.NoError(t, err)
	p.state = base

	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))
	require.NoError(t, p.detect())

	require.Len(t, got, 1)
	assert.Equal(t, FileEvent{Path: "f.txt", Operation: OpModify, Timestamp: got[0].Timestamp}, got[0])
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(Options{Logger: logging.Discard()})
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
}
