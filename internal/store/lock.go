package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

// LockFileName is created next to the store file.
const LockFileName = ".ingest.lock"

// IngestLock keeps two gitingest processes from writing the same store.
// Readers do not take it.
type IngestLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewIngestLock creates a lock file handle in dir. Nothing is locked yet.
func NewIngestLock(dir string) *IngestLock {
	lockPath := filepath.Join(dir, LockFileName)
	return &IngestLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock blocks until the lock is held or ctx is done.
func (l *IngestLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := l.flock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return ragerrors.New(ragerrors.ErrCodeStoreLocked, "store is locked by another process", err).
				WithDetail("lock", l.path)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return ragerrors.New(ragerrors.ErrCodeStoreLocked, "store is locked by another process", nil).
			WithDetail("lock", l.path)
	}
	l.locked = true
	return nil
}

// TryLock attempts to take the lock without blocking.
func (l *IngestLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *IngestLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *IngestLock) Path() string {
	return l.path
}
