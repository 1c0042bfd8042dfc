package watcher

import (
	"log/slog"
	"time"
)

// Operation is a file system operation type.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	// OpRename is reported for the old name. The new name arrives as OpCreate.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change below the watched root.
type FileEvent struct {
	// Path is relative to the root and slash-separated.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// IgnoreFunc reports whether a slash-separated relative path is outside the
// corpus. corpus.Reader.Excluded has this signature.
type IgnoreFunc func(rel string, isDir bool) bool

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the scan interval of the polling fallback.
	// Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the number of batches buffered for the consumer.
	// Default: 100
	EventBufferSize int

	// ForcePolling skips fsnotify.
	ForcePolling bool

	Ignore IgnoreFunc
	Logger *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 100,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.Ignore == nil {
		o.Ignore = func(string, bool) bool { return false }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
