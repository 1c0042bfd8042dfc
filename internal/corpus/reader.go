// Package corpus walks a file or directory tree and yields its documents.
package corpus

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

// DefaultMaxFileSize is the largest file read by default (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// alwaysSkipDirs are VCS directories that are never part of a corpus.
var alwaysSkipDirs = []string{".git", ".hg", ".svn"}

// Document is one file of a corpus.
type Document struct {
	// Path is relative to the ingest root, slash-separated. For a single
	// file root it is the base name.
	Path string

	// Text is the decoded content with invalid UTF-8 removed.
	Text string

	// Unreadable is set when the file could not be read. Text is empty
	// and Err holds an UnreadableFile error.
	Unreadable bool
	Err        error
}

// Option configures a Reader.
type Option func(*Reader)

// WithExclude adds exclusion patterns such as "**/node_modules/**" or "*.lock".
func WithExclude(patterns ...string) Option {
	return func(r *Reader) {
		r.exclude = append(r.exclude, patterns...)
	}
}

// WithMaxFileSize skips files larger than n bytes. n <= 0 disables the limit.
func WithMaxFileSize(n int64) Option {
	return func(r *Reader) {
		r.maxFileSize = n
	}
}

// WithLogger sets the logger for skipped and unreadable files.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// Reader produces the documents of a corpus in a deterministic order.
type Reader struct {
	exclude     []string
	maxFileSize int64
	logger      *slog.Logger
}

// NewReader creates a Reader.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read starts walking root and returns a channel of documents. The channel
// is closed when the walk ends or ctx is cancelled.
func (r *Reader) Read(ctx context.Context, root string) (<-chan Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ragerrors.New(ragerrors.ErrCodeInvalidPath, "path does not exist: "+root, err).
				WithDetail("path", root)
		}
		return nil, ragerrors.IOError("cannot access "+root, err)
	}

	out := make(chan Document, 16)
	go func() {
		defer close(out)
		if !info.IsDir() {
			r.emit(ctx, out, r.readFile(root, filepath.Base(root)))
			return
		}
		r.walk(ctx, root, out)
	}()
	return out, nil
}

// ReadAll collects every document under root.
func (r *Reader) ReadAll(ctx context.Context, root string) ([]Document, error) {
	ch, err := r.Read(ctx, root)
	if err != nil {
		return nil, err
	}
	var docs []Document
	for doc := range ch {
		docs = append(docs, doc)
	}
	if err := ctx.Err(); err != nil {
		return docs, err
	}
	return docs, nil
}

// ReadOne reads the single file root/rel. Exclusions and the size limit
// apply; a skipped file returns ok = false.
func (r *Reader) ReadOne(root, rel string) (doc Document, ok bool) {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if r.Excluded(rel, false) {
		return Document{}, false
	}

	abs := filepath.Join(root, filepath.FromSlash(rel))
	if r.maxFileSize > 0 {
		if fi, err := os.Stat(abs); err == nil && fi.Size() > r.maxFileSize {
			return Document{}, false
		}
	}
	return r.readFile(abs, rel), true
}

// Excluded reports whether the slash-separated rel path would be skipped by
// a walk. Directories are matched against directory patterns only.
func (r *Reader) Excluded(rel string, isDir bool) bool {
	rel = path.Clean(rel)
	if rel == "." {
		return false
	}
	if isDir {
		return r.excludeDirPath(rel)
	}
	if dir := path.Dir(rel); dir != "." && r.excludeDirPath(dir) {
		return true
	}
	return r.excludeFile(rel)
}

func (r *Reader) emit(ctx context.Context, out chan<- Document, doc Document) bool {
	select {
	case out <- doc:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Reader) walk(ctx context.Context, root string, out chan<- Document) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return err
		}

		if err != nil {
			if d != nil && d.IsDir() {
				r.logger.Warn("ingest_dir_unreadable",
					slog.String("path", rel),
					slog.String("error", err.Error()))
				return filepath.SkipDir
			}
			if !r.emit(ctx, out, r.unreadable(rel, err)) {
				return ctx.Err()
			}
			return nil
		}

		if d.IsDir() {
			if r.excludeDir(d.Name(), rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			r.logger.Debug("ingest_file_skipped",
				slog.String("path", rel),
				slog.String("reason", "not a regular file"))
			return nil
		}
		if r.excludeFile(rel) {
			return nil
		}
		if r.maxFileSize > 0 {
			if fi, err := d.Info(); err == nil && fi.Size() > r.maxFileSize {
				r.logger.Info("ingest_file_skipped",
					slog.String("path", rel),
					slog.String("reason", "too large"),
					slog.Int64("size", fi.Size()))
				return nil
			}
		}

		if !r.emit(ctx, out, r.readFile(path, rel)) {
			return ctx.Err()
		}
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.logger.Warn("ingest_walk_failed", slog.String("root", root), slog.String("error", err.Error()))
	}
}

func (r *Reader) readFile(path, rel string) Document {
	data, err := os.ReadFile(path)
	if err != nil {
		return r.unreadable(rel, err)
	}
	return Document{Path: rel, Text: strings.ToValidUTF8(string(data), "")}
}

func (r *Reader) unreadable(rel string, cause error) Document {
	rerr := ragerrors.UnreadableFile(rel, cause)
	r.logger.Warn("ingest_file_unreadable",
		slog.String("path", rel),
		slog.String("error_code", rerr.Code),
		slog.String("error", cause.Error()))
	return Document{Path: rel, Unreadable: true, Err: rerr}
}

func (r *Reader) excludeDir(name, rel string) bool {
	for _, skip := range alwaysSkipDirs {
		if name == skip {
			return true
		}
	}
	for _, pattern := range r.exclude {
		if matchDir(rel, pattern) {
			return true
		}
	}
	return false
}

// excludeDirPath checks dir and each of its ancestors.
func (r *Reader) excludeDirPath(dir string) bool {
	parts := strings.Split(dir, "/")
	for i := range parts {
		if r.excludeDir(parts[i], strings.Join(parts[:i+1], "/")) {
			return true
		}
	}
	return false
}

func (r *Reader) excludeFile(rel string) bool {
	for _, pattern := range r.exclude {
		if matchFile(rel, pattern) {
			return true
		}
	}
	return false
}
