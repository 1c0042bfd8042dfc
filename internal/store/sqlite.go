package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"github.com/Aman-CERP/gitingest/internal/entry"
	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

const (
	metaDimensions = "dimensions"

	// loadBatch is how many rows are replayed into memory per Put on open.
	loadBatch = 512
)

const schema = `
CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	corpus_id   TEXT NOT NULL,
	path        TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	embedding   BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_corpus_path ON entries(corpus_id, path);
`

const upsertEntry = `INSERT INTO entries(id, corpus_id, path, chunk_index, text, embedding)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	corpus_id = excluded.corpus_id,
	path = excluded.path,
	chunk_index = excluded.chunk_index,
	text = excluded.text,
	embedding = excluded.embedding`

// SQLiteStore persists entries in a single SQLite file and serves searches
// from an in-memory index loaded at open. Writes commit to disk first and
// are applied in memory only after the commit succeeds.
type SQLiteStore struct {
	writeMu sync.Mutex // serializes Put/Delete and guards closed
	closed  bool

	db     *sql.DB
	path   string
	mem    *MemoryStore
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// validateIntegrity runs PRAGMA integrity_check on an existing file.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// OpenSQLite opens or creates the store at path. An empty path opens a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, ragerrors.IOError("failed to create store directory "+dir, err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, ragerrors.New(ragerrors.ErrCodeCorruptStore, "store is corrupted: "+path, err).
				WithDetail("path", path).
				WithSuggestion("Delete the store file and ingest again")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to open store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN parameters, so set pragmas directly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to set pragma", err).
				WithDetail("pragma", pragma)
		}
	}

	s, err := NewSQLiteStoreWithDB(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.path = path
	return s, nil
}

// NewSQLiteStoreWithDB wraps an open database, creating the schema if needed
// and loading every stored entry into memory.
func NewSQLiteStoreWithDB(ctx context.Context, db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to initialize schema", err)
	}

	dims, err := loadDimensions(ctx, db)
	if err != nil {
		return nil, err
	}
	if dims != 0 && o.dims != 0 && dims != o.dims {
		return nil, ragerrors.DimensionMismatch(dims, o.dims).
			WithDetail("reason", "store was built with a different embedding model")
	}
	if dims == 0 {
		dims = o.dims
	}

	s := &SQLiteStore{
		db:     db,
		mem:    NewMemoryStore(append(slices.Clip(opts), WithDimensions(dims))...),
		logger: o.logger,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	s.logger.Debug("store_opened",
		slog.Int("entries", s.mem.Count()),
		slog.Int("dimensions", s.mem.Dimensions()))
	return s, nil
}

func loadDimensions(ctx context.Context, db *sql.DB) (int, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, metaDimensions).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to read store metadata", err)
	}
	dims, err := strconv.Atoi(value)
	if err != nil || dims <= 0 {
		return 0, ragerrors.New(ragerrors.ErrCodeCorruptStore, "invalid stored dimensions: "+value, err)
	}
	return dims, nil
}

// load replays rows in seq order, so tie-breaking survives a restart.
func (s *SQLiteStore) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, corpus_id, path, chunk_index, text, embedding FROM entries ORDER BY seq`)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to load entries", err)
	}
	defer rows.Close()

	batch := make([]entry.Entry, 0, loadBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.mem.Put(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		var (
			e    entry.Entry
			blob []byte
		)
		if err := rows.Scan(&e.ID, &e.Metadata.CorpusID, &e.Metadata.Path,
			&e.Metadata.ChunkIndex, &e.Text, &blob); err != nil {
			return ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to scan entry", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return ragerrors.New(ragerrors.ErrCodeCorruptStore, "corrupt embedding for "+e.ID, err)
		}
		e.Embedding = vec
		batch = append(batch, e)
		if len(batch) == loadBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to load entries", err)
	}
	return flush()
}

// Put upserts entries in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, entries []entry.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.mem.validate(entries); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.mem.Dimensions() == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO store_meta(key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			metaDimensions, strconv.Itoa(len(entries[0].Embedding))); err != nil {
			return ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to record dimensions", err)
		}
	}

	for i := range entries {
		e := &entries[i]
		if _, err := tx.ExecContext(ctx, upsertEntry,
			e.ID, e.Metadata.CorpusID, e.Metadata.Path, e.Metadata.ChunkIndex,
			e.Text, encodeVector(e.Embedding)); err != nil {
			return ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to write entry "+e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to commit entries", err)
	}

	// The batch is on disk; memory must follow even if ctx is done by now.
	return s.mem.Put(context.WithoutCancel(ctx), entries)
}

// Search delegates to the in-memory index.
func (s *SQLiteStore) Search(ctx context.Context, query []float32, topK int) ([]Result, error) {
	return s.mem.Search(ctx, query, topK)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (entry.Entry, bool, error) {
	return s.mem.Get(ctx, id)
}

func (s *SQLiteStore) List(ctx context.Context, corpusID string) ([]entry.Entry, error) {
	return s.mem.List(ctx, corpusID)
}

func (s *SQLiteStore) Corpora(ctx context.Context) ([]CorpusInfo, error) {
	return s.mem.Corpora(ctx)
}

// DeleteCorpus removes every entry of corpusID from disk and memory.
func (s *SQLiteStore) DeleteCorpus(ctx context.Context, corpusID string) (int, error) {
	return s.deleteWhere(ctx,
		`DELETE FROM entries WHERE corpus_id = ?`, []any{corpusID},
		func(ctx context.Context) (int, error) { return s.mem.DeleteCorpus(ctx, corpusID) })
}

// TruncatePath removes chunks of (corpusID, path) with index >= keep.
func (s *SQLiteStore) TruncatePath(ctx context.Context, corpusID, path string, keep int) (int, error) {
	return s.deleteWhere(ctx,
		`DELETE FROM entries WHERE corpus_id = ? AND path = ? AND chunk_index >= ?`,
		[]any{corpusID, path, keep},
		func(ctx context.Context) (int, error) { return s.mem.TruncatePath(ctx, corpusID, path, keep) })
}

func (s *SQLiteStore) deleteWhere(ctx context.Context, query string, args []any,
	applyMem func(context.Context) (int, error)) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, ragerrors.New(ragerrors.ErrCodeStoreFailed, "failed to delete entries", err)
	}
	return applyMem(context.WithoutCancel(ctx))
}

func (s *SQLiteStore) Count() int      { return s.mem.Count() }
func (s *SQLiteStore) Dimensions() int { return s.mem.Dimensions() }

// Path returns the database file, or "" for an in-memory store.
func (s *SQLiteStore) Path() string { return s.path }

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.mem.Close()

	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

// encodeVector stores v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
