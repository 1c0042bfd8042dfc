// Package store persists entries and answers top-K cosine similarity queries.
//
// All implementations share one contract:
//   - Put upserts by id. If any vector has the wrong dimension the whole
//     batch is rejected with DimensionMismatch and nothing changes.
//   - Search returns at most topK results ordered by descending cosine
//     similarity; equal scores keep insertion order (an upsert keeps the
//     position of the original insert).
//   - Searching an empty store returns an empty slice, never an error.
//   - Readers never observe a partially applied Put.
package store

import (
	"context"
	"errors"

	"github.com/Aman-CERP/gitingest/internal/entry"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Result is one search hit.
type Result struct {
	Entry entry.Entry
	Score float64
}

// CorpusInfo summarizes one ingested corpus.
type CorpusInfo struct {
	ID      string `json:"id"`
	Entries int    `json:"entries"`
	Paths   int    `json:"paths"`
}

// Store is the vector store contract.
type Store interface {
	// Put upserts entries by id.
	Put(ctx context.Context, entries []entry.Entry) error

	// Search returns the topK entries most similar to query.
	Search(ctx context.Context, query []float32, topK int) ([]Result, error)

	// Get returns the entry with id, if present.
	Get(ctx context.Context, id string) (entry.Entry, bool, error)

	// List returns the entries of corpusID in insertion order. An empty
	// corpusID lists every entry.
	List(ctx context.Context, corpusID string) ([]entry.Entry, error)

	// Corpora summarizes every corpus in the store, sorted by id.
	Corpora(ctx context.Context) ([]CorpusInfo, error)

	// DeleteCorpus removes every entry of corpusID and returns how many
	// were removed.
	DeleteCorpus(ctx context.Context, corpusID string) (int, error)

	// TruncatePath removes the entries of (corpusID, path) whose chunk index
	// is >= keep. keep = 0 removes the path entirely.
	TruncatePath(ctx context.Context, corpusID, path string, keep int) (int, error)

	// Count returns the number of stored entries.
	Count() int

	// Dimensions returns the fixed vector length, or 0 before the first Put
	// when the store was created without one.
	Dimensions() int

	Close() error
}
