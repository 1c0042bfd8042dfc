// Package entry defines the unit of storage and retrieval: one chunk of one
// document with its provenance and embedding.
package entry

import (
	"fmt"
	"strconv"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

// Metadata records where an entry came from. It is immutable after Build.
type Metadata struct {
	CorpusID   string `json:"corpus_id"`
	Path       string `json:"path"`
	ChunkIndex int    `json:"chunk_index"`
}

// Entry is a single stored chunk.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Metadata  Metadata  `json:"meta"`
	Embedding []float32 `json:"embedding"`
}

// ID derives the entry id "corpus::path::chunkN". Re-ingesting the same input
// reproduces the same id, which makes puts idempotent.
func ID(corpusID, path string, chunkIndex int) string {
	return corpusID + "::" + path + "::chunk" + strconv.Itoa(chunkIndex)
}

// Build creates one entry per chunk, indexed from 0 in chunk order.
// Embeddings are left nil; see Attach.
func Build(corpusID, path string, chunks []string) []Entry {
	entries := make([]Entry, len(chunks))
	for i, text := range chunks {
		entries[i] = Entry{
			ID:   ID(corpusID, path, i),
			Text: text,
			Metadata: Metadata{
				CorpusID:   corpusID,
				Path:       path,
				ChunkIndex: i,
			},
		}
	}
	return entries
}

// Texts returns the chunk texts of entries, in order.
func Texts(entries []Entry) []string {
	texts := make([]string, len(entries))
	for i := range entries {
		texts[i] = entries[i].Text
	}
	return texts
}

// Attach sets entries[i].Embedding = vectors[i]. The counts must match.
func Attach(entries []Entry, vectors [][]float32) error {
	if len(entries) != len(vectors) {
		return ragerrors.InternalError(
			fmt.Sprintf("embedding count mismatch: %d entries, %d vectors", len(entries), len(vectors)), nil)
	}
	for i := range entries {
		entries[i].Embedding = vectors[i]
	}
	return nil
}

// Clone returns a deep copy of e, so callers cannot mutate stored vectors.
func (e Entry) Clone() Entry {
	if e.Embedding != nil {
		e.Embedding = append([]float32(nil), e.Embedding...)
	}
	return e
}
