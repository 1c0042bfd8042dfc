package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/gitingest/internal/chunk"
	"github.com/Aman-CERP/gitingest/internal/corpus"
	"github.com/Aman-CERP/gitingest/internal/embed"
	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
	"github.com/Aman-CERP/gitingest/internal/logging"
	"github.com/Aman-CERP/gitingest/internal/store"
)

// failingEmbedder fails every call after the first ok calls.
type failingEmbedder struct {
	inner embed.Embedder
	ok    int32
	calls atomic.Int32
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.calls.Add(1) > f.ok {
		return nil, ragerrors.ModelUnavailable("broken", errors.New("connection refused"))
	}
	return f.inner.EmbedBatch(ctx, texts)
}

func (f *failingEmbedder) Dimensions() int                    { return f.inner.Dimensions() }
func (f *failingEmbedder) ModelName() string                  { return "broken" }
func (f *failingEmbedder) Available(ctx context.Context) bool { return false }
func (f *failingEmbedder) Close() error                       { return nil }

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

func newIngester(t *testing.T, s store.Store, e embed.Embedder, maxWords, overlap int) *Ingester {
	t.Helper()
	c, err := chunk.NewChunker(maxWords, overlap)
	require.NoError(t, err)
	logger := logging.Discard()
	in, err := New(Config{
		Embedder: e,
		Store:    s,
		Chunker:  c,
		Reader:   corpus.NewReader(corpus.WithLogger(logger)),
		Workers:  4,
		Logger:   logger,
	})
	require.NoError(t, err)
	return in
}

func TestIngest_EndToEndFindsExactChunk(t *testing.T) {
	// Given: a one-file corpus and a 2-word window with overlap 1
	ctx := context.Background()
	root := writeTree(t, map[string]string{"doc.txt": "one two three four five"})
	emb := embed.NewStaticEmbedder()
	s := store.NewMemoryStore()
	in := newIngester(t, s, emb, 2, 1)

	// When: ingesting and querying with the text of one chunk
	res, err := in.Ingest(ctx, root, "demo")
	require.NoError(t, err)
	qv, err := emb.Embed(ctx, "two three")
	require.NoError(t, err)
	results, err := s.Search(ctx, qv, 1)
	require.NoError(t, err)

	// Then: four chunks are stored and the matching one scores 1.0
	assert.Equal(t, 4, res.Entries)
	assert.Equal(t, 1, res.Files)
	assert.Empty(t, res.Skipped)
	require.Len(t, results, 1)
	assert.Equal(t, "demo::doc.txt::chunk1", results[0].Entry.ID)
	assert.Equal(t, "two three", results[0].Entry.Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestIngest_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{
		"a.md":     "alpha beta gamma delta epsilon zeta eta theta",
		"sub/b.md": "iota kappa lambda",
	})
	s := store.NewMemoryStore()
	in := newIngester(t, s, embed.NewStaticEmbedder(), 3, 1)

	first, err := in.Ingest(ctx, root, "c")
	require.NoError(t, err)
	count := s.Count()

	second, err := in.Ingest(ctx, root, "c")
	require.NoError(t, err)

	assert.Equal(t, first.Entries, second.Entries)
	assert.Equal(t, count, s.Count())
}

func TestIngest_ShorterFilePrunesStaleChunks(t *testing.T) {
	// Given: a file that produced four chunks
	ctx := context.Background()
	root := writeTree(t, map[string]string{"f.txt": "one two three four five"})
	s := store.NewMemoryStore()
	in := newIngester(t, s, embed.NewStaticEmbedder(), 2, 1)
	_, err := in.Ingest(ctx, root, "c")
	require.NoError(t, err)
	require.Equal(t, 4, s.Count())

	// When: the file shrinks and is re-ingested
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("one two three"), 0644))
	_, err = in.Ingest(ctx, root, "c")
	require.NoError(t, err)

	// Then: only the new chunks remain
	list, err := s.List(ctx, "c")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "one two", list[0].Text)
	assert.Equal(t, "two three", list[1].Text)
}

func TestIngest_EmptyFileYieldsOneEmptyChunk(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{"empty.txt": ""})
	s := store.NewMemoryStore()
	in := newIngester(t, s, embed.NewStaticEmbedder(), 10, 2)

	res, err := in.Ingest(ctx, root, "c")

	require.NoError(t, err)
	assert.Equal(t, 1, res.Entries)
	got, ok, err := s.Get(ctx, "c::empty.txt::chunk0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "", got.Text)
}

func TestIngest_ManyFilesAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	files := make(map[string]string)
	for i := 0; i < 40; i++ {
		files[fmt.Sprintf("d%d/f%02d.txt", i%4, i)] = fmt.Sprintf("file %d has some words in it", i)
	}
	root := writeTree(t, files)
	s := store.NewMemoryStore()
	in := newIngester(t, s, embed.NewStaticEmbedder(), 4, 1)

	res, err := in.Ingest(ctx, root, "bulk")

	require.NoError(t, err)
	assert.Equal(t, 40, res.Files)
	// 7 words, window 4 step 3 -> 2 chunks each
	assert.Equal(t, 80, res.Entries)
	assert.Equal(t, 80, s.Count())

	list, err := s.List(ctx, "bulk")
	require.NoError(t, err)
	byPath := make(map[string][]int)
	for _, e := range list {
		byPath[e.Metadata.Path] = append(byPath[e.Metadata.Path], e.Metadata.ChunkIndex)
	}
	for path, idx := range byPath {
		assert.ElementsMatch(t, []int{0, 1}, idx, path)
	}
}

func TestIngest_ModelUnavailableAbortsWithoutZeroVectors(t *testing.T) {
	// Given: an embedder that is down
	ctx := context.Background()
	root := writeTree(t, map[string]string{"a.txt": "a b c", "b.txt": "d e f"})
	s := store.NewMemoryStore()
	in := newIngester(t, s, &failingEmbedder{inner: embed.NewStaticEmbedder()}, 10, 2)

	// When: ingesting
	_, err := in.Ingest(ctx, root, "c")

	// Then: the failure surfaces and nothing is stored
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerrors.ErrModelUnavailable))
	assert.True(t, ragerrors.IsRetryable(err))
	assert.Equal(t, 0, s.Count())
}

func TestIngest_DimensionMismatchFromStore(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{"a.txt": "a b c"})
	s := store.NewMemoryStore(store.WithDimensions(3))
	in := newIngester(t, s, embed.NewStaticEmbedder(), 10, 2)

	_, err := in.Ingest(ctx, root, "c")

	assert.True(t, errors.Is(err, ragerrors.ErrDimensionMismatch))
	assert.Equal(t, 0, s.Count())
}

func TestIngest_Validation(t *testing.T) {
	in := newIngester(t, store.NewMemoryStore(), embed.NewStaticEmbedder(), 10, 2)

	_, err := in.Ingest(context.Background(), t.TempDir(), "")
	assert.Equal(t, ragerrors.ErrCodeInvalidInput, ragerrors.GetCode(err))

	_, err = in.Ingest(context.Background(), "", "c")
	assert.Equal(t, ragerrors.ErrCodeInvalidInput, ragerrors.GetCode(err))

	_, err = in.Ingest(context.Background(), filepath.Join(t.TempDir(), "missing"), "c")
	assert.Equal(t, ragerrors.ErrCodeInvalidPath, ragerrors.GetCode(err))
}

func TestNew_RejectsMissingDependencies(t *testing.T) {
	_, err := New(Config{Store: store.NewMemoryStore()})
	assert.ErrorIs(t, err, ErrNilEmbedder)

	_, err = New(Config{Embedder: embed.NewStaticEmbedder()})
	assert.ErrorIs(t, err, ErrNilStore)

	_, err = New(Config{Embedder: embed.NewStaticEmbedder(), Store: store.NewMemoryStore(), BatchSize: 10000})
	assert.True(t, ragerrors.IsFatal(err))
}

func TestIngest_CancelledContext(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	s := store.NewMemoryStore()
	in := newIngester(t, s, embed.NewStaticEmbedder(), 10, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := in.Ingest(ctx, root, "c")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngest_HoldsLockDir(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{"a.txt": "a b"})
	lockDir := t.TempDir()
	in, err := New(Config{
		Embedder: embed.NewStaticEmbedder(),
		Store:    store.NewMemoryStore(),
		LockDir:  lockDir,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)

	_, err = in.Ingest(ctx, root, "c")
	require.NoError(t, err)

	// Released after Ingest returns.
	l := store.NewIngestLock(lockDir)
	ok, err := l.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Unlock())
}

func TestIngestFile_ReingestsAndRemoves(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t, map[string]string{"docs/a.txt": "one two three four five", "b.txt": "b"})
	s := store.NewMemoryStore()
	in := newIngester(t, s, embed.NewStaticEmbedder(), 2, 1)
	_, err := in.Ingest(ctx, root, "c")
	require.NoError(t, err)
	require.Equal(t, 5, s.Count())

	// Changed file: re-ingested alone, stale chunks pruned
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("six seven"), 0644))
	n, err := in.IngestFile(ctx, root, "docs/a.txt", "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, s.Count())

	// Deleted file: entries removed
	require.NoError(t, os.Remove(filepath.Join(root, "docs", "a.txt")))
	n, err = in.IngestFile(ctx, root, "docs/a.txt", "c")
	require.NoError(t, err)
	assert.Zero(t, n)
	list, err := s.List(ctx, "c")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b.txt", list[0].Metadata.Path)
}

func TestRemoveTree_DropsDirectorySubtree(t *testing.T) {
	// Given: a corpus with files inside and next to docs/
	ctx := context.Background()
	root := writeTree(t, map[string]string{
		"docs/a.txt":     "alpha",
		"docs/sub/b.txt": "beta",
		"docsx.txt":      "gamma",
	})
	s := store.NewMemoryStore()
	in := newIngester(t, s, embed.NewStaticEmbedder(), 2, 1)
	_, err := in.Ingest(ctx, root, "c")
	require.NoError(t, err)

	// When: removing the docs directory
	n, err := in.RemoveTree(ctx, "c", "docs")

	// Then: only entries under docs/ are gone
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	list, err := s.List(ctx, "c")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "docsx.txt", list[0].Metadata.Path)
}
