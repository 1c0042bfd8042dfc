package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/gitingest/internal/chunk"
	"github.com/Aman-CERP/gitingest/internal/corpus"
	"github.com/Aman-CERP/gitingest/internal/embed"
	"github.com/Aman-CERP/gitingest/internal/logging"
	"github.com/Aman-CERP/gitingest/internal/pipeline"
	"github.com/Aman-CERP/gitingest/internal/query"
	"github.com/Aman-CERP/gitingest/internal/store"
)

func intPtr(v int) *int { return &v }

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	logger := logging.Discard()
	emb := embed.NewStaticEmbedder()
	st := store.NewMemoryStore()

	c, err := chunk.NewChunker(2, 1)
	require.NoError(t, err)
	in, err := pipeline.New(pipeline.Config{
		Embedder: emb,
		Store:    st,
		Chunker:  c,
		Reader:   corpus.NewReader(corpus.WithLogger(logger)),
		Logger:   logger,
	})
	require.NoError(t, err)
	q, err := query.NewService(emb, st, query.WithLogger(logger))
	require.NoError(t, err)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes", "a.txt"), []byte("one two three four five"), 0644))

	srv, err := NewServer(in, q, WithRoot(root), WithLogger(logger))
	require.NoError(t, err)
	return srv, root
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.ErrorIs(t, err, ErrNilIngester)
}

func TestServer_ListTools(t *testing.T) {
	srv, _ := newTestServer(t)

	names := make([]string, 0, 3)
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}

	assert.Equal(t, []string{"query", "ingest", "corpora"}, names)
	assert.NotNil(t, srv.MCPServer())
}

func TestServer_IngestThenQuery(t *testing.T) {
	// Given: a server rooted at a directory with one text file
	srv, _ := newTestServer(t)
	ctx := context.Background()

	// When: ingesting by relative path and querying
	text, err := srv.CallTool(ctx, "ingest", map[string]any{"path": "notes"})
	require.NoError(t, err)
	assert.Contains(t, text, "Ingested 4 entries from 1 files into `notes`.")

	_, out, err := srv.mcpQueryHandler(ctx, nil, QueryInput{Query: "two three", TopK: intPtr(1)})
	require.NoError(t, err)

	// Then: the matching window comes back first with a perfect score
	require.Len(t, out.Results, 1)
	assert.Equal(t, "notes::a.txt::chunk1", out.Results[0].ID)
	assert.Equal(t, "a.txt", out.Results[0].Metadata.Path)
	assert.InDelta(t, 1.0, out.Results[0].Score, 1e-5)
}

func TestServer_QueryToolReturnsMarkdown(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	_, err := srv.CallTool(ctx, "ingest", map[string]any{"path": "notes", "corpus_id": "n"})
	require.NoError(t, err)

	text, err := srv.CallTool(ctx, "query", map[string]any{"query": "four five", "top_k": 2})

	require.NoError(t, err)
	assert.Contains(t, text, "Found 2 results")
	assert.Contains(t, text, "### 1. a.txt chunk 3 (score: 1.00)")
}

func TestServer_QueryDefaultsTopK(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	_, err := srv.CallTool(ctx, "ingest", map[string]any{"path": "notes"})
	require.NoError(t, err)

	_, out, err := srv.mcpQueryHandler(ctx, nil, QueryInput{Query: "three"})

	require.NoError(t, err)
	assert.Len(t, out.Results, 4)
}

func TestServer_QueryExplicitZeroTopK(t *testing.T) {
	// Given: an ingested corpus
	srv, _ := newTestServer(t)
	ctx := context.Background()
	_, err := srv.CallTool(ctx, "ingest", map[string]any{"path": "notes"})
	require.NoError(t, err)

	// When: the client asks for zero results
	_, out, err := srv.mcpQueryHandler(ctx, nil, QueryInput{Query: "three", TopK: intPtr(0)})

	// Then: nothing comes back instead of the default count
	require.NoError(t, err)
	assert.Empty(t, out.Results)
}

func TestServer_QueryEmptyIsInvalidParams(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.CallTool(context.Background(), "query", map[string]any{"query": "  "})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestServer_IngestRejectsURLsAndMissingPaths(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	for _, args := range []map[string]any{
		{},
		{"path": "https://github.com/a/b"},
		{"path": "does-not-exist"},
	} {
		_, err := srv.CallTool(ctx, "ingest", args)

		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr, "args=%v", args)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code, "args=%v", args)
	}
}

func TestServer_CorporaTool(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	_, err := srv.CallTool(ctx, "ingest", map[string]any{"path": "notes", "corpus_id": "n"})
	require.NoError(t, err)

	text, err := srv.CallTool(ctx, "corpora", nil)
	require.NoError(t, err)

	var out CorporaOutput
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, []CorpusSummary{{ID: "n", Entries: 4, Paths: 1}}, out.Corpora)
	assert.Equal(t, 4, out.Entries)
	assert.Equal(t, "static", out.Model)
	assert.Positive(t, out.Dimensions)
}

func TestServer_UnknownTool(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.CallTool(context.Background(), "search", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_InvalidArgumentTypes(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.CallTool(context.Background(), "query", map[string]any{"query": "x", "top_k": "many"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}
