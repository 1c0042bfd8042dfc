package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
	"github.com/Aman-CERP/gitingest/internal/logging"
)

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

func paths(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Path
	}
	return out
}

func quietReader(opts ...Option) *Reader {
	return NewReader(append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func TestReader_DirectoryIsWalkedInLexicalOrder(t *testing.T) {
	// Given: a nested tree
	root := writeTree(t, map[string]string{
		"b.txt":         "bravo",
		"a/z.md":        "zulu",
		"a/b/deep.txt":  "deep",
		"c.txt":         "charlie",
		".git/HEAD":     "ref: main",
		"a/.git/config": "x",
	})

	// When: reading the corpus
	docs, err := quietReader().ReadAll(context.Background(), root)

	// Then: relative slash paths, lexical order, VCS dirs skipped
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/deep.txt", "a/z.md", "b.txt", "c.txt"}, paths(docs))
	assert.Equal(t, "deep", docs[0].Text)
}

func TestReader_OrderIsStableAcrossRuns(t *testing.T) {
	root := writeTree(t, map[string]string{"x/1": "1", "x/2": "2", "y": "3", "a": "4"})
	r := quietReader()

	first, err := r.ReadAll(context.Background(), root)
	require.NoError(t, err)
	second, err := r.ReadAll(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReader_SingleFileUsesBaseName(t *testing.T) {
	root := writeTree(t, map[string]string{"docs/readme.md": "hello world"})

	docs, err := quietReader().ReadAll(context.Background(), filepath.Join(root, "docs", "readme.md"))

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "readme.md", docs[0].Path)
	assert.Equal(t, "hello world", docs[0].Text)
}

func TestReader_InvalidUTF8IsDropped(t *testing.T) {
	root := writeTree(t, map[string]string{"bin.txt": "ok\xff\xfe text"})

	docs, err := quietReader().ReadAll(context.Background(), root)

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ok text", docs[0].Text)
	assert.False(t, docs[0].Unreadable)
}

func TestReader_MissingRootFails(t *testing.T) {
	_, err := quietReader().Read(context.Background(), filepath.Join(t.TempDir(), "nope"))

	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeInvalidPath, ragerrors.GetCode(err))
}

func TestReader_UnreadableFileYieldsEmptyDocument(t *testing.T) {
	r := quietReader()

	// A directory cannot be read as a file, whatever the user's privileges.
	doc := r.readFile(t.TempDir(), "broken.txt")

	assert.Equal(t, "broken.txt", doc.Path)
	assert.Empty(t, doc.Text)
	assert.True(t, doc.Unreadable)
	assert.True(t, errors.Is(doc.Err, ragerrors.ErrUnreadableFile))
}

func TestReader_UnreadableFileDoesNotStopWalk(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := writeTree(t, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c"})
	require.NoError(t, os.Chmod(filepath.Join(root, "b.txt"), 0))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(root, "b.txt"), 0644) })

	docs, err := quietReader().ReadAll(context.Background(), root)

	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.True(t, docs[1].Unreadable)
	assert.Equal(t, "", docs[1].Text)
	assert.Equal(t, "c", docs[2].Text)
}

func TestReader_ExcludePatterns(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/main.go":               "package main",
		"src/node_modules/x/y.js":   "js",
		"vendor/lib.go":             "lib",
		"docs/guide.md":             "guide",
		"app.min.js":                "min",
		"go.sum":                    "sum",
		"docs/archive/old/notes.md": "old",
	})

	r := quietReader(WithExclude("**/node_modules/**", "vendor/**", "*.min.js", "go.sum", "docs/archive/**"))
	docs, err := r.ReadAll(context.Background(), root)

	require.NoError(t, err)
	assert.Equal(t, []string{"docs/guide.md", "src/main.go"}, paths(docs))
}

func TestReader_MaxFileSizeSkipsLargeFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"big.txt": "0123456789", "small.txt": "01"})

	docs, err := quietReader(WithMaxFileSize(5)).ReadAll(context.Background(), root)

	require.NoError(t, err)
	assert.Equal(t, []string{"small.txt"}, paths(docs))
}

func TestReader_CancelledContextStopsWalk(t *testing.T) {
	root := writeTree(t, map[string]string{"a": "a", "b": "b", "c": "c"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := quietReader().ReadAll(ctx, root)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatchFile(t *testing.T) {
	tests := []struct {
		path    string
		pattern string
		want    bool
	}{
		{"a/b/c.min.js", "**/*.min.js", true},
		{"c.js", "**/*.min.js", false},
		{"x/node_modules/y.js", "**/node_modules/**", true},
		{"node_modules.txt", "**/node_modules/**", false},
		{"docs/a.md", "docs/*.md", true},
		{"docs/sub/a.md", "docs/*.md", false},
		{"deep/docs/a.md", "**/docs/*.md", true},
		{"Cargo.lock", "*.lock", true},
		{"src/.env.local", ".env*", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, matchFile(tt.path, tt.pattern))
		})
	}
}

func TestReader_ReadOne(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.go":              "package a",
		"src/node_modules/x.js": "x",
		".git/config":           "c",
	})
	r := quietReader(WithExclude("**/node_modules/**"))

	doc, ok := r.ReadOne(root, "src/a.go")
	require.True(t, ok)
	assert.Equal(t, "src/a.go", doc.Path)
	assert.Equal(t, "package a", doc.Text)

	_, ok = r.ReadOne(root, "src/node_modules/x.js")
	assert.False(t, ok)
	_, ok = r.ReadOne(root, ".git/config")
	assert.False(t, ok)

	doc, ok = r.ReadOne(root, "src/gone.go")
	require.True(t, ok)
	assert.True(t, doc.Unreadable)
}

func TestReader_Excluded(t *testing.T) {
	r := quietReader(WithExclude("**/node_modules/**", "*.log", "build/**"))

	tests := []struct {
		rel   string
		isDir bool
		want  bool
	}{
		{"src/a.go", false, false},
		{"src", true, false},
		{".git", true, true},
		{"sub/.git/HEAD", false, true},
		{"web/node_modules", true, true},
		{"web/node_modules/react/index.js", false, true},
		{"logs/app.log", false, true},
		{"build", true, true},
		{"build/out.txt", false, true},
		{".", true, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Excluded(tt.rel, tt.isDir), tt.rel)
	}
}
