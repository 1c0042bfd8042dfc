package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

// StaticEmbedder hashes tokens and character trigrams into a fixed number of
// buckets. It needs no network or model download and is fully deterministic:
// the same text always yields the same vector, which makes it the default
// backend for tests and offline use.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3

	// emptyBucketKey is hashed for texts with no tokens so that even the
	// empty chunk gets a unit vector.
	emptyBucketKey = "\x00empty"
)

var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// NewStaticEmbedder creates a static embedder with StaticDimensions buckets.
func NewStaticEmbedder() *StaticEmbedder {
	return NewStaticEmbedderWithDims(StaticDimensions)
}

// NewStaticEmbedderWithDims creates a static embedder with dims buckets.
// Non-positive dims fall back to StaticDimensions.
func NewStaticEmbedderWithDims(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates the embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

// EmbedBatch generates embeddings for texts, in input order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = e.embed(text)
	}
	return results, nil
}

func (e *StaticEmbedder) check(ctx context.Context) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ragerrors.ModelUnavailable(e.ModelName(), ErrClosed)
	}
	return ctx.Err()
}

func (e *StaticEmbedder) embed(text string) []float32 {
	vector := make([]float32, e.dims)
	empty := true

	for _, token := range tokenize(text) {
		vector[hashToIndex(token, e.dims)] += tokenWeight
		empty = false
	}
	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex(ngram, e.dims)] += ngramWeight
		empty = false
	}

	if empty {
		key := strings.TrimSpace(text)
		if key == "" {
			key = emptyBucketKey
		}
		vector[hashToIndex(key, e.dims)] = 1
	}

	return normalizeVector(vector)
}

// tokenize lowercases words and splits camelCase and snake_case identifiers.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, part := range strings.Split(word, "_") {
			for _, t := range splitCamelCase(part) {
				tokens = append(tokens, strings.ToLower(t))
			}
		}
	}
	return tokens
}

func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// split before an upper that ends a lower run or starts a word
			// after an acronym (HTTPServer -> HTTP, Server)
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func normalizeForNgrams(text string) []rune {
	var out []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

func extractNgrams(runes []rune, n int) []string {
	if len(runes) < n {
		return nil
	}
	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex maps s to a bucket with FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the vector length.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns "static".
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available is true until Close.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
