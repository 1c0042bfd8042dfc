// Package chunk splits document text into overlapping word windows.
//
// Boundaries are purely lexical: words are whitespace-delimited and windows
// are counted in words, never in tokens or syntax nodes. A text that fits in
// one window is returned unchanged.
package chunk

import (
	"fmt"
	"strings"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

// Defaults: a 600 word window advancing 500 words per step.
const (
	DefaultMaxWords = 600
	DefaultOverlap  = 100
)

// Chunker splits text into windows of at most maxWords words, where
// consecutive windows share overlap words.
type Chunker struct {
	maxWords int
	overlap  int
}

// NewChunker validates the window parameters. overlap must satisfy
// 0 <= overlap < maxWords; anything else is a ConfigurationError because the
// window would never advance.
func NewChunker(maxWords, overlap int) (*Chunker, error) {
	if maxWords <= 0 {
		return nil, ragerrors.ConfigError(
			fmt.Sprintf("max_words must be positive, got %d", maxWords), nil)
	}
	if overlap < 0 || overlap >= maxWords {
		return nil, ragerrors.ConfigError(
			fmt.Sprintf("overlap must be in [0, %d), got %d (step size %d)", maxWords, overlap, maxWords-overlap), nil).
			WithDetail("max_words", fmt.Sprint(maxWords)).
			WithDetail("overlap", fmt.Sprint(overlap))
	}
	return &Chunker{maxWords: maxWords, overlap: overlap}, nil
}

// Default returns a Chunker with DefaultMaxWords and DefaultOverlap.
func Default() *Chunker {
	return &Chunker{maxWords: DefaultMaxWords, overlap: DefaultOverlap}
}

// MaxWords returns the window size.
func (c *Chunker) MaxWords() int { return c.maxWords }

// Overlap returns the number of words shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Step returns how many words each window advances.
func (c *Chunker) Step() int { return c.maxWords - c.overlap }

// Chunk splits text. The result is never empty: a text with at most
// maxWords words (including the empty text) comes back as its only chunk.
// Longer texts yield windows joined with single spaces, stopping at the first
// window that reaches the last word.
func (c *Chunker) Chunk(text string) []string {
	words := strings.Fields(text)
	if len(words) <= c.maxWords {
		return []string{text}
	}

	step := c.Step()
	chunks := make([]string, 0, (len(words)-c.overlap+step-1)/step)
	for start := 0; ; start += step {
		end := start + c.maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// Chunk is a convenience wrapper around NewChunker and (*Chunker).Chunk.
func Chunk(text string, maxWords, overlap int) ([]string, error) {
	c, err := NewChunker(maxWords, overlap)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text), nil
}
