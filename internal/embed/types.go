// Package embed turns chunk text into fixed-length float32 vectors.
//
// Every backend implements Embedder. Output always has the same length and
// order as the input, and a batch of one returns the same vector as position
// zero of a larger batch. A backend that cannot produce vectors fails with
// ModelUnavailable; it never substitutes zero vectors.
package embed

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per backend request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single request.
	MaxBatchSize = 256

	// DefaultTimeout bounds one backend request.
	DefaultTimeout = 60 * time.Second

	// StaticDimensions is the default vector length of the static embedder.
	StaticDimensions = 256
)

// ErrClosed is returned by an embedder after Close.
var ErrClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector returns v scaled to unit length. A zero vector is
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
