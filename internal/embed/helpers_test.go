package embed

import (
	"context"
	"math"
	"sync"
)

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// countingEmbedder records every batch it is asked to embed.
type countingEmbedder struct {
	inner *StaticEmbedder

	mu      sync.Mutex
	batches [][]string
	err     error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: NewStaticEmbedderWithDims(8)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, append([]string(nil), texts...))
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) calls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

func (c *countingEmbedder) Dimensions() int                  { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                { return "counting" }
func (c *countingEmbedder) Available(_ context.Context) bool { return true }
func (c *countingEmbedder) Close() error                     { return c.inner.Close() }
