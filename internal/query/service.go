// Package query answers free-text queries against a store.
package query

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/gitingest/internal/embed"
	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
	"github.com/Aman-CERP/gitingest/internal/store"
)

// DefaultTopK is used when a caller passes topK <= 0.
const DefaultTopK = 5

var (
	ErrNilEmbedder = errors.New("query: nil embedder")
	ErrNilStore    = errors.New("query: nil store")
)

// Option configures a Service.
type Option func(*Service)

// WithDefaultTopK overrides DefaultTopK. Values <= 0 are ignored.
func WithDefaultTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.defaultTopK = k
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service embeds a query and searches the store with it.
type Service struct {
	embedder    embed.Embedder
	store       store.Store
	defaultTopK int
	logger      *slog.Logger
}

// NewService creates a query service.
func NewService(embedder embed.Embedder, st store.Store, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, ErrNilEmbedder
	}
	if st == nil {
		return nil, ErrNilStore
	}
	s := &Service{
		embedder:    embedder,
		store:       st,
		defaultTopK: DefaultTopK,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Answer returns up to topK stored entries most similar to text. topK <= 0
// returns an empty list, as Store.Search does; callers that let users omit
// the count apply DefaultTopK themselves. An embedder failure fails the
// call; there is no fallback vector.
func (s *Service) Answer(ctx context.Context, text string, topK int) ([]store.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ragerrors.New(ragerrors.ErrCodeQueryEmpty, "query text is empty", nil).
			WithSuggestion("Provide a non-empty query")
	}

	start := time.Now()
	vectors, err := s.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		s.logger.Warn("query_embed_failed",
			slog.String("model", s.embedder.ModelName()),
			slog.String("error", err.Error()))
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, ragerrors.ModelUnavailable(s.embedder.ModelName(), errors.New("embedder returned no vector"))
	}

	results, err := s.store.Search(ctx, vectors[0], topK)
	if err != nil {
		return nil, err
	}

	s.logger.Info("query_complete",
		slog.Int("top_k", topK),
		slog.Int("results", len(results)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return results, nil
}

// DefaultTopK returns the configured result count for callers whose request
// did not name one.
func (s *Service) DefaultTopK() int { return s.defaultTopK }

// Model returns the embedder's model name.
func (s *Service) Model() string { return s.embedder.ModelName() }

// Store returns the searched store.
func (s *Service) Store() store.Store { return s.store }
