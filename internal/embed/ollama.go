package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general text embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the startup health check.
	OllamaConnectTimeout = 10 * time.Second

	// OllamaPoolSize is the HTTP connection pool size.
	OllamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host  string
	Model string

	// Dimensions overrides auto-detection. 0 detects from the first response.
	Dimensions int

	BatchSize int

	// Timeout bounds a single /api/embed request.
	Timeout time.Duration

	PoolSize int

	// Retry is the backoff policy for transient failures.
	Retry ragerrors.RetryConfig

	// BreakerFailures is the number of consecutive failed requests after
	// which calls fail fast until BreakerReset has elapsed.
	BreakerFailures int
	BreakerReset    time.Duration

	// SkipHealthCheck skips the model lookup in NewOllamaEmbedder.
	SkipHealthCheck bool

	Logger *slog.Logger
}

// DefaultOllamaConfig returns defaults for a local Ollama.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:            DefaultOllamaHost,
		Model:           DefaultOllamaModel,
		BatchSize:       DefaultBatchSize,
		Timeout:         DefaultTimeout,
		PoolSize:        OllamaPoolSize,
		Retry:           ragerrors.DefaultRetryConfig(),
		BreakerFailures: 5,
		BreakerReset:    30 * time.Second,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder generates embeddings through Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	breaker   *ragerrors.CircuitBreaker
	logger    *slog.Logger

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to Ollama, verifies the model is installed and
// detects its dimension. Failures are ModelUnavailable.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = def.BreakerReset
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// No client-level timeout: each request gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		breaker: ragerrors.NewCircuitBreaker("ollama",
			ragerrors.WithMaxFailures(cfg.BreakerFailures),
			ragerrors.WithResetTimeout(cfg.BreakerReset)),
		logger: cfg.Logger,
		dims:   cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
		defer cancel()

		name, err := e.checkModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		e.config.Model = name
		if e.dims == 0 {
			if _, err := e.EmbedBatch(ctx, []string{"dimension detection"}); err != nil {
				transport.CloseIdleConnections()
				return nil, err
			}
		}
	}

	return e, nil
}

// checkModel verifies that the configured model is installed. A tag-less
// name matches any tag ("nomic-embed-text" matches "nomic-embed-text:latest").
func (e *OllamaEmbedder) checkModel(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return "", ragerrors.ModelUnavailable(e.config.Model, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", ragerrors.ModelUnavailable(e.config.Model, fmt.Errorf("failed to connect to Ollama at %s: %w", e.config.Host, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", ragerrors.ModelUnavailable(e.config.Model, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return "", ragerrors.ModelUnavailable(e.config.Model, fmt.Errorf("failed to decode model list: %w", err))
	}

	want := strings.ToLower(e.config.Model)
	wantBase, _, _ := strings.Cut(want, ":")
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		base, _, _ := strings.Cut(name, ":")
		if name == want || (!strings.Contains(want, ":") && base == wantBase) {
			return m.Name, nil
		}
	}

	return "", ragerrors.ModelUnavailable(e.config.Model, errors.New("model is not installed")).
		WithSuggestion(fmt.Sprintf("Run: ollama pull %s", e.config.Model))
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize. Any failed
// request fails the whole call.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ragerrors.ModelUnavailable(e.ModelName(), ErrClosed)
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+e.config.BatchSize, len(texts))
		vecs, err := e.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}

	return results, nil
}

func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	retry := e.config.Retry
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ragerrors.ErrCircuitOpen) && ragerrors.IsRetryable(err)
	}

	attempt := 0
	vecs, err := ragerrors.RetryWithResult(ctx, retry, func() ([][]float32, error) {
		attempt++
		return ragerrors.CircuitExecute(e.breaker, func() ([][]float32, error) {
			vecs, err := e.doEmbed(ctx, texts)
			if err != nil {
				e.logger.Debug("embedding_attempt_failed",
					slog.Int("attempt", attempt),
					slog.Int("texts_count", len(texts)),
					slog.String("error", err.Error()))
			}
			return vecs, err
		})
	})
	if err == nil {
		return vecs, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if _, ok := ragerrors.As(err); ok {
		return nil, err
	}
	return nil, ragerrors.ModelUnavailable(e.config.Model, err)
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, ragerrors.InternalError("failed to marshal embed request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, ragerrors.InternalError("failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ragerrors.ModelUnavailable(e.config.Model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		uerr := ragerrors.ModelUnavailable(e.config.Model,
			fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		// a 4xx (unknown model, bad input) will not fix itself
		if resp.StatusCode < 500 {
			uerr.Retryable = false
		}
		return nil, uerr
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerrors.ModelUnavailable(e.config.Model, fmt.Errorf("failed to decode embed response: %w", err))
	}
	if len(result.Embeddings) != len(texts) {
		return nil, ragerrors.ModelUnavailable(e.config.Model,
			fmt.Errorf("model returned %d embeddings for %d inputs", len(result.Embeddings), len(texts)))
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if len(emb) == 0 {
			return nil, ragerrors.ModelUnavailable(e.config.Model, errors.New("empty embedding returned"))
		}
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		vecs[i] = v
	}

	if err := e.checkDims(len(vecs[0])); err != nil {
		return nil, err
	}
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			return nil, ragerrors.DimensionMismatch(len(vecs[0]), len(v))
		}
	}

	return vecs, nil
}

// checkDims adopts the first observed dimension and rejects later changes.
func (e *OllamaEmbedder) checkDims(got int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		e.dims = got
		e.logger.Info("embedding_dimensions_detected",
			slog.String("model", e.config.Model),
			slog.Int("dimensions", got))
		return nil
	}
	if e.dims != got {
		return ragerrors.DimensionMismatch(e.dims, got)
	}
	return nil
}

// Dimensions returns the vector length, or 0 before the first response when
// auto-detecting.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the resolved Ollama model name.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks that Ollama answers and has the model installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, OllamaConnectTimeout)
	defer cancel()
	_, err := e.checkModel(ctx)
	return err == nil
}

// Close releases pooled connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
