package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderStatic uses the hash-based StaticEmbedder. No network.
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses a local or remote Ollama server.
	ProviderOllama ProviderType = "ollama"
)

// ParseProvider converts a config string to a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch ProviderType(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderStatic, "":
		return ProviderStatic, nil
	case ProviderOllama:
		return ProviderOllama, nil
	default:
		return "", ragerrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q (use static or ollama)", s), nil)
	}
}

// Options configures NewEmbedder.
type Options struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	BatchSize  int
	Host       string
	Timeout    time.Duration
	// CacheSize > 0 wraps the backend in a CachedEmbedder.
	CacheSize int
	Logger    *slog.Logger
}

// NewEmbedder builds the embedder selected by opts.Provider. An explicitly
// selected backend that cannot be reached is an error; there is no silent
// fallback to a different model, because mixing models in one store would
// make similarity scores meaningless.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		embedder Embedder
		err      error
	)

	switch opts.Provider {
	case ProviderStatic, "":
		embedder = NewStaticEmbedderWithDims(opts.Dimensions)

	case ProviderOllama:
		cfg := DefaultOllamaConfig()
		if opts.Host != "" {
			cfg.Host = opts.Host
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		if opts.BatchSize > 0 {
			cfg.BatchSize = opts.BatchSize
		}
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		cfg.Dimensions = opts.Dimensions
		cfg.Logger = logger
		embedder, err = NewOllamaEmbedder(ctx, cfg)

	default:
		err = ragerrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", opts.Provider), nil)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedder_ready",
		slog.String("provider", string(opts.Provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()),
		slog.Int("cache_size", opts.CacheSize))

	if opts.CacheSize > 0 {
		return NewCachedEmbedder(embedder, opts.CacheSize), nil
	}
	return embedder, nil
}
