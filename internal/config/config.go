// Package config loads gitingest configuration from defaults, YAML files,
// a .env file and GITINGEST_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

// Project-level file names, checked in this order.
const (
	ProjectConfigYAML = ".gitingest.yaml"
	ProjectConfigYML  = ".gitingest.yml"
	EnvFile           = ".env"

	// DataDirName holds the store, the ingest lock and exports.
	DataDirName = ".gitingest"
)

// Config is the complete gitingest configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Reader     ReaderConfig     `yaml:"reader" json:"reader"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Query      QueryConfig      `yaml:"query" json:"query"`
}

// ChunkingConfig controls the word-window chunker.
type ChunkingConfig struct {
	MaxWords int `yaml:"max_words" json:"max_words"`
	// Overlap is the number of words shared by consecutive chunks.
	// It must be smaller than MaxWords.
	Overlap int `yaml:"overlap" json:"overlap"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" or "ollama".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Dimensions is the vector length. 0 means the provider default, or
	// auto-detection for ollama.
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// CacheSize is the number of embeddings kept in the LRU cache. 0 disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Timeout bounds a single backend request, e.g. "60s".
	Timeout string `yaml:"timeout" json:"timeout"`
}

// StoreConfig selects the vector store.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the sqlite database file, relative to the project directory.
	Path string `yaml:"path" json:"path"`
	// Index is "exact" (flat scan) or "hnsw" (graph candidates, exact re-rank).
	Index string `yaml:"index" json:"index"`
}

// ReaderConfig controls the corpus reader.
type ReaderConfig struct {
	Exclude     []string `yaml:"exclude" json:"exclude"`
	MaxFileSize int64    `yaml:"max_file_size" json:"max_file_size"`
	Workers     int      `yaml:"workers" json:"workers"`
}

// ServerConfig controls the HTTP and MCP front ends.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	// Transport is "http" or "stdio".
	Transport   string   `yaml:"transport" json:"transport"`
	LogLevel    string   `yaml:"log_level" json:"log_level"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// QueryConfig controls query defaults.
type QueryConfig struct {
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Chunking: ChunkingConfig{
			MaxWords: 600,
			Overlap:  100,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "nomic-embed-text",
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
			CacheSize:  10000,
			Timeout:    "60s",
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    filepath.Join(DataDirName, "store.db"),
			Index:   "exact",
		},
		Reader: ReaderConfig{
			Exclude: []string{
				"**/.git/**",
				"**/node_modules/**",
				"**/vendor/**",
				"**/" + DataDirName + "/**",
			},
			MaxFileSize: 10 * 1024 * 1024,
			Workers:     runtime.NumCPU(),
		},
		Server: ServerConfig{
			Addr:        "localhost:8000",
			Transport:   "http",
			LogLevel:    "info",
			CORSOrigins: []string{"*"},
		},
		Query: QueryConfig{
			DefaultTopK: 5,
		},
	}
}

// GetUserConfigPath returns $XDG_CONFIG_HOME/gitingest/config.yaml, or
// ~/.config/gitingest/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gitingest", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "gitingest", "config.yaml")
	}
	return filepath.Join(home, ".config", "gitingest", "config.yaml")
}

// Load loads configuration for the project in dir. Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/gitingest/config.yaml)
//  3. Project config (.gitingest.yaml in dir)
//  4. dir/.env (never overrides variables already set)
//  5. GITINGEST_* environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.overlayYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadProjectFile(dir); err != nil {
		return nil, err
	}

	if envPath := filepath.Join(dir, EnvFile); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single explicit YAML file, then
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.overlayYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadProjectFile(dir string) error {
	for _, name := range []string{ProjectConfigYAML, ProjectConfigYML} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.overlayYAML(path)
		}
	}
	return nil
}

// overlayYAML decodes path on top of c. Keys absent from the file keep their
// current value, so an explicit zero (overlap: 0) is honored.
func (c *Config) overlayYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return ragerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// applyEnvOverrides applies GITINGEST_* environment variable overrides.
// Malformed numbers are ignored.
func (c *Config) applyEnvOverrides() {
	if v, ok := envInt("GITINGEST_MAX_WORDS"); ok {
		c.Chunking.MaxWords = v
	}
	if v, ok := envInt("GITINGEST_OVERLAP"); ok {
		c.Chunking.Overlap = v
	}

	if v := os.Getenv("GITINGEST_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// GITINGEST_EMBEDDER is an alias for GITINGEST_EMBEDDINGS_PROVIDER
	if v := os.Getenv("GITINGEST_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("GITINGEST_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v, ok := envInt("GITINGEST_EMBEDDINGS_DIMENSIONS"); ok {
		c.Embeddings.Dimensions = v
	}
	if v, ok := envInt("GITINGEST_BATCH_SIZE"); ok {
		c.Embeddings.BatchSize = v
	}
	if v := os.Getenv("GITINGEST_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("GITINGEST_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("GITINGEST_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("GITINGEST_STORE_INDEX"); v != "" {
		c.Store.Index = v
	}

	if v := os.Getenv("GITINGEST_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("GITINGEST_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := os.Getenv("GITINGEST_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}

	if v, ok := envInt("GITINGEST_TOP_K"); ok {
		c.Query.DefaultTopK = v
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration. Every failure is a ConfigurationError.
func (c *Config) Validate() error {
	if c.Chunking.MaxWords <= 0 {
		return ragerrors.ConfigError(fmt.Sprintf("chunking.max_words must be positive, got %d", c.Chunking.MaxWords), nil)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxWords {
		return ragerrors.ConfigError(fmt.Sprintf(
			"chunking.overlap must be in [0, max_words), got overlap=%d max_words=%d",
			c.Chunking.Overlap, c.Chunking.MaxWords), nil).
			WithSuggestion("Lower chunking.overlap so that each window advances by at least one word")
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return ragerrors.ConfigError(fmt.Sprintf("embeddings.provider must be 'static' or 'ollama', got %q", c.Embeddings.Provider), nil)
	}
	if c.Embeddings.Dimensions < 0 {
		return ragerrors.ConfigError(fmt.Sprintf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions), nil)
	}
	if c.Embeddings.BatchSize <= 0 {
		return ragerrors.ConfigError(fmt.Sprintf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize), nil)
	}
	if c.Embeddings.CacheSize < 0 {
		return ragerrors.ConfigError(fmt.Sprintf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize), nil)
	}
	if _, err := c.EmbedTimeout(); err != nil {
		return err
	}

	switch c.Store.Backend {
	case "memory", "sqlite":
	default:
		return ragerrors.ConfigError(fmt.Sprintf("store.backend must be 'memory' or 'sqlite', got %q", c.Store.Backend), nil)
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		return ragerrors.ConfigError("store.path is required for the sqlite backend", nil)
	}
	switch c.Store.Index {
	case "exact", "hnsw":
	default:
		return ragerrors.ConfigError(fmt.Sprintf("store.index must be 'exact' or 'hnsw', got %q", c.Store.Index), nil)
	}

	if c.Reader.Workers < 0 {
		return ragerrors.ConfigError(fmt.Sprintf("reader.workers must be non-negative, got %d", c.Reader.Workers), nil)
	}

	switch strings.ToLower(c.Server.Transport) {
	case "http", "stdio":
	default:
		return ragerrors.ConfigError(fmt.Sprintf("server.transport must be 'http' or 'stdio', got %q", c.Server.Transport), nil)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return ragerrors.ConfigError(fmt.Sprintf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel), nil)
	}

	if c.Query.DefaultTopK <= 0 {
		return ragerrors.ConfigError(fmt.Sprintf("query.default_top_k must be positive, got %d", c.Query.DefaultTopK), nil)
	}

	return nil
}

// EmbedTimeout parses Embeddings.Timeout. An empty value means no timeout.
func (c *Config) EmbedTimeout() (time.Duration, error) {
	if c.Embeddings.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Embeddings.Timeout)
	if err != nil || d < 0 {
		return 0, ragerrors.ConfigError(fmt.Sprintf("embeddings.timeout is not a valid duration: %q", c.Embeddings.Timeout), err)
	}
	return d, nil
}

// StorePath resolves Store.Path against the project directory.
func (c *Config) StorePath(dir string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(dir, c.Store.Path)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
