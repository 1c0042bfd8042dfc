// Package server exposes ingestion and querying over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/Aman-CERP/gitingest/internal/pipeline"
	"github.com/Aman-CERP/gitingest/internal/query"
	"github.com/Aman-CERP/gitingest/internal/store"
)

const (
	// DefaultAddr matches the address the browser form posts to.
	DefaultAddr = "localhost:8000"

	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

var (
	ErrNilIngester = errors.New("server: nil ingester")
	ErrNilQuery    = errors.New("server: nil query service")
)

// Config holds the server's collaborators and settings.
type Config struct {
	Addr     string
	Ingester *pipeline.Ingester
	Query    *query.Service

	// IngestRoot, when set, confines ingest paths to this directory.
	// Relative paths are resolved against it.
	IngestRoot string

	// CORSOrigins defaults to "*".
	CORSOrigins []string

	// RequestTimeout bounds each request. Ingesting a large corpus can take
	// a while, so the default is generous.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg      Config
	ingester *pipeline.Ingester
	query    *query.Service
	store    store.Store
	validate *validator.Validate
	logger   *slog.Logger
	router   chi.Router
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Ingester == nil {
		return nil, ErrNilIngester
	}
	if cfg.Query == nil {
		return nil, ErrNilQuery
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		ingester: cfg.Ingester,
		query:    cfg.Query,
		store:    cfg.Query.Store(),
		validate: validator.New(),
		logger:   cfg.Logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Post("/ingest", s.handleIngest)
	r.Post("/query", s.handleQuery)
	r.Route("/corpora", func(r chi.Router) {
		r.Get("/", s.handleListCorpora)
		r.Delete("/{corpusID}", s.handleDeleteCorpus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed", Message: r.Method + " not allowed"})
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_started", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("server_stopping")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
