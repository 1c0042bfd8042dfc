package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Aman-CERP/gitingest/internal/entry"
	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
	"github.com/Aman-CERP/gitingest/internal/store"
)

// IngestRequest is the body of POST /ingest. RepoURL is accepted as an alias
// for Path and must name a local checkout.
type IngestRequest struct {
	Path     string `json:"path" validate:"required_without=RepoURL,max=4096"`
	RepoURL  string `json:"repoUrl" validate:"required_without=Path,max=4096"`
	CorpusID string `json:"corpus_id" validate:"omitempty,max=256,excludesall=:"`
}

// IngestResponse is the body returned by POST /ingest.
type IngestResponse struct {
	CorpusID string   `json:"corpus_id"`
	Count    int      `json:"count"`
	Files    int      `json:"files"`
	Skipped  []string `json:"skipped"`
}

// QueryRequest is the body of POST /query. Text is an alias for Query and
// Top is an alias for TopK.
type QueryRequest struct {
	Query string `json:"query" validate:"required_without=Text,max=10000"`
	Text  string `json:"text" validate:"required_without=Query,max=10000"`
	TopK  *int   `json:"top_k" validate:"omitempty,gte=0,lte=1000"`
	Top   *int   `json:"top" validate:"omitempty,gte=0,lte=1000"`
}

// QueryResult is one hit in a query response.
type QueryResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata entry.Metadata `json:"metadata"`
	Score    float64        `json:"score"`
}

// QueryResponse is the body returned by POST /query.
type QueryResponse struct {
	Results []QueryResult `json:"results"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Entries    int    `json:"entries"`
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model"`
}

type corporaResponse struct {
	Corpora []store.CorpusInfo `json:"corpora"`
}

type deleteResponse struct {
	CorpusID string `json:"corpus_id"`
	Deleted  int    `json:"deleted"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Entries:    s.store.Count(),
		Dimensions: s.store.Dimensions(),
		Model:      s.query.Model(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !s.decode(w, r, &req) {
		return
	}

	root, err := s.resolveIngestPath(firstNonEmpty(req.Path, req.RepoURL))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	corpusID := req.CorpusID
	if corpusID == "" {
		corpusID = filepath.Base(root)
	}

	res, err := s.ingester.Ingest(r.Context(), root, corpusID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		CorpusID: res.CorpusID,
		Count:    res.Entries,
		Files:    res.Files,
		Skipped:  res.Skipped,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !s.decode(w, r, &req) {
		return
	}

	// An omitted count means the configured default; an explicit 0 means none.
	topK := s.query.DefaultTopK()
	switch {
	case req.TopK != nil:
		topK = *req.TopK
	case req.Top != nil:
		topK = *req.Top
	}

	results, err := s.query.Answer(r.Context(), firstNonEmpty(req.Query, req.Text), topK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := QueryResponse{Results: make([]QueryResult, len(results))}
	for i, res := range results {
		resp.Results[i] = QueryResult{
			ID:       res.Entry.ID,
			Text:     res.Entry.Text,
			Metadata: res.Entry.Metadata,
			Score:    res.Score,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCorpora(w http.ResponseWriter, r *http.Request) {
	corpora, err := s.store.Corpora(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, corporaResponse{Corpora: corpora})
}

func (s *Server) handleDeleteCorpus(w http.ResponseWriter, r *http.Request) {
	corpusID := chi.URLParam(r, "corpusID")
	n, err := s.store.DeleteCorpus(r.Context(), corpusID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("corpus_deleted", slog.String("corpus_id", corpusID), slog.Int("entries", n))
	writeJSON(w, http.StatusOK, deleteResponse{CorpusID: corpusID, Deleted: n})
}

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		s.writeError(w, r, ragerrors.ValidationError(msg, err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, validationError(err))
		return false
	}
	return true
}

// resolveIngestPath applies IngestRoot confinement.
func (s *Server) resolveIngestPath(p string) (string, error) {
	if strings.Contains(p, "://") {
		return "", ragerrors.New(ragerrors.ErrCodeInvalidPath, "remote repository URLs are not supported; pass a local path", nil).
			WithDetail("path", p)
	}
	if s.cfg.IngestRoot == "" {
		return filepath.Clean(p), nil
	}

	base, err := filepath.Abs(s.cfg.IngestRoot)
	if err != nil {
		return "", ragerrors.InternalError("cannot resolve ingest root", err)
	}
	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ragerrors.New(ragerrors.ErrCodeInvalidPath,
			fmt.Sprintf("path %q is outside the ingest root", p), err).
			WithDetail("path", p)
	}
	return target, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
