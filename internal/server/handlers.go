package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kenkyu/internal/cli"
	"github.com/hyperjump/kenkyu/internal/models"
	"github.com/hyperjump/kenkyu/internal/storage"
)

// searchRequest is the body of POST /api/v1/search. Unset fields take the configured defaults.
type searchRequest struct {
	Query            string         `json:"query"`
	MaxResults       int            `json:"max_results,omitempty"`
	Threshold        *float64       `json:"threshold,omitempty"`
	Filter           map[string]any `json:"filter,omitempty"`
	Hybrid           *bool          `json:"hybrid,omitempty"`
	Rerank           bool           `json:"rerank,omitempty"`
	IncludeReasoning bool           `json:"include_reasoning,omitempty"`
}

func (s *Server) queryOptions(req *searchRequest) models.QueryOptions {
	opts := models.QueryOptions{
		QueryText:          req.Query,
		MaxResults:         s.cfg.Retrieval.DefaultMaxResults,
		RelevanceThreshold: s.cfg.Retrieval.DefaultThreshold,
		MetadataFilter:     req.Filter,
		HybridSearch:       s.cfg.Retrieval.HybridSearch,
		Rerank:             req.Rerank,
		IncludeReasoning:   req.IncludeReasoning,
	}
	if req.MaxResults != 0 {
		opts.MaxResults = req.MaxResults
	}
	if req.Threshold != nil {
		opts.RelevanceThreshold = *req.Threshold
	}
	if req.Hybrid != nil {
		opts.HybridSearch = *req.Hybrid
	}
	return opts
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("max_results", req.MaxResults))
	start := time.Now()
	results, err := s.deps.Retriever.SearchWithContext(r.Context(), s.queryOptions(&req))
	if err != nil {
		s.respondErr(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, &cli.SearchOutput{
		Query:     req.Query,
		QueryTime: time.Since(start).Milliseconds(),
		Results:   results,
	})
}

type indexResponse struct {
	ID       string `json:"id"`
	Segments int    `json:"segments"`
	Status   string `json:"status"`
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("index document request", zap.String("id", input.ID), zap.String("title", input.Title))
	id, n, err := s.deps.Indexer.IndexDocument(r.Context(), &input)
	if err != nil {
		s.respondErr(w, "indexing failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, indexResponse{ID: id, Segments: n, Status: "indexed"})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Storage.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "get document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.deps.Indexer.DeleteDocument(r.Context(), id); err != nil {
		s.respondErr(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleReindexDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.deps.Indexer.ReindexDocument(r.Context(), id)
	if err != nil {
		s.respondErr(w, "reindex failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, indexResponse{ID: id, Segments: n, Status: "reindexed"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out, err := cli.CollectStatus(r.Context(), s.deps.Index, s.deps.Storage, s.deps.EngineType,
		s.cfg.Storage.DatabasePath, s.cfg.Storage.VectorDir)
	if err != nil {
		s.respondErr(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Retriever.PerformanceMetrics())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Index.HealthCheck(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, status)
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmbedding), errors.Is(err, models.ErrEngine):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	}
	s.respondError(w, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
