package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/knoguchi/paperqa/internal/pipeline"
	"github.com/knoguchi/paperqa/internal/rag"
	"github.com/knoguchi/paperqa/internal/repository"
)

const maxRequestBytes = 1 << 20

// QueryService is the pipeline surface served over HTTP.
type QueryService interface {
	Query(ctx context.Context, text string, opts pipeline.Options) (*rag.QueryResponse, error)
	QueryWithComparison(ctx context.Context, text string) (*pipeline.Comparison, error)
	QueryBatch(ctx context.Context, texts []string, opts pipeline.Options) (*pipeline.BatchResult, error)
	HealthCheck(ctx context.Context) pipeline.Health
}

// PaperFinder serves the paper lookup helpers.
type PaperFinder interface {
	SimilarPapers(ctx context.Context, title string, k int) ([]rag.Candidate, error)
	PapersByYearRange(ctx context.Context, query string, from, to, k int) ([]rag.Candidate, error)
}

// RecentQueries lists logged queries.
type RecentQueries interface {
	Recent(ctx context.Context, limit int) ([]*repository.QueryLog, error)
}

type queryRequest struct {
	Query         string `json:"query"`
	K             int    `json:"k,omitempty"`
	WithReranking *bool  `json:"with_reranking,omitempty"`
}

type batchRequest struct {
	Queries       []string `json:"queries"`
	K             int      `json:"k,omitempty"`
	WithReranking *bool    `json:"with_reranking,omitempty"`
}

type papersResponse struct {
	Papers []rag.Candidate `json:"papers"`
}

type queriesResponse struct {
	Queries []*repository.QueryLog `json:"queries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handlers struct {
	pipeline QueryService
	papers   PaperFinder
	queryLog RecentQueries
	logger   *slog.Logger
}

func (h *handlers) routes(r chi.Router) {
	r.Post("/query", h.query)
	r.Post("/query/compare", h.compare)
	r.Post("/query/batch", h.batch)
	r.Get("/health", h.health)
	r.Get("/papers/similar", h.similar)
	r.Get("/papers/years", h.years)
	r.Get("/queries/recent", h.recent)
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.pipeline.Query(r.Context(), req.Query, pipeline.Options{K: req.K, WithReranking: req.WithReranking})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) compare(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.pipeline.QueryWithComparison(r.Context(), req.Query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.pipeline.QueryBatch(r.Context(), req.Queries, pipeline.Options{K: req.K, WithReranking: req.WithReranking})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	health := h.pipeline.HealthCheck(r.Context())
	status := http.StatusOK
	if !health.Overall {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// readiness reports ready once vector search answers.
func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	if !h.pipeline.HealthCheck(r.Context()).Overall {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) similar(w http.ResponseWriter, r *http.Request) {
	if h.papers == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "paper lookup not configured"})
		return
	}
	title := r.URL.Query().Get("title")
	if title == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "title is required"})
		return
	}
	k, ok := intParam(w, r, "k", 5)
	if !ok {
		return
	}
	papers, err := h.papers.SimilarPapers(r.Context(), title, k)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, papersResponse{Papers: papers})
}

func (h *handlers) years(w http.ResponseWriter, r *http.Request) {
	if h.papers == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "paper lookup not configured"})
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "q is required"})
		return
	}
	from, ok := intParam(w, r, "from", 0)
	if !ok {
		return
	}
	to, ok := intParam(w, r, "to", 9999)
	if !ok {
		return
	}
	k, ok := intParam(w, r, "k", 5)
	if !ok {
		return
	}
	papers, err := h.papers.PapersByYearRange(r.Context(), q, from, to, k)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, papersResponse{Papers: papers})
}

func (h *handlers) recent(w http.ResponseWriter, r *http.Request) {
	if h.queryLog == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "query log disabled"})
		return
	}
	limit, ok := intParam(w, r, "limit", 20)
	if !ok {
		return
	}
	entries, err := h.queryLog.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queriesResponse{Queries: entries})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " must be an integer"})
		return 0, false
	}
	return n, true
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrInvalidQuery),
		errors.Is(err, rag.ErrBatchTooLarge),
		errors.Is(err, rag.ErrEmptyBatch):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
