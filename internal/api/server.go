// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapfolio/place-crawler/internal/config"
	"github.com/mapfolio/place-crawler/internal/dedup"
	"github.com/mapfolio/place-crawler/internal/metrics"
	"github.com/mapfolio/place-crawler/internal/place"
)

// Ticker processes a single pending queue job. The worker implements it.
type Ticker interface {
	ProcessNext(ctx context.Context) (place.CrawlOutcome, error)
}

// Importer runs a bulk-import session. The session orchestrator
// implements it.
type Importer interface {
	Import(ctx context.Context, folderID, userID, input string) (place.ImportSummary, error)
}

// Searcher queries the upstream listing search for candidate stubs.
type Searcher interface {
	Search(ctx context.Context, query string, start, display int) ([]place.Candidate, error)
}

// Server wires HTTP handlers to the worker, orchestrator and queue.
type Server struct {
	router   chi.Router
	ticker   Ticker
	importer Importer
	searcher Searcher
	gate     *dedup.Gate
	queue    place.Queue
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	ticker Ticker,
	importer Importer,
	searcher Searcher,
	gate *dedup.Gate,
	queue place.Queue,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		ticker:   ticker,
		importer: importer,
		searcher: searcher,
		gate:     gate,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(120 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/queue/tick", s.queueTick)
		r.Post("/imports", s.startImport)
		r.Post("/search", s.searchPlaces)
		r.Post("/candidates", s.submitCandidates)
		r.Get("/queue/{id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// queueTick claims and processes at most one pending job. An empty
// queue is a successful no-op, mirroring how schedulers poll the queue.
func (s *Server) queueTick(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.ticker.ProcessNext(r.Context())
	if err != nil {
		if errors.Is(err, place.ErrEmptyQueue) {
			writeJSON(w, http.StatusOK, map[string]string{"message": "no pending items"})
			return
		}
		s.logger.Error("queue tick failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "queue tick failed")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type importRequest struct {
	FolderID string `json:"folder_id"`
	Input    string `json:"input"`
}

func (s *Server) startImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FolderID == "" || req.Input == "" {
		writeError(w, http.StatusBadRequest, "folder_id and input are required")
		return
	}
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	summary, err := s.importer.Import(r.Context(), req.FolderID, userID, req.Input)
	if err != nil {
		switch {
		case errors.Is(err, place.ErrInvalidShareID):
			writeError(w, http.StatusBadRequest, "invalid share id")
		case errors.Is(err, place.ErrNotOwner):
			writeError(w, http.StatusForbidden, "not the folder owner")
		case errors.Is(err, place.ErrNotFound):
			writeError(w, http.StatusNotFound, "folder not found")
		default:
			s.logger.Error("import failed", zap.String("folder_id", req.FolderID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "import failed")
		}
		return
	}
	// Partial failure is a valid session result, not an HTTP error.
	writeJSON(w, http.StatusOK, summary)
}

// defaultSearchDisplay bounds result pages when the caller names no
// page size.
const defaultSearchDisplay = 10

type searchRequest struct {
	Query   string `json:"query"`
	Start   int    `json:"start"`
	Display int    `json:"display"`
}

type searchResponse struct {
	Candidates    []place.Candidate `json:"candidates"`
	QueuedCount   int               `json:"queued_count"`
	ExistingCount int               `json:"existing_count"`
}

// searchPlaces runs the discovery flow: query the upstream listing,
// partition the results through the dedup gate, and enqueue the
// unknown ids.
func (s *Server) searchPlaces(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Start <= 0 {
		req.Start = 1
	}
	if req.Display <= 0 {
		req.Display = defaultSearchDisplay
	}

	candidates, err := s.searcher.Search(r.Context(), req.Query, req.Start, req.Display)
	if err != nil {
		var ue *place.UpstreamError
		if errors.As(err, &ue) {
			writeError(w, http.StatusBadGateway, "search upstream failed")
			return
		}
		s.logger.Error("search failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	resp := searchResponse{Candidates: candidates}
	if resp.Candidates == nil {
		resp.Candidates = []place.Candidate{}
	}
	if len(candidates) > 0 {
		queued, existing, err := s.enqueueCandidates(r.Context(), candidates)
		if err != nil {
			s.logger.Error("search enqueue failed", zap.String("query", req.Query), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "enqueue failed")
			return
		}
		resp.QueuedCount = queued
		resp.ExistingCount = existing
	}
	writeJSON(w, http.StatusOK, resp)
}

type candidatesRequest struct {
	Candidates []place.Candidate `json:"candidates"`
}

type candidatesResponse struct {
	QueuedCount   int `json:"queued_count"`
	ExistingCount int `json:"existing_count"`
}

// submitCandidates feeds discovered identifier stubs through the dedup
// gate into the queue.
func (s *Server) submitCandidates(w http.ResponseWriter, r *http.Request) {
	var req candidatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, "candidates are required")
		return
	}

	queued, existing, err := s.enqueueCandidates(r.Context(), req.Candidates)
	if err != nil {
		s.logger.Error("candidate enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusOK, candidatesResponse{
		QueuedCount:   queued,
		ExistingCount: existing,
	})
}

// enqueueCandidates partitions candidates through the dedup gate and
// enqueues the unknown ids with the configured retry limit.
func (s *Server) enqueueCandidates(ctx context.Context, candidates []place.Candidate) (queued, existing int, err error) {
	part, err := s.gate.Partition(ctx, candidates)
	if err != nil {
		return 0, 0, fmt.Errorf("partition candidates: %w", err)
	}
	jobs := make([]place.Job, 0, len(part.Unknown))
	for _, c := range part.Unknown {
		jobs = append(jobs, c.Job(s.cfg.Session.RetryLimit))
	}
	if err := s.queue.EnqueueBatch(ctx, jobs); err != nil {
		return 0, 0, fmt.Errorf("enqueue candidates: %w", err)
	}
	return len(part.Unknown), len(part.Known), nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, place.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job lookup failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
