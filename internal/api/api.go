// Package api exposes indexing control, search and statistics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/deidaraiorek/sitesearch/internal/apperr"
	"github.com/deidaraiorek/sitesearch/internal/search"
	"github.com/deidaraiorek/sitesearch/internal/statistics"
)

type Indexing interface {
	StartIndexing(ctx context.Context) error
	StopIndexing(ctx context.Context) error
	IndexPage(ctx context.Context, url string) error
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

type StatisticsCollector interface {
	Collect(ctx context.Context) (*statistics.Statistics, error)
}

type Server struct {
	indexing Indexing
	searcher Searcher
	stats    StatisticsCollector
	logger   *slog.Logger
}

func New(indexing Indexing, searcher Searcher, stats StatisticsCollector, logger *slog.Logger) *Server {
	return &Server{
		indexing: indexing,
		searcher: searcher,
		stats:    stats,
		logger:   logger,
	}
}

type envelope struct {
	Result     bool                   `json:"result"`
	Error      string                 `json:"error,omitempty"`
	Count      *int                   `json:"count,omitempty"`
	Data       []search.Result        `json:"data,omitempty"`
	Statistics *statistics.Statistics `json:"statistics,omitempty"`
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/startIndexing", s.startIndexing)
		r.Get("/stopIndexing", s.stopIndexing)
		r.Post("/indexPage", s.indexPage)
		r.Get("/search", s.search)
		r.Get("/statistics", s.statistics)
	})

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) startIndexing(w http.ResponseWriter, r *http.Request) {
	if err := s.indexing.StartIndexing(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, http.StatusOK, envelope{Result: true})
}

func (s *Server) stopIndexing(w http.ResponseWriter, r *http.Request) {
	if err := s.indexing.StopIndexing(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, http.StatusOK, envelope{Result: true})
}

func (s *Server) indexPage(w http.ResponseWriter, r *http.Request) {
	url := r.FormValue("url")
	if url == "" {
		s.fail(w, r, apperr.ErrPageOutOfScope.WithMessage("url is required"))
		return
	}
	if err := s.indexing.IndexPage(r.Context(), url); err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, http.StatusOK, envelope{Result: true})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		s.fail(w, r, apperr.ErrInvalidQuery.WithMessage("offset must be an integer"))
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		s.fail(w, r, apperr.ErrInvalidQuery.WithMessage("limit must be an integer"))
		return
	}

	resp, err := s.searcher.Search(r.Context(), search.Query{
		Text:   q.Get("query"),
		Site:   q.Get("site"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if resp.Total == 0 {
		s.write(w, http.StatusNotFound, envelope{Error: "nothing found"})
		return
	}

	s.write(w, http.StatusOK, envelope{Result: true, Count: &resp.Total, Data: resp.Results})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Collect(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, http.StatusOK, envelope{Result: true, Statistics: stats})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func statusFor(err error) int {
	if errors.Is(err, apperr.ErrEmptySiteList) || errors.Is(err, apperr.ErrEmptyIndex) {
		return http.StatusNotFound
	}
	switch apperr.CategoryOf(err) {
	case apperr.CategoryConcurrency:
		return http.StatusConflict
	case apperr.CategoryScope, apperr.CategoryQuery:
		return http.StatusBadRequest
	case apperr.CategoryAvailability, apperr.CategoryFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	s.write(w, status, envelope{Error: err.Error()})
}

func (s *Server) write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
