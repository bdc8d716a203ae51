// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagevault/ingestd/internal/knowledge"
	"github.com/pagevault/ingestd/internal/metrics"
	"github.com/pagevault/ingestd/internal/pipeline"
	"github.com/pagevault/ingestd/internal/storage/sqlite"
)

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	ledger       pipeline.Ledger
	tags         pipeline.TagStore
	params       *sqlite.ParamsStore
	know         knowledge.Store
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orchestrator *pipeline.Orchestrator,
	ledger pipeline.Ledger,
	tags pipeline.TagStore,
	params *sqlite.ParamsStore,
	know knowledge.Store,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orchestrator: orchestrator,
		ledger:       ledger,
		tags:         tags,
		params:       params,
		know:         know,
		logger:       logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(5 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/urls", func(r chi.Router) {
			r.Post("/", s.registerURL)
			r.Get("/", s.listURLs)
			r.Get("/info", s.getURLInfo)
			r.Delete("/{url_id}", s.removeURL)
			r.Get("/{url_id}/tags", s.tagsForURL)
		})
		r.Route("/process", func(r chi.Router) {
			r.Post("/", s.processURL)
			r.Post("/batch", s.processBatch)
			r.Post("/tags", s.processByTags)
		})
		r.Route("/tags", func(r chi.Router) {
			r.Post("/", s.createTag)
			r.Get("/", s.listTags)
			r.Route("/{tag_id}", func(r chi.Router) {
				r.Get("/children", s.childTags)
				r.Get("/path", s.tagPath)
				r.Delete("/", s.deleteTag)
			})
		})
		r.Route("/parameters", func(r chi.Router) {
			r.Get("/", s.getParameters)
			r.Put("/", s.setParameters)
		})
		r.Route("/knowledge", func(r chi.Router) {
			r.Get("/search", s.searchKnowledge)
			r.Get("/stats", s.knowledgeStats)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ledger.List(r.Context(), pipeline.URLFilter{}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
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
		dur := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, dur)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", dur.Milliseconds()),
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
