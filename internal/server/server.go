// Package server exposes the admin HTTP interface: health, metrics, cycle
// status, and manual cycle triggers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/identity"
	"github.com/aniketms/jobpulse/internal/metrics"
	"github.com/aniketms/jobpulse/internal/orchestrator"
	"github.com/aniketms/jobpulse/internal/scraper"
)

// Cycler is the orchestrator surface the server needs.
type Cycler interface {
	RunCycle(ctx context.Context) (*scraper.RunStats, error)
	State() scraper.CycleState
	LastStats() *scraper.RunStats
}

// PoolInspector reports identity pool health.
type PoolInspector interface {
	Snapshot() identity.Stats
}

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router chi.Router
	cycler Cycler
	pool   PoolInspector
	logger *zap.Logger
}

// New constructs a Server with middleware and routes.
func New(cycler Cycler, pool PoolInspector, logger *zap.Logger) *Server {
	s := &Server{
		cycler: cycler,
		pool:   pool,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/cycles", s.triggerCycle)
		r.Get("/identities", s.identities)
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

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"state": s.cycler.State()}
	if last := s.cycler.LastStats(); last != nil {
		payload["last_run"] = last
	}
	writeJSON(w, http.StatusOK, payload)
}

// triggerCycle starts a cycle in the background and reports acceptance. A
// cycle already in flight is a conflict, not a queue.
func (s *Server) triggerCycle(w http.ResponseWriter, _ *http.Request) {
	done := make(chan error, 1)
	go func() {
		_, err := s.cycler.RunCycle(context.Background())
		if err != nil && !errors.Is(err, orchestrator.ErrCycleInProgress) {
			s.logger.Error("triggered cycle failed", zap.Error(err))
		}
		done <- err
	}()

	select {
	case err := <-done:
		if errors.Is(err, orchestrator.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "complete"})
	case <-time.After(100 * time.Millisecond):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (s *Server) identities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Snapshot())
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
