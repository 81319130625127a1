// Package ops serves the operational endpoints: health, Prometheus
// metrics, and a JSON status snapshot. It binds to localhost by
// default and carries no monitor data beyond counters, so it needs no
// auth.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/varunahq/varuna/internal/engine"
	"github.com/varunahq/varuna/internal/metrics"
	"github.com/varunahq/varuna/internal/storage"
)

type Server struct {
	store  storage.Store
	engine *engine.Engine
	logger *slog.Logger
	http   *http.Server
}

func NewServer(listen string, store storage.Store, eng *engine.Engine, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{store: store, engine: eng, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/statusz", s.handleStatusz)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start launches the listener. Errors other than a clean close are
// reported through fail.
func (s *Server) Start(fail func(error)) {
	go func() {
		s.logger.Info("ops server listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fail(err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", slog.Any("error", err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (s *Server) handleStatusz(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Error("statusz failed", slog.Any("error", err))
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
