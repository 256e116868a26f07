package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chainintel/internal/api/health"
	"chainintel/internal/metrics"
	pipelineservice "chainintel/internal/services/pipeline"
	"chainintel/internal/workers"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// StatsProvider exposes the processor's in-process counters
type StatsProvider interface {
	GetMetrics() pipelineservice.MetricsSnapshot
}

// WorkerHealthProvider exposes background worker health
type WorkerHealthProvider interface {
	GetAllHealth() map[string]workers.WorkerHealth
}

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Port        int
	ServiceName string
	Version     string
	Stats       StatsProvider
	Workers     WorkerHealthProvider // optional
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes
func NewServer(cfg ServerConfig, healthHandler *health.Handler, log *logger.Logger) *Server {
	log = log.With("component", "http")

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMux(cfg, healthHandler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// NewMux builds the route table
func NewMux(cfg ServerConfig, healthHandler *health.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	// Kubernetes probes
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)

	mux.Handle("/metrics", metrics.Handler())

	if cfg.Stats != nil {
		mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, cfg.Stats.GetMetrics())
		})
	}
	if cfg.Workers != nil {
		mux.HandleFunc("/workers", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, cfg.Workers.GetAllHealth())
		})
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]string{
			"service": cfg.ServiceName,
			"version": cfg.Version,
			"status":  "running",
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.log.Infow("Starting HTTP server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown waits for active connections within ctx
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("HTTP server stopped")
	return nil
}
