package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports the state of one component; a nil error is healthy.
type HealthCheck func(ctx context.Context) error

// Handler returns the mux serving the metrics path and /health.
func (m *Metrics) Handler(path string, checks map[string]HealthCheck) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		health := struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]string, len(checks)),
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components[name] = err.Error()
				continue
			}
			health.Components[name] = "ok"
		}

		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
	return mux
}

// Server serves metrics and health until Shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server on port.
func NewServer(port int, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting metrics server", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "err", err)
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
