package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/chainguard/internal/core/domain"
)

// ErrorAdmin exposes the error log to operators.
type ErrorAdmin interface {
	Stats(ctx context.Context) domain.ErrorStats
	Export(ctx context.Context) ([]byte, error)
	Clear(ctx context.Context)
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor *Monitor
	errors  ErrorAdmin
	server  *http.Server
}

// NewServer creates a new health server. errs may be nil, in which case the
// /errors endpoints are not registered.
func NewServer(monitor *Monitor, errs ErrorAdmin, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		errors:  errs,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())

	if errs != nil {
		mux.HandleFunc("GET /errors/stats", s.handleErrorStats)
		mux.HandleFunc("GET /errors/export", s.handleErrorExport)
		mux.HandleFunc("DELETE /errors", s.handleErrorClear)
	}

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.SystemStatus == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.errors.Stats(r.Context()))
}

func (s *Server) handleErrorExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.errors.Export(r.Context())
	if err != nil {
		slog.Error("Failed to export error log", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="errors-%s.json"`, time.Now().UTC().Format("20060102T150405Z")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleErrorClear(w http.ResponseWriter, r *http.Request) {
	s.errors.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
