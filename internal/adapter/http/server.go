package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwygoda/streamwatch/internal/logger"
	"github.com/cwygoda/streamwatch/internal/worker"
)

// StatusSource reports the current worker state.
type StatusSource interface {
	Status() worker.Status
}

// Server is the operational HTTP adapter.
type Server struct {
	status   StatusSource
	gatherer prometheus.Gatherer
	log      logger.Logger
	mux      *http.ServeMux
	server   *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(status StatusSource, gatherer prometheus.Gatherer, log logger.Logger, addr string) *Server {
	s := &Server{
		status:   status,
		gatherer: gatherer,
		log:      log,
		mux:      http.NewServeMux(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// statusResponse is the JSON response for GET /status.
type statusResponse struct {
	QueueSize int                  `json:"queue_size"`
	Paused    bool                 `json:"paused"`
	LastSweep *worker.SweepSummary `json:"last_sweep"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	s.writeJSON(w, http.StatusOK, statusResponse{
		QueueSize: st.QueueSize,
		Paused:    st.Paused,
		LastSweep: st.LastSweep,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", logger.Error(err))
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", logger.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
