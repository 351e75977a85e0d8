// Package http serves the read-only observability surface: health, runtime
// status, and Prometheus metrics. Task submission stays off this server; the
// orchestrator API is consumed in-process.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"tradekernel/internal/metrics"
	"tradekernel/internal/orchestrator"
)

// Server is the observability HTTP server.
type Server struct {
	server *http.Server
	orch   *orchestrator.Orchestrator
	reg    *metrics.Registry
	start  time.Time
}

// NewServer wires routes for the given orchestrator and metrics registry.
func NewServer(addr string, orch *orchestrator.Orchestrator, reg *metrics.Registry) *Server {
	s := &Server{
		orch:  orch,
		reg:   reg,
		start: time.Now().UTC(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if reg != nil {
		router.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks; run it on its own goroutine.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Observability server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"uptime":    time.Since(s.start).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statusResponse is the read-only runtime view.
type statusResponse struct {
	QueueDepth        int                `json:"queue_depth"`
	ActiveTasks       int                `json:"active_tasks"`
	ActiveSuspensions int                `json:"active_suspensions"`
	DailyLoss         float64            `json:"daily_loss"`
	Positions         map[string]float64 `json:"positions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	state := s.orch.State()
	writeJSON(w, http.StatusOK, statusResponse{
		QueueDepth:        s.orch.QueueDepth(),
		ActiveTasks:       len(s.orch.ListActive()),
		ActiveSuspensions: len(state.ActiveSuspensions(now)),
		DailyLoss:         state.DailyLoss(now),
		Positions:         state.Positions(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
