package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// ServerConfig wires the operational HTTP surface. The data sources are
// plain funcs so the server stays decoupled from the orchestrator.
type ServerConfig struct {
	ListenAddr   string
	Registry     *Registry
	Monitor      *HealthMonitor
	Report       func() HealthReport
	Positions    func() any
	ActiveOrders func() any
}

// Server exposes /healthz, /metrics, /positions, and /orders/active.
type Server struct {
	cfg  ServerConfig
	http *http.Server
}

// NewServer builds the ops server with its routes.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", NewPrometheusExporter(cfg.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/orders/active", s.handleActiveOrders).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("ops server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type healthResponse struct {
	HealthReport
	System *SystemHealth `json:"system,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{}
	if s.cfg.Report != nil {
		resp.HealthReport = s.cfg.Report()
	}
	if s.cfg.Monitor != nil {
		sys := s.cfg.Monitor.Check(r.Context())
		resp.System = &sys
	}

	code := http.StatusOK
	if !resp.Running || (resp.System != nil && resp.System.Status == StatusUnhealthy) {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Positions == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Positions())
}

func (s *Server) handleActiveOrders(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.ActiveOrders == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.ActiveOrders())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("ops: encode response")
	}
}
