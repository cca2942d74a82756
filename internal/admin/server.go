package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"signalfix-sim/internal/dispatch"
	"signalfix-sim/internal/repair"
	"signalfix-sim/internal/signal"
	"signalfix-sim/internal/sim"
)

// Simulation is the view of the simulator the admin API needs.
type Simulation interface {
	Signals() []signal.Snapshot
	Units() []repair.Snapshot
	Dispatcher() dispatch.Snapshot
	InjectOutage(id string) (bool, error)
	Fix(id string) (bool, error)
}

// Server is the JSON status API of a running simulation.
type Server struct {
	Sim Simulation
	log *slog.Logger
	mux *http.ServeMux
}

// Health summarizes the simulation for liveness checks.
type Health struct {
	Status  string `json:"status"`
	Signals int    `json:"signals"`
	Outages int    `json:"outages"`
	Queued  int    `json:"queued"`
	Busy    int    `json:"busy_units"`
	Units   int    `json:"units"`
}

func NewServer(sim Simulation, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{Sim: sim, log: log, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /signals", s.handleSignals)
	s.mux.HandleFunc("GET /units", s.handleUnits)
	s.mux.HandleFunc("GET /dispatcher", s.handleDispatcher)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /inject-outage", s.handleInjectOutage)
	s.mux.HandleFunc("POST /fix", s.handleFix)
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return http.ErrServerClosed
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("admin response encode failed", "err", err)
	}
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Sim.Signals())
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Sim.Units())
}

func (s *Server) handleDispatcher(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Sim.Dispatcher())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{Status: "ok"}
	for _, sig := range s.Sim.Signals() {
		h.Signals++
		if sig.Outage {
			h.Outages++
		}
	}
	d := s.Sim.Dispatcher()
	h.Queued = len(d.Queue)
	h.Units = len(d.Slots)
	for _, slot := range d.Slots {
		if slot.Busy {
			h.Busy++
		}
	}
	if !d.Running {
		h.Status = "stopped"
	}
	s.writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleInjectOutage(w http.ResponseWriter, r *http.Request) {
	s.signalAction(w, r, "outage", s.Sim.InjectOutage)
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	s.signalAction(w, r, "fixed", s.Sim.Fix)
}

func (s *Server) signalAction(w http.ResponseWriter, r *http.Request, key string, action func(string) (bool, error)) {
	id := r.URL.Query().Get("signal")
	if id == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing signal parameter"})
		return
	}
	changed, err := action(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sim.ErrUnknownSignal) {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	s.log.Info("admin action", "action", key, "signal_id", id, "changed", changed)
	s.writeJSON(w, http.StatusOK, map[string]any{"signal": id, key: changed})
}
