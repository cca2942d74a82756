// Simulator wiring signals, repair units and the dispatcher
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"signalfix-sim/internal/clock"
	"signalfix-sim/internal/config"
	"signalfix-sim/internal/dispatch"
	"signalfix-sim/internal/fsm"
	"signalfix-sim/internal/repair"
	"signalfix-sim/internal/signal"
	"signalfix-sim/internal/telemetry"
)

// ErrUnknownSignal is returned for signal ids not in the simulation.
var ErrUnknownSignal = errors.New("unknown signal")

// Option customizes a Simulator.
type Option func(*Simulator)

// WithClock sets the clock shared by every component.
func WithClock(c clock.Clock) Option { return func(s *Simulator) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Simulator) { s.log = l } }

// Simulator owns the signals of a city and the repair pool serving them.
type Simulator struct {
	cfg        *config.SimulationConfig
	clock      clock.Clock
	log        *slog.Logger
	gen        *telemetry.Generator
	writer     SignalWriter
	signals    []*signal.Signal
	byID       map[string]*signal.Signal
	dispatcher *dispatch.Dispatcher

	mu      sync.Mutex
	running bool
}

// NewSimulator builds every component from cfg. writer may be nil to drop
// rows.
func NewSimulator(cfg *config.SimulationConfig, writer SignalWriter, opts ...Option) (*Simulator, error) {
	s := &Simulator{
		cfg:    cfg,
		clock:  clock.Real{},
		log:    slog.Default(),
		writer: writer,
		byID:   make(map[string]*signal.Signal),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("simulation_id", cfg.SimulationID)
	s.gen = telemetry.NewGenerator(cfg.SimulationID, s.clock.Now)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	master := rand.New(rand.NewSource(seed))

	var units []*repair.Unit
	for _, uc := range cfg.UnitConfigs() {
		u, err := repair.NewUnit(uc,
			repair.WithUnitClock(s.clock),
			repair.WithUnitLogger(s.log),
			repair.WithFailureHandler(s.onFailure),
			repair.WithUnitTransitionHandler(s.onUnitTransition),
		)
		if err != nil {
			return nil, fmt.Errorf("create repair unit: %w", err)
		}
		units = append(units, u)
	}
	d, err := dispatch.New(cfg.DispatcherConfig(), units,
		dispatch.WithClock(s.clock),
		dispatch.WithRand(rand.New(rand.NewSource(master.Int63()))),
		dispatch.WithLogger(s.log),
		dispatch.WithMissionHandler(s.onMission),
		dispatch.WithPassHandler(s.onPass),
	)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	s.dispatcher = d

	for _, sc := range cfg.SignalConfigs() {
		sig, err := signal.New(sc,
			signal.WithClock(s.clock),
			signal.WithRand(rand.New(rand.NewSource(master.Int63()))),
			signal.WithLogger(s.log),
			signal.WithOutageHandler(s.onOutage),
			signal.WithTickHandler(s.onTick),
		)
		if err != nil {
			return nil, fmt.Errorf("create signal: %w", err)
		}
		s.signals = append(s.signals, sig)
		s.byID[sig.ID()] = sig
	}
	return s, nil
}

// ID returns the simulation id.
func (s *Simulator) ID() string { return s.cfg.SimulationID }

// GetConfig returns the loaded configuration.
func (s *Simulator) GetConfig() *config.SimulationConfig { return s.cfg }

// Start brings the repair pool into service, then powers up the signals.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.dispatcher.Start(); err != nil {
		return err
	}
	for _, sig := range s.signals {
		if err := sig.Start(); err != nil {
			return fmt.Errorf("start signal %s: %w", sig.ID(), err)
		}
	}
	s.running = true
	s.log.Info("simulation started", "signals", len(s.signals), "units", s.dispatcher.Size())
	return nil
}

// Stop halts the signals and the repair pool. Pending activities are
// cancelled.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	for _, sig := range s.signals {
		sig.Stop()
	}
	s.dispatcher.Stop()
	s.running = false
	s.log.Info("simulation stopped")
}

// Run starts the simulation and blocks until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Signals returns the snapshot of every signal, sorted by id.
func (s *Simulator) Signals() []signal.Snapshot {
	out := make([]signal.Snapshot, 0, len(s.signals))
	for _, sig := range s.signals {
		out = append(out, sig.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Units returns the snapshot of every repair unit in slot order.
func (s *Simulator) Units() []repair.Snapshot {
	units := s.dispatcher.Units()
	out := make([]repair.Snapshot, 0, len(units))
	for _, u := range units {
		out = append(out, u.State())
	}
	return out
}

// Dispatcher returns the dispatcher snapshot.
func (s *Simulator) Dispatcher() dispatch.Snapshot { return s.dispatcher.Snapshot() }

// InjectOutage cuts power to signal id. It reports false when the signal is
// stopped or already out.
func (s *Simulator) InjectOutage(id string) (bool, error) {
	sig, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSignal, id)
	}
	return sig.ForceOutage(), nil
}

// Fix restores power to signal id directly, bypassing the repair pool.
func (s *Simulator) Fix(id string) (bool, error) {
	sig, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSignal, id)
	}
	return sig.Fix(), nil
}

func (s *Simulator) onOutage(sig *signal.Signal) {
	s.dispatcher.EnqueueIfAbsent(sig)
}

func (s *Simulator) onTick(snap signal.Snapshot) {
	if s.writer == nil {
		return
	}
	if err := s.writer.WriteSignal(s.gen.SignalRow(snap)); err != nil {
		s.log.Error("signal row write failed", "signal_id", snap.ID, "err", err)
	}
}

func (s *Simulator) onUnitTransition(tr fsm.Transition[repair.State, repair.Event], snap repair.Snapshot) {
	if uw, ok := s.writer.(UnitWriter); ok {
		if err := uw.WriteUnit(s.gen.UnitRow(tr, snap)); err != nil {
			s.log.Error("unit row write failed", "unit_id", snap.ID, "err", err)
		}
	}
}

func (s *Simulator) onFailure(n repair.FailureNotice) {
	if mw, ok := s.writer.(MissionWriter); ok {
		if err := mw.WriteMission(s.gen.FailureRow(n)); err != nil {
			s.log.Error("mission row write failed", "mission_id", n.MissionID, "err", err)
		}
	}
}

func (s *Simulator) onMission(ev dispatch.MissionEvent) {
	if mw, ok := s.writer.(MissionWriter); ok {
		if err := mw.WriteMission(s.gen.MissionRow(ev)); err != nil {
			s.log.Error("mission row write failed", "mission_id", ev.MissionID, "err", err)
		}
	}
}

func (s *Simulator) onPass(p dispatch.PassStats) {
	if dw, ok := s.writer.(DispatcherWriter); ok {
		if err := dw.WriteDispatcher(s.gen.DispatcherRow(p)); err != nil {
			s.log.Error("dispatcher row write failed", "pass", p.Pass, "err", err)
		}
	}
}
