// Package signal models a traffic-signal intersection that cycles through its
// color phases on a fixed tick and can lose power at random.
package signal

import (
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalfix-sim/internal/clock"
	"signalfix-sim/internal/fsm"
)

// ErrRunning is returned by Start on a running signal.
var ErrRunning = errors.New("signal already running")

// OutageHandler is called once when a signal loses power and again on every
// alarm interval until it is fixed.
type OutageHandler func(*Signal)

// TickHandler receives the signal snapshot after every tick.
type TickHandler func(Snapshot)

// TransitionHandler receives every completed phase change. It runs while the
// signal is locked and must not call back into the signal.
type TransitionHandler func(id string, tr fsm.Transition[Phase, Event])

// Option customizes a Signal.
type Option func(*Signal)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option { return func(s *Signal) { s.clock = c } }

// WithRand sets the random source used for outage draws.
func WithRand(r *rand.Rand) Option { return func(s *Signal) { s.rand = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Signal) { s.log = l } }

// WithOutageHandler sets the outage notification callback.
func WithOutageHandler(h OutageHandler) Option { return func(s *Signal) { s.onOutage = h } }

// WithTickHandler sets the per-tick snapshot callback.
func WithTickHandler(h TickHandler) Option { return func(s *Signal) { s.onTick = h } }

// WithTransitionHandler sets the phase change callback.
func WithTransitionHandler(h TransitionHandler) Option {
	return func(s *Signal) { s.onTransition = h }
}

// Signal is one intersection. All state is guarded by mu; callbacks are
// always invoked without mu held.
type Signal struct {
	mu      sync.Mutex
	cfg     Config
	clock   clock.Clock
	rand    *rand.Rand
	log     *slog.Logger
	machine *fsm.Machine[Phase, Event]

	// frozen is the last powered phase, reported while in outage.
	frozen      Phase
	elapsed     time.Duration
	outageCount int
	blinkOn     bool
	running     bool

	ticker clock.Timer
	alarm  clock.Timer
	blink  clock.Timer

	onOutage     OutageHandler
	onTick       TickHandler
	onTransition TransitionHandler
}

// New validates cfg and builds a stopped signal in red_walk.
func New(cfg Config, opts ...Option) (*Signal, error) {
	cfg = cfg.withDefaults()
	if cfg.ID == "" {
		cfg.ID = "signal-" + uuid.New().String()[:8]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Signal{
		cfg:    cfg,
		clock:  clock.Real{},
		log:    slog.Default(),
		frozen: PhaseRedWalk,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s.log = s.log.With("signal_id", cfg.ID)
	s.machine = s.buildMachine()
	return s, nil
}

func (s *Signal) buildMachine() *fsm.Machine[Phase, Event] {
	m := fsm.New[Phase, Event](PhaseRedWalk)
	reset := fsm.Do(s.resetElapsed)

	m.Permit(PhaseGreen, EventTimer, PhaseYellow, reset)
	m.Permit(PhaseYellow, EventTimer, PhaseRedWalk, reset)
	for _, red := range []Phase{PhaseRedWalk, PhaseRedWait, PhaseRedStop} {
		m.Permit(red, EventTimer, PhaseGreen, reset)
	}
	m.Permit(PhaseRedWalk, EventPedTimer, PhaseRedWait)
	m.Permit(PhaseRedWait, EventPedTimer, PhaseRedStop)

	for _, p := range []Phase{PhaseRedWalk, PhaseRedWait, PhaseRedStop, PhaseYellow, PhaseGreen} {
		m.Permit(p, EventPowerOutage, PhaseOutage)
	}
	m.Permit(PhaseOutage, EventPowerRestore, PhaseRedWalk, reset)

	m.OnEntry(PhaseOutage, s.startAlarm)
	m.OnExit(PhaseOutage, s.stopAlarm)
	m.OnEntry(PhaseRedWait, s.startBlink)
	m.OnExit(PhaseRedWait, s.stopBlink)

	m.Observe(func(tr fsm.Transition[Phase, Event]) {
		s.log.Debug("signal transition", "from", tr.From, "to", tr.To, "event", tr.Event)
		if s.onTransition != nil {
			s.onTransition(s.cfg.ID, tr)
		}
	})
	return m
}

// ID returns the signal identifier.
func (s *Signal) ID() string { return s.cfg.ID }

// Config returns the effective configuration.
func (s *Signal) Config() Config { return s.cfg }

// Start begins ticking from the start of the red phase. A stopped signal
// restarts there as well.
func (s *Signal) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.elapsed = 0
	s.frozen = PhaseRedWalk
	s.blinkOn = false
	if err := s.machine.Start(); err != nil {
		return err
	}
	s.running = true
	s.ticker = clock.Every(s.clock, s.cfg.TickInterval, s.tick)
	s.log.Info("traffic signal started", "tick_interval", s.cfg.TickInterval)
	return nil
}

// Stop cancels the tick and every running activity. It is safe to call twice.
func (s *Signal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.ticker.Stop()
	s.ticker = nil
	_ = s.machine.Stop()
	s.log.Info("traffic signal stopped", "outages", s.outageCount)
}

// Fix restores power. It is a no-op returning false unless the signal is
// running and in outage.
func (s *Signal) Fix() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.machine.Current() != PhaseOutage {
		return false
	}
	s.fire(EventPowerRestore)
	s.log.Info("traffic signal repaired")
	return true
}

// ForceOutage cuts power regardless of the outage chance. It returns false if
// the signal is stopped or already in outage.
func (s *Signal) ForceOutage() bool {
	s.mu.Lock()
	if !s.running || s.machine.Current() == PhaseOutage {
		s.mu.Unlock()
		return false
	}
	s.enterOutage()
	h := s.onOutage
	s.mu.Unlock()
	if h != nil {
		h(s)
	}
	return true
}

// State returns a snapshot of the signal.
func (s *Signal) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Signal) snapshot() Snapshot {
	phase := s.machine.Current()
	shown := phase
	if phase == PhaseOutage {
		shown = s.frozen
	}
	traffic, ped := shown.Project()
	return Snapshot{
		ID:          s.cfg.ID,
		Outage:      phase == PhaseOutage,
		Traffic:     traffic,
		Pedestrian:  ped,
		Phase:       phase,
		OutageCount: s.outageCount,
		BlinkOn:     s.blinkOn,
		Running:     s.running,
	}
}

func (s *Signal) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.cfg.MaxOutages > 0 && s.outageCount > s.cfg.MaxOutages {
		s.mu.Unlock()
		s.log.Warn("outage limit exceeded", "outages", s.outageCount, "max", s.cfg.MaxOutages)
		s.Stop()
		return
	}

	lostPower := false
	switch {
	case s.machine.Current() == PhaseOutage:
	case s.rand.Float64()*100 > 100-s.cfg.OutageChance:
		s.enterOutage()
		lostPower = true
	default:
		s.advance()
	}
	snap := s.snapshot()
	onTick, onOutage := s.onTick, s.onOutage
	s.mu.Unlock()

	if onTick != nil {
		onTick(snap)
	}
	if lostPower && onOutage != nil {
		onOutage(s)
	}
}

func (s *Signal) enterOutage() {
	s.frozen = s.machine.Current()
	s.outageCount++
	s.fire(EventPowerOutage)
	s.log.Info("traffic signal on outage", "outages", s.outageCount, "frozen_phase", s.frozen)
}

// advance evaluates the phase timers for one tick.
func (s *Signal) advance() {
	s.elapsed += s.cfg.TickInterval
	t := s.cfg.Timer
	switch cur := s.machine.Current(); {
	case cur == PhaseGreen:
		if s.elapsed > t.Green {
			s.fire(EventTimer)
		}
	case cur == PhaseYellow:
		if s.elapsed > t.Yellow {
			s.fire(EventTimer)
		}
	case cur.IsRed():
		if cur == PhaseRedWalk && t.Red-s.elapsed < PedestrianWarning {
			s.fire(EventPedTimer)
		}
		if s.elapsed > t.Red {
			for s.machine.Current() != PhaseRedStop {
				if !s.fire(EventPedTimer) {
					return
				}
			}
			s.fire(EventTimer)
		}
	}
}

func (s *Signal) fire(ev Event) bool {
	if _, err := s.machine.Fire(ev); err != nil {
		s.log.Error("signal event rejected", "event", ev, "err", err)
		return false
	}
	return true
}

func (s *Signal) resetElapsed() { s.elapsed = 0 }

func (s *Signal) startAlarm() {
	s.alarm = clock.Every(s.clock, s.cfg.AlarmInterval, s.raiseAlarm)
}

func (s *Signal) stopAlarm() {
	if s.alarm != nil {
		s.alarm.Stop()
		s.alarm = nil
	}
}

func (s *Signal) raiseAlarm() {
	s.mu.Lock()
	active := s.running && s.machine.Current() == PhaseOutage
	h := s.onOutage
	s.mu.Unlock()
	if active && h != nil {
		h(s)
	}
}

func (s *Signal) startBlink() {
	if !s.cfg.Blink {
		return
	}
	s.blinkOn = true
	s.blink = clock.Every(s.clock, s.cfg.BlinkInterval, s.toggleBlink)
}

func (s *Signal) stopBlink() {
	if s.blink != nil {
		s.blink.Stop()
		s.blink = nil
	}
	s.blinkOn = false
}

func (s *Signal) toggleBlink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Current() == PhaseRedWait {
		s.blinkOn = !s.blinkOn
	}
}
