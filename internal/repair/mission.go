package repair

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalfix-sim/internal/clock"
)

// Target is the thing a mission repairs.
type Target interface {
	ID() string
	// Fix restores the target. It reports false if there was nothing to fix.
	Fix() bool
}

// Outcome is how a mission ended.
type Outcome string

const (
	OutcomeRepaired Outcome = "repaired"
	OutcomeGaveUp   Outcome = "gave_up"
	OutcomeAborted  Outcome = "aborted"
	// OutcomeUnfixed means the repair completed but the target had nothing
	// to fix, e.g. it was already restored or had shut itself down.
	OutcomeUnfixed Outcome = "unfixed"
)

// MissionConfig holds the timing model of a mission.
type MissionConfig struct {
	// Speed is the travel speed in distance units per second.
	Speed float64
	// MaxInvestigation bounds the random diagnosis delay.
	MaxInvestigation time.Duration
	// MaxFix bounds the random repair duration.
	MaxFix time.Duration
	// FailureRatio marks a repair as failed once its duration exceeds
	// FailureRatio*MaxFix.
	FailureRatio float64
}

// DefaultMissionConfig mirrors the field crews' historical timing.
var DefaultMissionConfig = MissionConfig{
	Speed:            200,
	MaxInvestigation: 5 * time.Second,
	MaxFix:           2 * time.Second,
	FailureRatio:     0.95,
}

// ErrInvalidMission wraps mission configuration errors.
var ErrInvalidMission = errors.New("invalid mission config")

// Validate checks the timing model.
func (c MissionConfig) Validate() error {
	switch {
	case c.Speed <= 0:
		return fmt.Errorf("%w: speed must be positive, got %v", ErrInvalidMission, c.Speed)
	case c.MaxInvestigation < 0 || c.MaxFix < 0:
		return fmt.Errorf("%w: negative durations", ErrInvalidMission)
	case c.FailureRatio < 0 || c.FailureRatio > 1:
		return fmt.Errorf("%w: failure ratio %v outside [0,1]", ErrInvalidMission, c.FailureRatio)
	}
	return nil
}

// TravelTime returns how long a unit needs to cover distance.
func (c MissionConfig) TravelTime(distance float64) time.Duration {
	return time.Duration(distance / c.Speed * float64(time.Second))
}

// Result describes a finished mission.
type Result struct {
	MissionID  string    `json:"mission_id"`
	UnitID     string    `json:"unit_id"`
	TargetID   string    `json:"target_id"`
	Outcome    Outcome   `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Distance   float64   `json:"distance"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// MissionOption customizes a Mission.
type MissionOption func(*Mission)

// WithMissionClock sets the clock that schedules mission steps.
func WithMissionClock(c clock.Clock) MissionOption { return func(m *Mission) { m.clock = c } }

// WithMissionRand sets the random source for delays.
func WithMissionRand(r *rand.Rand) MissionOption { return func(m *Mission) { m.rand = r } }

// WithMissionLogger sets the logger.
func WithMissionLogger(l *slog.Logger) MissionOption { return func(m *Mission) { m.log = l } }

// WithDoneHandler sets the callback receiving the mission result. It is
// called exactly once, without any mission or unit lock held.
func WithDoneHandler(h func(Result)) MissionOption { return func(m *Mission) { m.onDone = h } }

// Mission drives one unit through travel, diagnosis and repair of a target.
// At most one step timer is pending at any time.
type Mission struct {
	mu       sync.Mutex
	id       string
	unit     *Unit
	target   Target
	distance float64
	cfg      MissionConfig
	clock    clock.Clock
	rand     *rand.Rand
	log      *slog.Logger

	startedAt time.Time
	attempts  int
	timer     clock.Timer
	started   bool
	done      bool

	onDone func(Result)
}

// NewMission prepares a mission. Nothing happens until Start.
func NewMission(unit *Unit, target Target, distance float64, cfg MissionConfig, opts ...MissionOption) (*Mission, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if distance < 0 {
		return nil, fmt.Errorf("%w: negative distance %v", ErrInvalidMission, distance)
	}
	m := &Mission{
		id:       uuid.NewString(),
		unit:     unit,
		target:   target,
		distance: distance,
		cfg:      cfg,
		clock:    clock.Real{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rand == nil {
		m.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	m.log = m.log.With("mission_id", m.id, "unit_id", unit.ID(), "target_id", target.ID())
	return m, nil
}

// ID returns the mission identifier.
func (m *Mission) ID() string { return m.id }

// Unit returns the assigned unit.
func (m *Mission) Unit() *Unit { return m.unit }

// Target returns the mission target.
func (m *Mission) Target() Target { return m.target }

// Start dispatches the unit and schedules its arrival.
func (m *Mission) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("mission %s already started", m.id)
	}
	m.started = true
	m.startedAt = m.clock.Now()
	m.mu.Unlock()

	if err := m.unit.claim(m); err != nil {
		m.mu.Lock()
		m.done = true
		m.mu.Unlock()
		return err
	}
	travel := m.cfg.TravelTime(m.distance)
	m.log.Info("repair mission dispatched", "distance", m.distance, "travel", travel)
	m.schedule(travel, m.arrive)
	return nil
}

// Abort cancels the pending step and reports OutcomeAborted. It is a no-op
// on a finished mission.
func (m *Mission) Abort() {
	m.finish(OutcomeAborted)
}

// Done reports whether the mission has finished.
func (m *Mission) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Mission) schedule(d time.Duration, step func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return
	}
	m.timer = m.clock.AfterFunc(d, step)
}

func (m *Mission) active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timer = nil
	return !m.done
}

// send drives the unit. A rejected step aborts the mission so that its
// dispatcher slot is reclaimed.
func (m *Mission) send(ev Event) (State, bool) {
	tr, err := m.unit.send(m, ev)
	if err != nil {
		m.log.Warn("repair mission step rejected", "event", ev, "err", err)
		m.finish(OutcomeAborted)
		return "", false
	}
	return tr.To, true
}

func (m *Mission) arrive() {
	if !m.active() {
		return
	}
	if _, ok := m.send(EventArrive); !ok {
		return
	}
	if _, ok := m.send(EventDiagnose); !ok {
		return
	}
	m.log.Debug("repair unit on site")
	m.investigate()
}

func (m *Mission) investigate() {
	m.mu.Lock()
	delay := m.randDuration(m.cfg.MaxInvestigation)
	m.mu.Unlock()
	m.schedule(delay, m.attempt)
}

func (m *Mission) attempt() {
	if !m.active() {
		return
	}
	to, ok := m.send(EventAttemptRepair)
	if !ok {
		return
	}
	if to == StateIdle {
		m.finish(OutcomeGaveUp)
		return
	}

	m.mu.Lock()
	m.attempts++
	fix := m.randDuration(m.cfg.MaxFix)
	m.mu.Unlock()
	failed := float64(fix) > m.cfg.FailureRatio*float64(m.cfg.MaxFix)
	m.schedule(fix, func() { m.complete(failed) })
}

func (m *Mission) complete(failed bool) {
	if !m.active() {
		return
	}
	if failed {
		m.log.Debug("repair attempt failed")
		if _, ok := m.send(EventRepairFailure); ok {
			m.investigate()
		}
		return
	}
	fixed := m.target.Fix()
	if _, ok := m.send(EventRepairSuccess); !ok {
		return
	}
	if !fixed {
		m.log.Warn("repair target had nothing to fix")
		m.finish(OutcomeUnfixed)
		return
	}
	m.finish(OutcomeRepaired)
}

func (m *Mission) randDuration(max time.Duration) time.Duration {
	return time.Duration(m.rand.Float64() * float64(max))
}

func (m *Mission) finish(outcome Outcome) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	res := Result{
		MissionID:  m.id,
		UnitID:     m.unit.ID(),
		TargetID:   m.target.ID(),
		Outcome:    outcome,
		Attempts:   m.attempts,
		Distance:   m.distance,
		StartedAt:  m.startedAt,
		FinishedAt: m.clock.Now(),
	}
	h := m.onDone
	m.mu.Unlock()

	m.unit.release(m, outcome == OutcomeAborted)
	m.log.Info("repair mission finished", "outcome", outcome, "attempts", res.Attempts)
	if h != nil {
		h(res)
	}
}
