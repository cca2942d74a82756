// Package repair models repair units and the missions that drive them from
// dispatch to a fixed (or abandoned) traffic signal.
package repair

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalfix-sim/internal/clock"
	"signalfix-sim/internal/fsm"
)

// State is the unit lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateMoving     State = "moving"
	StateInPlace    State = "inplace"
	StateDiagnosing State = "diagnosing"
	StateRepairing  State = "repairing"
)

// Event drives the unit machine.
type Event string

const (
	EventDispatch      Event = "DISPATCH"
	EventArrive        Event = "ARRIVE"
	EventDiagnose      Event = "DIAGNOSE"
	EventAttemptRepair Event = "ATTEMPT_REPAIR"
	EventRepairSuccess Event = "REPAIR_SUCCESS"
	EventRepairFailure Event = "REPAIR_FAILURE"
)

// Unbounded disables the retry ceiling.
const Unbounded = -1

// DefaultMaxTries is the retry ceiling of a unit without explicit config.
const DefaultMaxTries = 3

var (
	// ErrUnavailable is returned when a mission is assigned to a unit that is
	// stopped, busy or not idle.
	ErrUnavailable = errors.New("repair unit unavailable")
	// ErrStopped is returned for events sent to a stopped unit.
	ErrStopped = errors.New("repair unit stopped")
	// ErrNotAssigned is returned for events sent on behalf of a mission the
	// unit is not bound to.
	ErrNotAssigned = errors.New("repair unit not assigned to mission")
)

// FailureNotice is emitted when a unit gives up on a repair.
type FailureNotice struct {
	UnitID    string    `json:"unit_id"`
	MissionID string    `json:"mission_id"`
	TargetID  string    `json:"target_id"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"ts"`
}

// FailureHandler receives failure notices.
type FailureHandler func(FailureNotice)

// UnitTransitionHandler receives every completed unit transition with the
// unit state right after it. It runs while the unit is locked and must not
// call back into the unit.
type UnitTransitionHandler func(tr fsm.Transition[State, Event], snap Snapshot)

// UnitConfig configures a repair unit.
type UnitConfig struct {
	ID string
	// MaxTries is the number of failed attempts tolerated per mission.
	// Zero selects DefaultMaxTries, Unbounded removes the limit.
	MaxTries int
}

// Snapshot is a read-only view of a unit.
type Snapshot struct {
	ID         string `json:"id"`
	State      State  `json:"state"`
	RetryCount int    `json:"retry_count"`
	MaxTries   int    `json:"max_tries"`
	MissionID  string `json:"mission_id,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	Running    bool   `json:"running"`
	Available  bool   `json:"available"`
	Moving     bool   `json:"moving"`
	InPlace    bool   `json:"in_place"`
	Diagnosing bool   `json:"diagnosing"`
	Repairing  bool   `json:"repairing"`
}

// UnitOption customizes a Unit.
type UnitOption func(*Unit)

// WithUnitClock sets the clock used to timestamp notices.
func WithUnitClock(c clock.Clock) UnitOption { return func(u *Unit) { u.clock = c } }

// WithUnitLogger sets the logger.
func WithUnitLogger(l *slog.Logger) UnitOption { return func(u *Unit) { u.log = l } }

// WithFailureHandler sets the give-up callback.
func WithFailureHandler(h FailureHandler) UnitOption { return func(u *Unit) { u.onFailure = h } }

// WithUnitTransitionHandler sets the transition callback.
func WithUnitTransitionHandler(h UnitTransitionHandler) UnitOption {
	return func(u *Unit) { u.onTransition = h }
}

// Unit is one repair unit. A unit is reused across missions and only
// accepts a new mission while idle.
type Unit struct {
	mu       sync.Mutex
	id       string
	maxTries int
	clock    clock.Clock
	log      *slog.Logger
	machine  *fsm.Machine[State, Event]
	retries  int
	running  bool
	mission  *Mission
	notice   *FailureNotice

	onFailure    FailureHandler
	onTransition UnitTransitionHandler
}

// NewUnit builds a stopped unit in idle.
func NewUnit(cfg UnitConfig, opts ...UnitOption) (*Unit, error) {
	if cfg.ID == "" {
		cfg.ID = "unit-" + uuid.New().String()[:8]
	}
	switch {
	case cfg.MaxTries == 0:
		cfg.MaxTries = DefaultMaxTries
	case cfg.MaxTries < Unbounded:
		return nil, fmt.Errorf("repair unit %s: invalid max tries %d", cfg.ID, cfg.MaxTries)
	}
	u := &Unit{
		id:       cfg.ID,
		maxTries: cfg.MaxTries,
		clock:    clock.Real{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.log = u.log.With("unit_id", u.id)
	u.machine = u.buildMachine()
	return u, nil
}

func (u *Unit) buildMachine() *fsm.Machine[State, Event] {
	m := fsm.New[State, Event](StateIdle)
	m.Permit(StateIdle, EventDispatch, StateMoving)
	m.Permit(StateMoving, EventArrive, StateInPlace)
	m.Permit(StateInPlace, EventDiagnose, StateDiagnosing)
	m.Permit(StateDiagnosing, EventAttemptRepair, StateRepairing, fsm.When(u.canRepair))
	m.Permit(StateDiagnosing, EventAttemptRepair, StateIdle, fsm.When(u.cannotRepair), fsm.Do(u.notifyFailure))
	m.Permit(StateRepairing, EventRepairSuccess, StateIdle)
	m.Permit(StateRepairing, EventRepairFailure, StateDiagnosing, fsm.Do(u.incRetries))
	m.OnEntry(StateIdle, u.resetRetries)

	m.Observe(func(tr fsm.Transition[State, Event]) {
		u.log.Debug("repair unit transition", "from", tr.From, "to", tr.To, "event", tr.Event, "retries", u.retries)
		if u.onTransition != nil {
			u.onTransition(tr, u.snapshot())
		}
	})
	return m
}

func (u *Unit) canRepair() bool    { return u.maxTries == Unbounded || u.retries < u.maxTries }
func (u *Unit) cannotRepair() bool { return !u.canRepair() }
func (u *Unit) incRetries()        { u.retries++ }
func (u *Unit) resetRetries()      { u.retries = 0 }

func (u *Unit) notifyFailure() {
	n := FailureNotice{UnitID: u.id, Attempts: u.retries, At: u.clock.Now().UTC()}
	if u.mission != nil {
		n.MissionID = u.mission.id
		n.TargetID = u.mission.target.ID()
	}
	u.notice = &n
}

// ID returns the unit identifier.
func (u *Unit) ID() string { return u.id }

// MaxTries returns the retry ceiling, or Unbounded.
func (u *Unit) MaxTries() int { return u.maxTries }

// Start puts the unit in service, in idle.
func (u *Unit) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return nil
	}
	if err := u.machine.Start(); err != nil {
		return err
	}
	u.running = true
	u.log.Info("repair unit started")
	return nil
}

// Stop takes the unit out of service and abandons any in-flight mission.
// The unit returns to idle if started again.
func (u *Unit) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	_ = u.machine.Stop()
	m := u.mission
	u.mission = nil
	u.mu.Unlock()

	if m != nil {
		m.Abort()
	}
	u.log.Info("repair unit stopped")
}

// Available reports whether the unit can take a mission.
func (u *Unit) Available() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.available()
}

func (u *Unit) available() bool {
	return u.running && u.mission == nil && u.machine.Current() == StateIdle
}

// send fires ev on behalf of m and returns the resulting transition. Only
// the mission currently bound to the unit may drive it. A failure notice
// produced by the transition is delivered after the unit is unlocked.
func (u *Unit) send(m *Mission, ev Event) (fsm.Transition[State, Event], error) {
	u.mu.Lock()
	switch {
	case !u.running:
		u.mu.Unlock()
		return fsm.Transition[State, Event]{}, fmt.Errorf("%s %s: %w", u.id, ev, ErrStopped)
	case u.mission != m:
		u.mu.Unlock()
		return fsm.Transition[State, Event]{}, fmt.Errorf("%s %s for mission %s: %w", u.id, ev, m.id, ErrNotAssigned)
	}
	tr, err := u.machine.Fire(ev)
	notice := u.notice
	u.notice = nil
	h := u.onFailure
	u.mu.Unlock()

	if err != nil {
		return tr, fmt.Errorf("repair unit %s: %w", u.id, err)
	}
	if notice != nil {
		u.log.Warn("repair unit gave up", "mission_id", notice.MissionID, "target_id", notice.TargetID, "attempts", notice.Attempts)
		if h != nil {
			h(*notice)
		}
	}
	return tr, nil
}

// claim binds m to the unit and dispatches it.
func (u *Unit) claim(m *Mission) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.available() {
		return fmt.Errorf("%w: %s is %s", ErrUnavailable, u.id, u.machine.Current())
	}
	u.mission = m
	if _, err := u.machine.Fire(EventDispatch); err != nil {
		u.mission = nil
		return fmt.Errorf("repair unit %s: %w", u.id, err)
	}
	return nil
}

// release unbinds m. An abandoned mission also returns a running unit to
// idle; restarting the machine re-enters its initial state.
func (u *Unit) release(m *Mission, abandon bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.mission != m {
		return
	}
	u.mission = nil
	if abandon && u.running && u.machine.Current() != StateIdle {
		_ = u.machine.Stop()
		_ = u.machine.Start()
		u.log.Info("repair unit recalled", "mission_id", m.id)
	}
}

// State returns a snapshot of the unit.
func (u *Unit) State() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.snapshot()
}

func (u *Unit) snapshot() Snapshot {
	st := u.machine.Current()
	s := Snapshot{
		ID:         u.id,
		State:      st,
		RetryCount: u.retries,
		MaxTries:   u.maxTries,
		Running:    u.running,
		Available:  u.available(),
		Moving:     st == StateMoving,
		InPlace:    st == StateInPlace,
		Diagnosing: st == StateDiagnosing,
		Repairing:  st == StateRepairing,
	}
	if u.mission != nil {
		s.MissionID = u.mission.id
		s.TargetID = u.mission.target.ID()
	}
	return s
}
