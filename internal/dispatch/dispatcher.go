// Package dispatch queues faulty signals and assigns them to free repair units.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"signalfix-sim/internal/clock"
	"signalfix-sim/internal/repair"
)

// Defaults for zero-valued Config fields.
const (
	DefaultTickInterval = time.Second
	DefaultMaxDistance  = 1000.0
)

var (
	// ErrNoUnits is returned by New when the pool is empty.
	ErrNoUnits = errors.New("dispatcher needs at least one repair unit")
	// ErrSlotRange is returned for slot indexes outside the pool.
	ErrSlotRange = errors.New("slot out of range")
	// ErrRunning is returned by Start on a running dispatcher.
	ErrRunning = errors.New("dispatcher already running")
)

// InvariantError reports a broken dispatcher invariant. It is raised with
// panic since the dispatcher state can no longer be trusted.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "dispatch invariant violated: " + e.Msg }

// Config configures the dispatcher.
type Config struct {
	TickInterval time.Duration
	// MaxDistance bounds the random distance between a unit and its target.
	MaxDistance float64
	// RequeueOnGiveUp puts a target back in the queue when its mission gives
	// up or is aborted.
	RequeueOnGiveUp bool
	Mission         repair.MissionConfig
}

// DefaultConfig returns the stock dispatcher settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:    DefaultTickInterval,
		MaxDistance:     DefaultMaxDistance,
		RequeueOnGiveUp: true,
		Mission:         repair.DefaultMissionConfig,
	}
}

// EventKind tags a MissionEvent.
type EventKind string

const (
	MissionAssigned EventKind = "assigned"
	MissionFinished EventKind = "finished"
)

// MissionEvent is emitted when a mission is assigned or finishes.
type MissionEvent struct {
	Kind      EventKind
	Slot      int
	MissionID string
	UnitID    string
	TargetID  string
	Distance  float64
	Outcome   repair.Outcome
	Attempts  int
	Requeued  bool
	At        time.Time
}

// PassStats summarizes one scheduling pass.
type PassStats struct {
	Pass     int
	Assigned int
	Queued   int
	Busy     int
	Free     int
	At       time.Time
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock driving passes and missions.
func WithClock(c clock.Clock) Option { return func(d *Dispatcher) { d.clock = c } }

// WithRand sets the random source for distances and mission delays.
func WithRand(r *rand.Rand) Option { return func(d *Dispatcher) { d.rand = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.log = l } }

// WithMissionHandler receives mission events outside the dispatcher lock.
func WithMissionHandler(h func(MissionEvent)) Option {
	return func(d *Dispatcher) { d.onMission = h }
}

// WithPassHandler receives the stats of every scheduling pass.
func WithPassHandler(h func(PassStats)) Option { return func(d *Dispatcher) { d.onPass = h } }

type slot struct {
	unit    *repair.Unit
	mission *repair.Mission
	target  repair.Target
}

func (s *slot) busy() bool { return s.mission != nil }

// Dispatcher owns a fixed pool of repair units, one per slot, and a FIFO
// queue of targets awaiting repair. A target is never both queued and
// assigned.
type Dispatcher struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock
	rand  *rand.Rand
	log   *slog.Logger

	slots      []*slot
	queue      []repair.Target
	lastGaveUp map[string]int
	passes     int
	running    bool
	ticker     clock.Timer

	onMission func(MissionEvent)
	onPass    func(PassStats)
}

// New builds a stopped dispatcher over units.
func New(cfg Config, units []*repair.Unit, opts ...Option) (*Dispatcher, error) {
	if len(units) == 0 {
		return nil, ErrNoUnits
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxDistance == 0 {
		cfg.MaxDistance = DefaultMaxDistance
	}
	if cfg.Mission == (repair.MissionConfig{}) {
		cfg.Mission = repair.DefaultMissionConfig
	}
	if cfg.TickInterval < 0 || cfg.MaxDistance < 0 {
		return nil, fmt.Errorf("dispatcher: tick interval and max distance must be positive")
	}
	if err := cfg.Mission.Validate(); err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	d := &Dispatcher{
		cfg:        cfg,
		clock:      clock.Real{},
		log:        slog.Default(),
		lastGaveUp: make(map[string]int),
	}
	for _, u := range units {
		d.slots = append(d.slots, &slot{unit: u})
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rand == nil {
		d.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return d, nil
}

// Size returns the number of slots.
func (d *Dispatcher) Size() int { return len(d.slots) }

// Start puts every unit in service and begins periodic scheduling passes.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunning
	}
	for _, s := range d.slots {
		if err := s.unit.Start(); err != nil {
			return fmt.Errorf("start unit %s: %w", s.unit.ID(), err)
		}
	}
	d.running = true
	d.ticker = clock.Every(d.clock, d.cfg.TickInterval, func() { d.SchedulingPass() })
	d.log.Info("dispatcher started", "units", len(d.slots), "tick_interval", d.cfg.TickInterval)
	return nil
}

// Stop halts scheduling and takes every unit out of service, aborting
// in-flight missions.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.ticker.Stop()
	d.ticker = nil
	units := make([]*repair.Unit, 0, len(d.slots))
	for _, s := range d.slots {
		units = append(units, s.unit)
	}
	d.mu.Unlock()

	// Aborted missions call back into the dispatcher, so units are stopped
	// without holding mu.
	for _, u := range units {
		u.Stop()
	}
	d.log.Info("dispatcher stopped")
}

// EnqueueIfAbsent appends t to the queue unless it is already queued or
// being repaired. It reports whether t was added.
func (d *Dispatcher) EnqueueIfAbsent(t repair.Target) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enqueue(t) {
		return false
	}
	d.log.Info("repair requested", "target_id", t.ID(), "queued", len(d.queue))
	return true
}

func (d *Dispatcher) enqueue(t repair.Target) bool {
	id := t.ID()
	if d.queuedIndex(id) >= 0 || d.slotFor(id) >= 0 {
		return false
	}
	d.queue = append(d.queue, t)
	d.check()
	return true
}

func (d *Dispatcher) queuedIndex(id string) int {
	for i, t := range d.queue {
		if t.ID() == id {
			return i
		}
	}
	return -1
}

func (d *Dispatcher) slotFor(id string) int {
	for i, s := range d.slots {
		if s.busy() && s.target.ID() == id {
			return i
		}
	}
	return -1
}

// SchedulingPass assigns queued targets, oldest first, to free units until
// either runs out. It returns the number of missions started.
func (d *Dispatcher) SchedulingPass() int {
	d.mu.Lock()
	var events []MissionEvent
	for len(d.queue) > 0 {
		t := d.queue[0]
		idx := d.freeSlot(t.ID())
		if idx < 0 {
			break
		}
		d.queue = d.queue[1:]
		ev, err := d.assign(idx, t)
		if err != nil {
			d.queue = append([]repair.Target{t}, d.queue...)
			d.log.Error("mission start failed", "target_id", t.ID(), "slot", idx, "err", err)
			break
		}
		events = append(events, ev)
	}
	d.check()
	d.passes++
	stats := d.stats(len(events))
	onMission, onPass := d.onMission, d.onPass
	d.mu.Unlock()

	if onMission != nil {
		for _, ev := range events {
			onMission(ev)
		}
	}
	if onPass != nil {
		onPass(stats)
	}
	return len(events)
}

// freeSlot returns the first free slot, skipping the slot that last gave up
// on id when another is free.
func (d *Dispatcher) freeSlot(id string) int {
	avoid, hasAvoid := d.lastGaveUp[id]
	fallback := -1
	for i, s := range d.slots {
		if s.busy() || !s.unit.Available() {
			continue
		}
		if hasAvoid && i == avoid && len(d.slots) > 1 {
			if fallback < 0 {
				fallback = i
			}
			continue
		}
		return i
	}
	return fallback
}

func (d *Dispatcher) assign(idx int, t repair.Target) (MissionEvent, error) {
	s := d.slots[idx]
	distance := d.rand.Float64() * d.cfg.MaxDistance
	var m *repair.Mission
	m, err := repair.NewMission(s.unit, t, distance, d.cfg.Mission,
		repair.WithMissionClock(d.clock),
		repair.WithMissionRand(rand.New(rand.NewSource(d.rand.Int63()))),
		repair.WithMissionLogger(d.log),
		repair.WithDoneHandler(func(res repair.Result) { d.missionDone(idx, m, res) }),
	)
	if err != nil {
		return MissionEvent{}, err
	}
	s.mission, s.target = m, t
	if err := m.Start(); err != nil {
		s.mission, s.target = nil, nil
		if errors.Is(err, repair.ErrUnavailable) {
			panic(&InvariantError{Msg: fmt.Sprintf("slot %d dispatched non-idle unit: %v", idx, err)})
		}
		return MissionEvent{}, err
	}
	return MissionEvent{
		Kind:      MissionAssigned,
		Slot:      idx,
		MissionID: m.ID(),
		UnitID:    s.unit.ID(),
		TargetID:  t.ID(),
		Distance:  distance,
		At:        d.clock.Now(),
	}, nil
}

func (d *Dispatcher) missionDone(idx int, m *repair.Mission, res repair.Result) {
	d.mu.Lock()
	ev := MissionEvent{
		Kind:      MissionFinished,
		Slot:      idx,
		MissionID: res.MissionID,
		UnitID:    res.UnitID,
		TargetID:  res.TargetID,
		Distance:  res.Distance,
		Outcome:   res.Outcome,
		Attempts:  res.Attempts,
		At:        res.FinishedAt,
	}
	s := d.slots[idx]
	if s.mission == m {
		t := s.target
		d.release(idx)
		switch res.Outcome {
		case repair.OutcomeRepaired, repair.OutcomeUnfixed:
			delete(d.lastGaveUp, t.ID())
		case repair.OutcomeGaveUp:
			d.lastGaveUp[t.ID()] = idx
			fallthrough
		default:
			if d.cfg.RequeueOnGiveUp {
				ev.Requeued = d.enqueue(t)
			}
		}
		d.check()
	}
	h := d.onMission
	d.mu.Unlock()

	d.log.Info("mission completed", "slot", idx, "mission_id", res.MissionID, "outcome", res.Outcome, "requeued", ev.Requeued)
	if h != nil {
		h(ev)
	}
}

func (d *Dispatcher) release(idx int) {
	s := d.slots[idx]
	s.mission, s.target = nil, nil
}

// CompleteMission frees slot idx. A mission still running in the slot is
// aborted and its target is not re-queued.
func (d *Dispatcher) CompleteMission(idx int) error {
	d.mu.Lock()
	if idx < 0 || idx >= len(d.slots) {
		d.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrSlotRange, idx)
	}
	m := d.slots[idx].mission
	d.release(idx)
	d.check()
	d.mu.Unlock()

	if m != nil {
		m.Abort()
	}
	return nil
}

// check panics with *InvariantError when the queue and slots disagree.
func (d *Dispatcher) check() {
	seen := make(map[string]string, len(d.queue)+len(d.slots))
	for _, t := range d.queue {
		if where, ok := seen[t.ID()]; ok {
			panic(&InvariantError{Msg: fmt.Sprintf("target %s queued twice (also %s)", t.ID(), where)})
		}
		seen[t.ID()] = "queue"
	}
	for i, s := range d.slots {
		if !s.busy() {
			continue
		}
		if s.target == nil {
			panic(&InvariantError{Msg: fmt.Sprintf("slot %d has a mission without target", i)})
		}
		if where, ok := seen[s.target.ID()]; ok {
			panic(&InvariantError{Msg: fmt.Sprintf("target %s in slot %d and %s", s.target.ID(), i, where)})
		}
		if s.mission.Unit() != s.unit {
			panic(&InvariantError{Msg: fmt.Sprintf("slot %d mission bound to foreign unit %s", i, s.mission.Unit().ID())})
		}
		seen[s.target.ID()] = fmt.Sprintf("slot %d", i)
	}
}

func (d *Dispatcher) stats(assigned int) PassStats {
	busy := 0
	for _, s := range d.slots {
		if s.busy() {
			busy++
		}
	}
	return PassStats{
		Pass:     d.passes,
		Assigned: assigned,
		Queued:   len(d.queue),
		Busy:     busy,
		Free:     len(d.slots) - busy,
		At:       d.clock.Now(),
	}
}

// SlotSnapshot is the state of one slot.
type SlotSnapshot struct {
	Index     int    `json:"index"`
	UnitID    string `json:"unit_id"`
	Busy      bool   `json:"busy"`
	TargetID  string `json:"target_id,omitempty"`
	MissionID string `json:"mission_id,omitempty"`
}

// Snapshot is a read-only view of the dispatcher.
type Snapshot struct {
	Running bool           `json:"running"`
	Passes  int            `json:"passes"`
	Queue   []string       `json:"queue"`
	Slots   []SlotSnapshot `json:"slots"`
}

// Snapshot returns the queue and slot occupancy.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := Snapshot{
		Running: d.running,
		Passes:  d.passes,
		Queue:   make([]string, 0, len(d.queue)),
		Slots:   make([]SlotSnapshot, 0, len(d.slots)),
	}
	for _, t := range d.queue {
		snap.Queue = append(snap.Queue, t.ID())
	}
	for i, s := range d.slots {
		ss := SlotSnapshot{Index: i, UnitID: s.unit.ID(), Busy: s.busy()}
		if s.busy() {
			ss.TargetID = s.target.ID()
			ss.MissionID = s.mission.ID()
		}
		snap.Slots = append(snap.Slots, ss)
	}
	return snap
}

// Units returns the pooled units in slot order.
func (d *Dispatcher) Units() []*repair.Unit {
	units := make([]*repair.Unit, len(d.slots))
	for i, s := range d.slots {
		units[i] = s.unit
	}
	return units
}
