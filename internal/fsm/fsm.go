// Package fsm adapts fluo state machines to typed states and events.
//
// Edges and state actions are collected on a Machine and compiled into a
// fluo definition on the first Start. A transition runs the exit actions of
// the departing state, then the edge's own actions, then the entry actions
// of the arriving state. Multiple edges may share a source state and event;
// the first edge whose guard holds is taken.
//
// Machine is not safe for concurrent use. Owners serialize access.
package fsm

import (
	"errors"
	"fmt"

	"github.com/anggasct/fluo"
)

var (
	// ErrNotPermitted is returned when the current state has no edge for the event.
	ErrNotPermitted = errors.New("transition not permitted")
	// ErrGuardRejected is returned when edges exist but every guard rejected the event.
	ErrGuardRejected = errors.New("guard rejected transition")
	// ErrNotStarted is returned when events are fired at a stopped machine.
	ErrNotStarted = errors.New("machine not started")
	// ErrAlreadyStarted is returned by Start on a running machine.
	ErrAlreadyStarted = errors.New("machine already started")
)

// Action is a side effect attached to a state or transition.
type Action func()

// Guard gates an edge.
type Guard func() bool

// Transition describes a completed state change.
type Transition[S ~string, E ~string] struct {
	From  S
	To    S
	Event E
}

// Observer is notified after every completed transition.
type Observer[S ~string, E ~string] func(Transition[S, E])

type edge[S ~string, E ~string] struct {
	from    S
	event   E
	to      S
	guard   Guard
	actions []Action
}

type edgeOptions struct {
	guard   Guard
	actions []Action
}

// EdgeOption configures an edge added with Permit.
type EdgeOption func(*edgeOptions)

// When sets the guard of an edge.
func When(g Guard) EdgeOption {
	return func(o *edgeOptions) { o.guard = g }
}

// Do appends transition actions to an edge.
func Do(actions ...Action) EdgeOption {
	return func(o *edgeOptions) { o.actions = append(o.actions, actions...) }
}

// Machine is a flat state machine over states S and events E, backed by a
// fluo.Machine.
type Machine[S ~string, E ~string] struct {
	initial   S
	current   S
	started   bool
	states    []S
	entry     map[S][]Action
	exit      map[S][]Action
	edges     []edge[S, E]
	observers []Observer[S, E]

	inst fluo.Machine
}

// New returns a stopped machine whose initial state is initial.
func New[S ~string, E ~string](initial S) *Machine[S, E] {
	m := &Machine[S, E]{
		initial: initial,
		current: initial,
		entry:   make(map[S][]Action),
		exit:    make(map[S][]Action),
	}
	m.declare(initial)
	return m
}

// OnEntry registers actions run whenever state is entered.
func (m *Machine[S, E]) OnEntry(state S, actions ...Action) *Machine[S, E] {
	m.mustBeOpen()
	m.declare(state)
	m.entry[state] = append(m.entry[state], actions...)
	return m
}

// OnExit registers actions run whenever state is left.
func (m *Machine[S, E]) OnExit(state S, actions ...Action) *Machine[S, E] {
	m.mustBeOpen()
	m.declare(state)
	m.exit[state] = append(m.exit[state], actions...)
	return m
}

// Permit adds an edge from -> to on event. Edges are matched in the order
// they were permitted.
func (m *Machine[S, E]) Permit(from S, event E, to S, opts ...EdgeOption) *Machine[S, E] {
	m.mustBeOpen()
	var o edgeOptions
	for _, opt := range opts {
		opt(&o)
	}
	for _, e := range m.edges {
		if e.from == from && e.event == event && e.to == to {
			panic(fmt.Sprintf("fsm: duplicate edge %v -(%v)-> %v", from, event, to))
		}
	}
	m.declare(from)
	m.declare(to)
	m.edges = append(m.edges, edge[S, E]{from: from, event: event, to: to, guard: o.guard, actions: o.actions})
	return m
}

// Observe registers an observer for completed transitions.
func (m *Machine[S, E]) Observe(o Observer[S, E]) {
	m.observers = append(m.observers, o)
}

// Start enters the initial state, running its entry actions. A stopped
// machine starts over from the initial state.
func (m *Machine[S, E]) Start() error {
	if m.started {
		return ErrAlreadyStarted
	}
	if m.inst == nil {
		m.inst = m.build()
	}
	m.started = true
	if err := m.inst.Start(); err != nil {
		m.started = false
		return fmt.Errorf("start machine: %w", err)
	}
	return nil
}

// Stop leaves the current state, running its exit actions.
func (m *Machine[S, E]) Stop() error {
	if !m.started {
		return ErrNotStarted
	}
	run(m.exit[m.current])
	m.started = false
	if err := m.inst.Stop(); err != nil {
		return fmt.Errorf("stop machine: %w", err)
	}
	return nil
}

// Current returns the active state.
func (m *Machine[S, E]) Current() S { return m.current }

// Started reports whether the machine is running.
func (m *Machine[S, E]) Started() bool { return m.started }

// Can reports whether Fire(event) would take an edge right now.
func (m *Machine[S, E]) Can(event E) bool {
	if !m.started {
		return false
	}
	for _, e := range m.edges {
		if e.from == m.current && e.event == event && (e.guard == nil || e.guard()) {
			return true
		}
	}
	return false
}

// Fire processes event and returns the resulting transition.
func (m *Machine[S, E]) Fire(event E) (Transition[S, E], error) {
	if !m.started {
		return Transition[S, E]{}, fmt.Errorf("fire %v: %w", event, ErrNotStarted)
	}
	from := m.current
	if !m.permits(from, event) {
		return Transition[S, E]{}, fmt.Errorf("%w: %v in state %v", ErrNotPermitted, event, from)
	}

	res := m.inst.HandleEvent(string(event), nil)
	if !res.Processed {
		return Transition[S, E]{}, fmt.Errorf("%w: %v in state %v", ErrGuardRejected, event, from)
	}
	if res.Error != nil {
		return Transition[S, E]{}, fmt.Errorf("fire %v in state %v: %w", event, from, res.Error)
	}
	return Transition[S, E]{From: from, To: S(res.CurrentState), Event: event}, nil
}

func (m *Machine[S, E]) permits(from S, event E) bool {
	for _, e := range m.edges {
		if e.from == from && e.event == event {
			return true
		}
	}
	return false
}

func (m *Machine[S, E]) declare(state S) {
	for _, s := range m.states {
		if s == state {
			return
		}
	}
	m.states = append(m.states, state)
}

func (m *Machine[S, E]) mustBeOpen() {
	if m.inst != nil {
		panic("fsm: machine already built")
	}
}

// build compiles the collected states and edges into a fluo machine. The
// current state is tracked from entry actions so that observers can read it
// while fluo holds its own lock.
func (m *Machine[S, E]) build() fluo.Machine {
	b := fluo.NewMachine()
	for _, st := range m.states {
		st := st
		sb := b.State(string(st))
		if st == m.initial {
			sb.Initial()
		}
		sb.OnEntry(func(fluo.Context) error {
			m.current = st
			run(m.entry[st])
			return nil
		})
	}
	for _, e := range m.edges {
		e := e
		tb := b.State(string(e.from)).To(string(e.to)).On(string(e.event))
		if e.guard != nil {
			tb.When(func(fluo.Context) bool { return e.guard() })
		}
		// fluo runs the transition action ahead of state exit, so exit
		// actions are owned here and run first. Self-transitions do not exit.
		var exit []Action
		if e.from != e.to {
			exit = m.exit[e.from]
		}
		if len(exit)+len(e.actions) > 0 {
			tb.Do(func(fluo.Context) error {
				run(exit)
				run(e.actions)
				return nil
			})
		}
	}

	inst := b.Build().CreateInstance()
	inst.AddObserver(&observer[S, E]{m: m})
	return inst
}

// observer forwards fluo transitions to the typed observers.
type observer[S ~string, E ~string] struct {
	fluo.BaseObserver
	m *Machine[S, E]
}

func (o *observer[S, E]) OnTransition(from, to string, ev fluo.Event, _ fluo.Context) {
	if ev == nil {
		return
	}
	tr := Transition[S, E]{From: S(from), To: S(to), Event: E(ev.GetName())}
	for _, fn := range o.m.observers {
		fn(tr)
	}
}

func run(actions []Action) {
	for _, a := range actions {
		a()
	}
}
