package signal

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the flattened signal state. The red super-state is split into its
// pedestrian sub-phases.
type Phase string

const (
	PhaseRedWalk Phase = "red_walk"
	PhaseRedWait Phase = "red_wait"
	PhaseRedStop Phase = "red_stop"
	PhaseYellow  Phase = "yellow"
	PhaseGreen   Phase = "green"
	PhaseOutage  Phase = "outage"
)

// Event drives the signal machine.
type Event string

const (
	EventTimer        Event = "TIMER"
	EventPedTimer     Event = "PED_TIMER"
	EventPowerOutage  Event = "POWER_OUTAGE"
	EventPowerRestore Event = "POWER_RESTORE"
)

// Color is the traffic light color.
type Color string

const (
	Red    Color = "red"
	Yellow Color = "yellow"
	Green  Color = "green"
)

// Pedestrian is the pedestrian light phase.
type Pedestrian string

const (
	Walk Pedestrian = "walk"
	Wait Pedestrian = "wait"
	Stop Pedestrian = "stop"
)

// PedestrianWarning is the remaining red time under which walk turns to wait.
const PedestrianWarning = 3000 * time.Millisecond

// Project splits a powered phase into its traffic color and pedestrian phase.
func (p Phase) Project() (Color, Pedestrian) {
	switch p {
	case PhaseRedWalk:
		return Red, Walk
	case PhaseRedWait:
		return Red, Wait
	case PhaseRedStop:
		return Red, Stop
	case PhaseYellow:
		return Yellow, Stop
	default:
		return Green, Stop
	}
}

// IsRed reports whether p is one of the red sub-phases.
func (p Phase) IsRed() bool {
	return p == PhaseRedWalk || p == PhaseRedWait || p == PhaseRedStop
}

// Timer holds the phase durations of a signal.
type Timer struct {
	Red    time.Duration
	Yellow time.Duration
	Green  time.Duration
}

// Config configures one signal.
type Config struct {
	ID    string
	Timer Timer
	// OutageChance is the per-tick outage probability in percent (0-100).
	OutageChance float64
	// MaxOutages stops the signal once exceeded. Zero means unbounded.
	MaxOutages    int
	TickInterval  time.Duration
	AlarmInterval time.Duration
	Blink         bool
	BlinkInterval time.Duration
}

// Defaults used for zero-valued Config fields.
const (
	DefaultOutageChance  = 2.0
	DefaultTickInterval  = time.Second
	DefaultAlarmInterval = 5 * time.Second
	DefaultBlinkInterval = time.Second
)

// DefaultTimer is the phase timing of a signal without explicit timer config.
var DefaultTimer = Timer{Red: 2 * time.Second, Yellow: time.Second, Green: 3 * time.Second}

// ErrInvalidConfig wraps every signal configuration error.
var ErrInvalidConfig = errors.New("invalid signal config")

func (c Config) withDefaults() Config {
	if c.Timer == (Timer{}) {
		c.Timer = DefaultTimer
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.AlarmInterval == 0 {
		c.AlarmInterval = DefaultAlarmInterval
	}
	if c.BlinkInterval == 0 {
		c.BlinkInterval = DefaultBlinkInterval
	}
	return c
}

// Validate checks timing and probability values.
func (c Config) Validate() error {
	switch {
	case c.Timer.Red <= 0 || c.Timer.Yellow <= 0 || c.Timer.Green <= 0:
		return fmt.Errorf("%w: %s: phase durations must be positive (red=%s yellow=%s green=%s)",
			ErrInvalidConfig, c.ID, c.Timer.Red, c.Timer.Yellow, c.Timer.Green)
	case c.OutageChance < 0 || c.OutageChance > 100:
		return fmt.Errorf("%w: %s: outage chance %.2f outside [0,100]", ErrInvalidConfig, c.ID, c.OutageChance)
	case c.MaxOutages < 0:
		return fmt.Errorf("%w: %s: negative max outages", ErrInvalidConfig, c.ID)
	case c.TickInterval <= 0 || c.AlarmInterval <= 0 || c.BlinkInterval <= 0:
		return fmt.Errorf("%w: %s: intervals must be positive", ErrInvalidConfig, c.ID)
	}
	return nil
}

// Snapshot is a read-only view of a signal for hosts and renderers.
type Snapshot struct {
	ID          string     `json:"id"`
	Outage      bool       `json:"outage"`
	Traffic     Color      `json:"traffic"`
	Pedestrian  Pedestrian `json:"pedestrian"`
	Phase       Phase      `json:"phase"`
	OutageCount int        `json:"outage_count"`
	BlinkOn     bool       `json:"blink_on"`
	Running     bool       `json:"running"`
}
