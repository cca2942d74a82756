// YAML config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"signalfix-sim/internal/dispatch"
	"signalfix-sim/internal/repair"
	"signalfix-sim/internal/signal"
)

// ErrInvalid wraps every cross-field validation error.
var ErrInvalid = errors.New("invalid configuration")

// Timer holds per-signal phase durations.
type Timer struct {
	Red    time.Duration `yaml:"red"`
	Yellow time.Duration `yaml:"yellow"`
	Green  time.Duration `yaml:"green"`
}

// Signal configures one intersection.
type Signal struct {
	ID           string   `yaml:"id"`
	Timer        Timer    `yaml:"timer"`
	OutageChance *float64 `yaml:"outage_chance"`
	MaxOutages   int      `yaml:"max_outages"`
	Blink        bool     `yaml:"blink"`
}

// SignalDefaults applies to every signal.
type SignalDefaults struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	AlarmInterval time.Duration `yaml:"alarm_interval"`
	BlinkInterval time.Duration `yaml:"blink_interval"`
	OutageChance  *float64      `yaml:"outage_chance"`
}

// Units configures the repair unit pool.
type Units struct {
	// UnitCount of zero sizes the pool at one unit per four signals.
	UnitCount int     `yaml:"unit_count"`
	MaxTries  int     `yaml:"max_tries"`
	Speed     float64 `yaml:"speed"`
}

// Mission configures mission timing.
type Mission struct {
	MaxInvestigation time.Duration `yaml:"max_investigation"`
	MaxFix           time.Duration `yaml:"max_fix"`
	FailureRatio     float64       `yaml:"failure_ratio"`
}

// Dispatcher configures the scheduler.
type Dispatcher struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	MaxDistance     float64       `yaml:"max_distance"`
	RequeueOnGiveUp *bool         `yaml:"requeue_on_give_up"`
}

// SimulationConfig is the root configuration.
type SimulationConfig struct {
	SimulationID   string         `yaml:"simulation_id"`
	Seed           int64          `yaml:"seed"`
	Signals        []Signal       `yaml:"signals"`
	SignalDefaults SignalDefaults `yaml:"signal_defaults"`
	Units          Units          `yaml:"units"`
	Mission        Mission        `yaml:"mission"`
	Dispatcher     Dispatcher     `yaml:"dispatcher"`
}

// DefaultSimulationID names a simulation without explicit id.
const DefaultSimulationID = "signalfix-01"

// Load reads a YAML config, validates it against the CUE schema at
// schemaPath (the embedded schema when empty), fills defaults and checks
// cross-field constraints.
func Load(configPath, schemaPath string) (*SimulationConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read YAML config: %w", err)
	}
	schema, err := readSchema(schemaPath)
	if err != nil {
		return nil, err
	}
	if err := validateBytes(configPath, data, schema); err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML without schema validation, then applies defaults and
// Validate.
func Parse(data []byte) (*SimulationConfig, error) {
	var cfg SimulationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *SimulationConfig) ApplyDefaults() {
	if c.SimulationID == "" {
		c.SimulationID = DefaultSimulationID
	}
	d := &c.SignalDefaults
	if d.TickInterval == 0 {
		d.TickInterval = signal.DefaultTickInterval
	}
	if d.AlarmInterval == 0 {
		d.AlarmInterval = signal.DefaultAlarmInterval
	}
	if d.BlinkInterval == 0 {
		d.BlinkInterval = signal.DefaultBlinkInterval
	}
	if d.OutageChance == nil {
		chance := signal.DefaultOutageChance
		d.OutageChance = &chance
	}
	for i := range c.Signals {
		s := &c.Signals[i]
		if s.ID == "" {
			s.ID = fmt.Sprintf("signal-%02d", i+1)
		}
		if s.Timer.Red == 0 {
			s.Timer.Red = signal.DefaultTimer.Red
		}
		if s.Timer.Yellow == 0 {
			s.Timer.Yellow = signal.DefaultTimer.Yellow
		}
		if s.Timer.Green == 0 {
			s.Timer.Green = signal.DefaultTimer.Green
		}
		if s.OutageChance == nil {
			chance := *d.OutageChance
			s.OutageChance = &chance
		}
	}
	if c.Units.UnitCount == 0 {
		c.Units.UnitCount = DefaultUnitCount(len(c.Signals))
	}
	if c.Units.MaxTries == 0 {
		c.Units.MaxTries = repair.DefaultMaxTries
	}
	if c.Units.Speed == 0 {
		c.Units.Speed = repair.DefaultMissionConfig.Speed
	}
	if c.Mission.MaxInvestigation == 0 {
		c.Mission.MaxInvestigation = repair.DefaultMissionConfig.MaxInvestigation
	}
	if c.Mission.MaxFix == 0 {
		c.Mission.MaxFix = repair.DefaultMissionConfig.MaxFix
	}
	if c.Mission.FailureRatio == 0 {
		c.Mission.FailureRatio = repair.DefaultMissionConfig.FailureRatio
	}
	if c.Dispatcher.TickInterval == 0 {
		c.Dispatcher.TickInterval = dispatch.DefaultTickInterval
	}
	if c.Dispatcher.MaxDistance == 0 {
		c.Dispatcher.MaxDistance = dispatch.DefaultMaxDistance
	}
	if c.Dispatcher.RequeueOnGiveUp == nil {
		requeue := true
		c.Dispatcher.RequeueOnGiveUp = &requeue
	}
}

// DefaultUnitCount sizes the pool at one unit per four signals.
func DefaultUnitCount(signals int) int {
	if signals <= 0 {
		return 1
	}
	return int(math.Ceil(float64(signals) / 4))
}

// Validate checks constraints the schema cannot express.
func (c *SimulationConfig) Validate() error {
	if len(c.Signals) == 0 {
		return fmt.Errorf("%w: at least one signal is required", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Signals))
	for _, s := range c.Signals {
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate signal id %q", ErrInvalid, s.ID)
		}
		seen[s.ID] = true
		if err := c.signalConfig(s).Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if c.Units.UnitCount < 1 {
		return fmt.Errorf("%w: unit_count must be positive", ErrInvalid)
	}
	if c.Units.MaxTries < repair.Unbounded {
		return fmt.Errorf("%w: max_tries must be -1 (unbounded) or positive", ErrInvalid)
	}
	if err := c.MissionConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Dispatcher.TickInterval < 0 || c.Dispatcher.MaxDistance < 0 {
		return fmt.Errorf("%w: dispatcher tick_interval and max_distance must not be negative", ErrInvalid)
	}
	return nil
}

func (c *SimulationConfig) signalConfig(s Signal) signal.Config {
	cfg := signal.Config{
		ID:            s.ID,
		Timer:         signal.Timer{Red: s.Timer.Red, Yellow: s.Timer.Yellow, Green: s.Timer.Green},
		MaxOutages:    s.MaxOutages,
		TickInterval:  c.SignalDefaults.TickInterval,
		AlarmInterval: c.SignalDefaults.AlarmInterval,
		Blink:         s.Blink,
		BlinkInterval: c.SignalDefaults.BlinkInterval,
	}
	if s.OutageChance != nil {
		cfg.OutageChance = *s.OutageChance
	}
	return cfg
}

// SignalConfigs returns the per-signal configuration.
func (c *SimulationConfig) SignalConfigs() []signal.Config {
	out := make([]signal.Config, 0, len(c.Signals))
	for _, s := range c.Signals {
		out = append(out, c.signalConfig(s))
	}
	return out
}

// UnitConfigs returns one config per pooled unit.
func (c *SimulationConfig) UnitConfigs() []repair.UnitConfig {
	out := make([]repair.UnitConfig, 0, c.Units.UnitCount)
	for i := 0; i < c.Units.UnitCount; i++ {
		out = append(out, repair.UnitConfig{ID: fmt.Sprintf("unit-%02d", i+1), MaxTries: c.Units.MaxTries})
	}
	return out
}

// MissionConfig returns the mission timing model.
func (c *SimulationConfig) MissionConfig() repair.MissionConfig {
	return repair.MissionConfig{
		Speed:            c.Units.Speed,
		MaxInvestigation: c.Mission.MaxInvestigation,
		MaxFix:           c.Mission.MaxFix,
		FailureRatio:     c.Mission.FailureRatio,
	}
}

// DispatcherConfig returns the scheduler settings.
func (c *SimulationConfig) DispatcherConfig() dispatch.Config {
	cfg := dispatch.Config{
		TickInterval:    c.Dispatcher.TickInterval,
		MaxDistance:     c.Dispatcher.MaxDistance,
		RequeueOnGiveUp: true,
		Mission:         c.MissionConfig(),
	}
	if c.Dispatcher.RequeueOnGiveUp != nil {
		cfg.RequeueOnGiveUp = *c.Dispatcher.RequeueOnGiveUp
	}
	return cfg
}
