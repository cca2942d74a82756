package signal

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalfix-sim/internal/clock"
	"signalfix-sim/internal/fsm"
)

type harness struct {
	clock   *clock.Manual
	sig     *Signal
	phases  []Phase
	ticks   []Snapshot
	outages int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{clock: clock.NewManual(time.Unix(0, 0))}
	sig, err := New(cfg,
		WithClock(h.clock),
		WithRand(rand.New(rand.NewSource(7))),
		WithOutageHandler(func(*Signal) { h.outages++ }),
		WithTickHandler(func(s Snapshot) { h.ticks = append(h.ticks, s) }),
		WithTransitionHandler(func(_ string, tr fsm.Transition[Phase, Event]) {
			h.phases = append(h.phases, tr.To)
		}),
	)
	require.NoError(t, err)
	h.sig = sig
	return h
}

func quietConfig() Config {
	return Config{
		ID:           "s1",
		Timer:        Timer{Red: 2000 * time.Millisecond, Yellow: 1000 * time.Millisecond, Green: 3000 * time.Millisecond},
		OutageChance: 0,
		TickInterval: time.Second,
	}
}

func TestPhaseSequenceFollowsTimers(t *testing.T) {
	h := newHarness(t, quietConfig())
	require.NoError(t, h.sig.Start())

	h.clock.Advance(time.Second)
	assert.Equal(t, []Phase{PhaseRedWait}, h.phases, "walk turns to wait while less than 3s of red remain")

	h.clock.Advance(time.Second)
	assert.Len(t, h.phases, 1, "red expires only once elapsed exceeds its duration")

	h.clock.Advance(time.Second)
	assert.Equal(t, []Phase{PhaseRedWait, PhaseRedStop, PhaseGreen}, h.phases)

	h.clock.Advance(3 * time.Second)
	assert.Equal(t, PhaseGreen, h.sig.State().Phase)
	h.clock.Advance(time.Second)
	assert.Equal(t, PhaseYellow, h.sig.State().Phase)

	h.clock.Advance(time.Second)
	assert.Equal(t, PhaseYellow, h.sig.State().Phase)
	h.clock.Advance(time.Second)
	assert.Equal(t, PhaseRedWalk, h.sig.State().Phase)
}

func TestFullCycleReturnsToGreen(t *testing.T) {
	h := newHarness(t, quietConfig())
	require.NoError(t, h.sig.Start())

	h.clock.Advance(3 * time.Second)
	h.phases = nil
	h.clock.Advance(9 * time.Second)

	assert.Equal(t, []Phase{PhaseYellow, PhaseRedWalk, PhaseRedWait, PhaseRedStop, PhaseGreen}, h.phases)
	assert.Zero(t, h.sig.State().OutageCount)
}

func TestSnapshotProjection(t *testing.T) {
	h := newHarness(t, quietConfig())
	require.NoError(t, h.sig.Start())

	s := h.sig.State()
	assert.Equal(t, Red, s.Traffic)
	assert.Equal(t, Walk, s.Pedestrian)
	assert.False(t, s.Outage)

	h.clock.Advance(3 * time.Second)
	s = h.sig.State()
	assert.Equal(t, Green, s.Traffic)
	assert.Equal(t, Stop, s.Pedestrian)
}

func TestOutageFreezesPhaseUntilFixed(t *testing.T) {
	cfg := quietConfig()
	cfg.OutageChance = 100
	h := newHarness(t, cfg)
	require.NoError(t, h.sig.Start())

	h.clock.Advance(time.Second)
	s := h.sig.State()
	require.True(t, s.Outage)
	assert.Equal(t, 1, s.OutageCount)
	assert.Equal(t, 1, h.outages)
	assert.Equal(t, Red, s.Traffic)
	assert.Equal(t, Walk, s.Pedestrian)

	h.phases = nil
	h.clock.Advance(3 * time.Second)
	assert.Empty(t, h.phases, "no autonomous transition while in outage")
	assert.Equal(t, 1, h.sig.State().OutageCount)
	for _, snap := range h.ticks[1:] {
		assert.True(t, snap.Outage)
		assert.Equal(t, Walk, snap.Pedestrian)
	}
}

func TestOutageAlarmRepeatsUntilFixed(t *testing.T) {
	cfg := quietConfig()
	cfg.AlarmInterval = 5 * time.Second
	h := newHarness(t, cfg)
	require.NoError(t, h.sig.Start())

	require.True(t, h.sig.ForceOutage())
	assert.Equal(t, 1, h.outages)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 2, h.outages)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 3, h.outages)

	require.True(t, h.sig.Fix())
	assert.Equal(t, PhaseRedWalk, h.sig.State().Phase)
	h.clock.Advance(20 * time.Second)
	assert.Equal(t, 3, h.outages, "alarm stops on leaving outage")
}

func TestFixIsNoOpWithoutOutage(t *testing.T) {
	h := newHarness(t, quietConfig())
	require.NoError(t, h.sig.Start())
	h.clock.Advance(3 * time.Second)

	before := h.sig.State()
	assert.False(t, h.sig.Fix())
	assert.Equal(t, before, h.sig.State())
}

func TestFixRestartsRedTimer(t *testing.T) {
	h := newHarness(t, quietConfig())
	require.NoError(t, h.sig.Start())
	h.clock.Advance(4 * time.Second)
	require.Equal(t, PhaseGreen, h.sig.State().Phase)

	require.True(t, h.sig.ForceOutage())
	assert.Equal(t, Green, h.sig.State().Traffic, "outage reports the frozen color")
	require.True(t, h.sig.Fix())
	h.phases = nil

	h.clock.Advance(3 * time.Second)
	assert.Equal(t, []Phase{PhaseRedWait, PhaseRedStop, PhaseGreen}, h.phases)
}

func TestStopCancelsTimers(t *testing.T) {
	h := newHarness(t, quietConfig())
	require.NoError(t, h.sig.Start())
	require.True(t, h.sig.ForceOutage())
	require.Equal(t, 2, h.clock.Pending(), "tick and alarm")

	h.sig.Stop()
	assert.Zero(t, h.clock.Pending())
	n := len(h.ticks)
	h.clock.Advance(time.Minute)
	assert.Len(t, h.ticks, n)
	assert.Equal(t, 1, h.outages)
	assert.False(t, h.sig.State().Running)
	assert.False(t, h.sig.Fix(), "a stopped signal ignores fixes")

	h.sig.Stop()
	require.NoError(t, h.sig.Start())
	assert.ErrorIs(t, h.sig.Start(), ErrRunning)
	restarted := h.sig.State()
	assert.Equal(t, PhaseRedWalk, restarted.Phase, "a restart begins at red")
	assert.False(t, restarted.Outage)
	assert.Equal(t, 1, h.clock.Pending(), "only the tick")
}

func TestMaxOutagesStopsSignal(t *testing.T) {
	cfg := quietConfig()
	cfg.OutageChance = 100
	cfg.MaxOutages = 1
	h := newHarness(t, cfg)
	require.NoError(t, h.sig.Start())

	h.clock.Advance(time.Second)
	require.True(t, h.sig.Fix())
	h.clock.Advance(time.Second)
	require.Equal(t, 2, h.sig.State().OutageCount)

	h.clock.Advance(time.Second)
	assert.False(t, h.sig.State().Running)
	assert.Zero(t, h.clock.Pending())
}

func TestBlinkDuringPedestrianWait(t *testing.T) {
	cfg := quietConfig()
	cfg.Timer.Red = 10 * time.Second
	cfg.Blink = true
	cfg.BlinkInterval = 500 * time.Millisecond
	h := newHarness(t, cfg)
	require.NoError(t, h.sig.Start())

	h.clock.Advance(7 * time.Second)
	assert.Equal(t, PhaseRedWalk, h.sig.State().Phase)
	h.clock.Advance(time.Second)
	assert.Equal(t, PhaseRedWait, h.sig.State().Phase)
	assert.True(t, h.sig.State().BlinkOn)
	h.clock.Advance(500 * time.Millisecond)
	assert.False(t, h.sig.State().BlinkOn)
	h.clock.Advance(500 * time.Millisecond)
	assert.True(t, h.sig.State().BlinkOn)

	h.clock.Advance(4 * time.Second)
	assert.Equal(t, PhaseGreen, h.sig.State().Phase)
	assert.False(t, h.sig.State().BlinkOn)
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]Config{
		"negative red":   {Timer: Timer{Red: -1, Yellow: 1, Green: 1}},
		"chance too big": {OutageChance: 150},
		"negative max":   {MaxOutages: -1},
		"negative tick":  {TickInterval: -time.Second},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	sig, err := New(Config{})
	require.NoError(t, err)
	cfg := sig.Config()
	assert.Equal(t, DefaultTimer, cfg.Timer)
	assert.Equal(t, DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, DefaultAlarmInterval, cfg.AlarmInterval)
	assert.NotEmpty(t, sig.ID())
}
