package repair

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalfix-sim/internal/clock"
	"signalfix-sim/internal/fsm"
)

func newTestUnit(t *testing.T, maxTries int, notices *[]FailureNotice) *Unit {
	t.Helper()
	u, err := NewUnit(UnitConfig{ID: "u1", MaxTries: maxTries},
		WithUnitClock(clock.NewManual(time.Unix(0, 0))),
		WithFailureHandler(func(n FailureNotice) { *notices = append(*notices, n) }),
	)
	require.NoError(t, err)
	require.NoError(t, u.Start())
	return u
}

// claimFor binds a fresh mission to u, leaving the unit moving.
func claimFor(t *testing.T, u *Unit) *Mission {
	t.Helper()
	m, err := NewMission(u, &fakeTarget{id: "s1"}, 0, DefaultMissionConfig)
	require.NoError(t, err)
	require.NoError(t, u.claim(m))
	return m
}

func send(t *testing.T, u *Unit, m *Mission, evs ...Event) State {
	t.Helper()
	var to State
	for _, ev := range evs {
		tr, err := u.send(m, ev)
		require.NoError(t, err, "event %s", ev)
		to = tr.To
	}
	return to
}

func TestUnitGivesUpAfterMaxTries(t *testing.T) {
	var notices []FailureNotice
	u := newTestUnit(t, 3, &notices)
	m := claimFor(t, u)
	send(t, u, m, EventArrive, EventDiagnose)

	for i := 1; i <= 3; i++ {
		assert.Equal(t, StateRepairing, send(t, u, m, EventAttemptRepair))
		assert.Equal(t, StateDiagnosing, send(t, u, m, EventRepairFailure))
		assert.Equal(t, i, u.State().RetryCount)
	}

	assert.Equal(t, StateIdle, send(t, u, m, EventAttemptRepair))
	require.Len(t, notices, 1)
	assert.Equal(t, "u1", notices[0].UnitID)
	assert.Equal(t, m.ID(), notices[0].MissionID)
	assert.Equal(t, 3, notices[0].Attempts)
	assert.Zero(t, u.State().RetryCount, "retries reset on idle")
	assert.False(t, u.Available(), "still bound until the mission releases it")
	u.release(m, false)
	assert.True(t, u.Available())
}

func TestUnitRetryCountStaysWithinMax(t *testing.T) {
	var notices []FailureNotice
	u := newTestUnit(t, 2, &notices)
	for mission := 0; mission < 3; mission++ {
		m := claimFor(t, u)
		send(t, u, m, EventArrive, EventDiagnose)
		for {
			to := send(t, u, m, EventAttemptRepair)
			if to == StateIdle {
				break
			}
			send(t, u, m, EventRepairFailure)
			assert.LessOrEqual(t, u.State().RetryCount, 2)
		}
		u.release(m, false)
	}
	assert.Len(t, notices, 3)
}

func TestUnitSuccessResetsRetries(t *testing.T) {
	var notices []FailureNotice
	u := newTestUnit(t, 3, &notices)
	m := claimFor(t, u)
	send(t, u, m, EventArrive, EventDiagnose, EventAttemptRepair, EventRepairFailure)
	require.Equal(t, 1, u.State().RetryCount)

	assert.Equal(t, StateIdle, send(t, u, m, EventAttemptRepair, EventRepairSuccess))
	assert.Zero(t, u.State().RetryCount)
	assert.Empty(t, notices)
}

func TestUnitUnboundedNeverGivesUp(t *testing.T) {
	var notices []FailureNotice
	u := newTestUnit(t, Unbounded, &notices)
	m := claimFor(t, u)
	send(t, u, m, EventArrive, EventDiagnose)
	for i := 0; i < 50; i++ {
		require.Equal(t, StateRepairing, send(t, u, m, EventAttemptRepair))
		send(t, u, m, EventRepairFailure)
	}
	assert.Equal(t, 50, u.State().RetryCount)
	assert.Empty(t, notices)
}

func TestUnitRejectsOutOfOrderEvents(t *testing.T) {
	var notices []FailureNotice
	u := newTestUnit(t, 3, &notices)
	m := claimFor(t, u)

	_, err := u.send(m, EventDiagnose)
	assert.ErrorIs(t, err, fsm.ErrNotPermitted)
	_, err = u.send(m, EventDispatch)
	assert.Error(t, err, "a moving unit cannot be dispatched again")
	assert.Equal(t, StateMoving, u.State().State)
}

func TestUnitRejectsEventsFromStaleMission(t *testing.T) {
	var notices []FailureNotice
	u := newTestUnit(t, 3, &notices)
	stale := claimFor(t, u)
	u.release(stale, true)
	require.Equal(t, StateIdle, u.State().State)

	current := claimFor(t, u)
	_, err := u.send(stale, EventArrive)
	assert.ErrorIs(t, err, ErrNotAssigned)
	assert.Equal(t, StateMoving, u.State().State, "stale events leave the unit untouched")
	assert.Equal(t, current.ID(), u.State().MissionID)

	assert.Equal(t, StateInPlace, send(t, u, current, EventArrive))
}

func TestUnitSnapshotFlags(t *testing.T) {
	var notices []FailureNotice
	u := newTestUnit(t, 3, &notices)

	s := u.State()
	assert.True(t, s.Available)
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, 3, s.MaxTries)

	m := claimFor(t, u)
	assert.True(t, u.State().Moving)
	send(t, u, m, EventArrive)
	assert.True(t, u.State().InPlace)
	send(t, u, m, EventDiagnose)
	assert.True(t, u.State().Diagnosing)
	send(t, u, m, EventAttemptRepair)
	s = u.State()
	assert.True(t, s.Repairing)
	assert.False(t, s.Available)
	assert.False(t, s.Diagnosing)
}

func TestUnitStoppedRejectsEvents(t *testing.T) {
	var notices []FailureNotice
	u := newTestUnit(t, 3, &notices)
	m := claimFor(t, u)

	u.Stop()
	assert.True(t, m.Done(), "stopping abandons the mission")
	_, err := u.send(m, EventArrive)
	assert.ErrorIs(t, err, ErrStopped)
	assert.False(t, u.Available())

	require.NoError(t, u.Start())
	assert.Equal(t, StateIdle, u.State().State, "restart begins from idle")
	assert.True(t, u.Available())
}

func TestNewUnitDefaults(t *testing.T) {
	u, err := NewUnit(UnitConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTries, u.MaxTries())
	assert.NotEmpty(t, u.ID())
	assert.False(t, u.Available(), "units start out of service")

	_, err = NewUnit(UnitConfig{MaxTries: -2})
	assert.Error(t, err)
}
