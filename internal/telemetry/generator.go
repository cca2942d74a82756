package telemetry

import (
	"time"

	"signalfix-sim/internal/dispatch"
	"signalfix-sim/internal/fsm"
	"signalfix-sim/internal/repair"
	"signalfix-sim/internal/signal"
)

// Generator turns component snapshots and events into rows stamped with a
// simulation id.
type Generator struct {
	SimulationID string
	now          func() time.Time
}

// NewGenerator creates a new row generator for a given simulation.
func NewGenerator(simulationID string, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{SimulationID: simulationID, now: now}
}

// SignalRow converts a signal snapshot.
func (g *Generator) SignalRow(s signal.Snapshot) SignalRow {
	return SignalRow{
		Kind:         KindSignal,
		SimulationID: g.SimulationID,
		SignalID:     s.ID,
		Phase:        string(s.Phase),
		Traffic:      string(s.Traffic),
		Pedestrian:   string(s.Pedestrian),
		Outage:       s.Outage,
		OutageCount:  s.OutageCount,
		BlinkOn:      s.BlinkOn,
		Timestamp:    g.now().UTC(),
	}
}

// UnitRow converts a unit transition. snap is the unit state right after it.
func (g *Generator) UnitRow(tr fsm.Transition[repair.State, repair.Event], snap repair.Snapshot) UnitRow {
	return UnitRow{
		Kind:         KindUnit,
		SimulationID: g.SimulationID,
		UnitID:       snap.ID,
		From:         string(tr.From),
		To:           string(tr.To),
		Event:        string(tr.Event),
		RetryCount:   snap.RetryCount,
		MissionID:    snap.MissionID,
		SignalID:     snap.TargetID,
		Timestamp:    g.now().UTC(),
	}
}

// MissionRow converts a dispatcher mission event.
func (g *Generator) MissionRow(ev dispatch.MissionEvent) MissionRow {
	row := MissionRow{
		Kind:         KindMission,
		SimulationID: g.SimulationID,
		MissionID:    ev.MissionID,
		UnitID:       ev.UnitID,
		SignalID:     ev.TargetID,
		Event:        MissionAssigned,
		Slot:         ev.Slot,
		Distance:     ev.Distance,
		Attempts:     ev.Attempts,
		Requeued:     ev.Requeued,
		Timestamp:    g.now().UTC(),
	}
	if ev.Kind == dispatch.MissionFinished {
		row.Event = MissionFinished
		row.Outcome = string(ev.Outcome)
	}
	return row
}

// FailureRow converts a unit give-up notice.
func (g *Generator) FailureRow(n repair.FailureNotice) MissionRow {
	return MissionRow{
		Kind:         KindMission,
		SimulationID: g.SimulationID,
		MissionID:    n.MissionID,
		UnitID:       n.UnitID,
		SignalID:     n.TargetID,
		Event:        MissionGaveUp,
		Slot:         -1,
		Attempts:     n.Attempts,
		Timestamp:    g.now().UTC(),
	}
}

// DispatcherRow converts scheduling pass stats.
func (g *Generator) DispatcherRow(p dispatch.PassStats) DispatcherRow {
	return DispatcherRow{
		Kind:         KindDispatcher,
		SimulationID: g.SimulationID,
		Pass:         p.Pass,
		Assigned:     p.Assigned,
		Queued:       p.Queued,
		Busy:         p.Busy,
		Free:         p.Free,
		Timestamp:    g.now().UTC(),
	}
}
