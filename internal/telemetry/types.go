// Row types emitted by the simulation
package telemetry

import "time"

// Row kinds, used to tell rows apart in a mixed JSON stream.
const (
	KindSignal     = "signal"
	KindUnit       = "unit"
	KindMission    = "mission"
	KindDispatcher = "dispatcher"
)

// SignalRow is one signal snapshot, emitted every signal tick.
type SignalRow struct {
	Kind         string    `json:"kind"`
	SimulationID string    `json:"simulation_id"`
	SignalID     string    `json:"signal_id"`
	Phase        string    `json:"phase"`
	Traffic      string    `json:"traffic"`
	Pedestrian   string    `json:"pedestrian"`
	Outage       bool      `json:"outage"`
	OutageCount  int       `json:"outage_count"`
	BlinkOn      bool      `json:"blink_on"`
	Timestamp    time.Time `json:"ts"`
}

// UnitRow records one repair unit transition.
type UnitRow struct {
	Kind         string    `json:"kind"`
	SimulationID string    `json:"simulation_id"`
	UnitID       string    `json:"unit_id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Event        string    `json:"event"`
	RetryCount   int       `json:"retry_count"`
	MissionID    string    `json:"mission_id,omitempty"`
	SignalID     string    `json:"signal_id,omitempty"`
	Timestamp    time.Time `json:"ts"`
}

// Mission row events.
const (
	MissionAssigned = "assigned"
	MissionFinished = "finished"
	MissionGaveUp   = "failure_notice"
)

// MissionRow records a mission assignment, a give-up notice or a mission end.
type MissionRow struct {
	Kind         string    `json:"kind"`
	SimulationID string    `json:"simulation_id"`
	MissionID    string    `json:"mission_id"`
	UnitID       string    `json:"unit_id"`
	SignalID     string    `json:"signal_id"`
	Event        string    `json:"event"`
	Slot         int       `json:"slot"`
	Outcome      string    `json:"outcome,omitempty"`
	Distance     float64   `json:"distance"`
	Attempts     int       `json:"attempts"`
	Requeued     bool      `json:"requeued"`
	Timestamp    time.Time `json:"ts"`
}

// DispatcherRow summarizes one scheduling pass.
type DispatcherRow struct {
	Kind         string    `json:"kind"`
	SimulationID string    `json:"simulation_id"`
	Pass         int       `json:"pass"`
	Assigned     int       `json:"assigned"`
	Queued       int       `json:"queued"`
	Busy         int       `json:"busy"`
	Free         int       `json:"free"`
	Timestamp    time.Time `json:"ts"`
}
