package sim

import "signalfix-sim/internal/telemetry"

// SignalWriter is an interface to support different output writers. Every
// writer handles signal rows; the other row kinds are optional.
type SignalWriter interface {
	WriteSignal(telemetry.SignalRow) error
}

// UnitWriter handles repair unit transitions.
type UnitWriter interface {
	WriteUnit(telemetry.UnitRow) error
}

// MissionWriter handles mission assignments and outcomes.
type MissionWriter interface {
	WriteMission(telemetry.MissionRow) error
}

// DispatcherWriter handles scheduling pass summaries.
type DispatcherWriter interface {
	WriteDispatcher(telemetry.DispatcherRow) error
}
