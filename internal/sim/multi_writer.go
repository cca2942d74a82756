package sim

import (
	"errors"

	"signalfix-sim/internal/telemetry"
)

// MultiWriter fans rows out to multiple writers. Writers that lack an
// optional row interface are skipped for that row kind.
type MultiWriter struct {
	writers []SignalWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...SignalWriter) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// WriteSignal sends a signal row to all writers.
func (mw *MultiWriter) WriteSignal(row telemetry.SignalRow) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.WriteSignal(row))
	}
	return errors.Join(errs...)
}

// WriteUnit sends a unit row to every writer implementing UnitWriter.
func (mw *MultiWriter) WriteUnit(row telemetry.UnitRow) error {
	var errs []error
	for _, w := range mw.writers {
		if uw, ok := w.(UnitWriter); ok {
			errs = append(errs, uw.WriteUnit(row))
		}
	}
	return errors.Join(errs...)
}

// WriteMission sends a mission row to every writer implementing MissionWriter.
func (mw *MultiWriter) WriteMission(row telemetry.MissionRow) error {
	var errs []error
	for _, w := range mw.writers {
		if mwr, ok := w.(MissionWriter); ok {
			errs = append(errs, mwr.WriteMission(row))
		}
	}
	return errors.Join(errs...)
}

// WriteDispatcher sends a pass row to every writer implementing DispatcherWriter.
func (mw *MultiWriter) WriteDispatcher(row telemetry.DispatcherRow) error {
	var errs []error
	for _, w := range mw.writers {
		if dw, ok := w.(DispatcherWriter); ok {
			errs = append(errs, dw.WriteDispatcher(row))
		}
	}
	return errors.Join(errs...)
}

// SetAdminStatus forwards the admin address to writers that display it.
func (mw *MultiWriter) SetAdminStatus(addr string) {
	for _, w := range mw.writers {
		if aw, ok := w.(AdminStatusWriter); ok {
			aw.SetAdminStatus(addr)
		}
	}
}
