package sim

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"signalfix-sim/internal/telemetry"
)

// JSONStdoutWriter prints every row kind as one JSON object per line.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
	enc *json.Encoder
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return NewJSONWriter(os.Stdout)
}

// NewJSONWriter creates a JSONStdoutWriter writing to out.
func NewJSONWriter(out io.Writer) *JSONStdoutWriter {
	return &JSONStdoutWriter{out: out, enc: json.NewEncoder(out)}
}

func (w *JSONStdoutWriter) encode(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// WriteSignal outputs a signal row in JSON format.
func (w *JSONStdoutWriter) WriteSignal(row telemetry.SignalRow) error { return w.encode(row) }

// WriteUnit outputs a unit transition in JSON format.
func (w *JSONStdoutWriter) WriteUnit(row telemetry.UnitRow) error { return w.encode(row) }

// WriteMission outputs a mission event in JSON format.
func (w *JSONStdoutWriter) WriteMission(row telemetry.MissionRow) error { return w.encode(row) }

// WriteDispatcher outputs a scheduling pass summary in JSON format.
func (w *JSONStdoutWriter) WriteDispatcher(row telemetry.DispatcherRow) error {
	return w.encode(row)
}
