package sim

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"signalfix-sim/internal/config"
	"signalfix-sim/internal/telemetry"
)

func TestJSONWriterEmitsOneObjectPerLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf)
	for _, id := range []string{"s1", "s2"} {
		if err := w.WriteSignal(telemetry.SignalRow{Kind: telemetry.KindSignal, SignalID: id}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if err := w.WriteMission(telemetry.MissionRow{Kind: telemetry.KindMission, MissionID: "m1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var row telemetry.MissionRow
	if err := json.Unmarshal([]byte(lines[2]), &row); err != nil || row.MissionID != "m1" {
		t.Fatalf("unexpected mission line %q: %v", lines[2], err)
	}
}

func TestColorWriterPrintsOverviewOnce(t *testing.T) {
	cfg, err := config.Parse([]byte("simulation_id: downtown\nsignals:\n  - id: main-1st\n"))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	buf := &bytes.Buffer{}
	w := NewColorWriter(buf, cfg)
	row := telemetry.SignalRow{SignalID: "main-1st", Traffic: "red", Pedestrian: "walk", Timestamp: time.Unix(0, 0)}
	if err := w.WriteSignal(row); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "Simulation downtown") || !strings.Contains(output, "Signals:") {
		t.Fatalf("overview not printed: %q", output)
	}
	if !strings.Contains(output, "id=main-1st") {
		t.Fatalf("row not printed: %q", output)
	}

	buf.Reset()
	row.Outage = true
	if err := w.WriteSignal(row); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if strings.Contains(buf.String(), "Signals:") {
		t.Fatalf("overview printed more than once")
	}
	if !strings.Contains(buf.String(), "OUTAGE") {
		t.Fatalf("outage not highlighted: %q", buf.String())
	}
}

func TestColorWriterSkipsIdlePasses(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewColorWriter(buf, nil)
	if err := w.WriteDispatcher(telemetry.DispatcherRow{Pass: 1}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("idle pass printed: %q", buf.String())
	}
	if err := w.WriteDispatcher(telemetry.DispatcherRow{Pass: 2, Assigned: 1}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "pass=2") {
		t.Fatalf("pass not printed: %q", buf.String())
	}
}

// signalOnly implements only the mandatory interface.
type signalOnly struct {
	rows []telemetry.SignalRow
	err  error
}

func (s *signalOnly) WriteSignal(r telemetry.SignalRow) error {
	s.rows = append(s.rows, r)
	return s.err
}

func TestMultiWriterFansOut(t *testing.T) {
	plain := &signalOnly{}
	buf := &bytes.Buffer{}
	mw := NewMultiWriter(plain, NewJSONWriter(buf))

	for _, id := range []string{"a", "b"} {
		if err := mw.WriteSignal(telemetry.SignalRow{SignalID: id}); err != nil {
			t.Fatalf("WriteSignal: %v", err)
		}
	}
	if err := mw.WriteUnit(telemetry.UnitRow{UnitID: "u1"}); err != nil {
		t.Fatalf("WriteUnit: %v", err)
	}
	if len(plain.rows) != 2 {
		t.Fatalf("expected 2 rows on plain writer, got %d", len(plain.rows))
	}
	if n := strings.Count(buf.String(), "\n"); n != 3 {
		t.Fatalf("expected 3 JSON lines, got %d", n)
	}
}

func TestMultiWriterJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	mw := NewMultiWriter(&signalOnly{err: boom}, &signalOnly{})
	if err := mw.WriteSignal(telemetry.SignalRow{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestColorWriterShowsAdminAddress(t *testing.T) {
	cfg, err := config.Parse([]byte("signals:\n  - id: s1\n"))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	buf := &bytes.Buffer{}
	var aw AdminStatusWriter = NewMultiWriter(NewColorWriter(buf, cfg))
	aw.SetAdminStatus(":9090")
	if err := aw.(SignalWriter).WriteSignal(telemetry.SignalRow{SignalID: "s1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), ":9090") {
		t.Fatalf("admin address missing from overview: %q", buf.String())
	}
}
