package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simulation.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
simulation_id: city-01
seed: 42
signals:
  - id: main-1st
    timer: {red: 4s, yellow: 1s, green: 5s}
    outage_chance: 5
    blink: true
  - id: main-2nd
units:
  max_tries: -1
dispatcher:
  requeue_on_give_up: false
`)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.SimulationID != "city-01" || cfg.Seed != 42 {
		t.Errorf("unexpected header: %+v", cfg)
	}
	if len(cfg.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(cfg.Signals))
	}
	sigs := cfg.SignalConfigs()
	if sigs[0].Timer.Red != 4*time.Second || sigs[0].OutageChance != 5 || !sigs[0].Blink {
		t.Errorf("unexpected first signal: %+v", sigs[0])
	}
	if sigs[1].Timer.Green != 3*time.Second || sigs[1].OutageChance != 2 {
		t.Errorf("defaults not applied to second signal: %+v", sigs[1])
	}
	if cfg.Units.UnitCount != 1 {
		t.Errorf("expected one unit for two signals, got %d", cfg.Units.UnitCount)
	}
	if cfg.Units.MaxTries != -1 {
		t.Errorf("expected unbounded retries, got %d", cfg.Units.MaxTries)
	}
	if cfg.DispatcherConfig().RequeueOnGiveUp {
		t.Errorf("requeue_on_give_up=false was ignored")
	}
}

func TestLoadConfig_ZeroOutageChanceKept(t *testing.T) {
	path := writeConfig(t, `
signals:
  - id: quiet
    outage_chance: 0
`)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if got := cfg.SignalConfigs()[0].OutageChance; got != 0 {
		t.Fatalf("explicit zero outage chance replaced by %v", got)
	}
}

func TestLoadConfig_DefaultSignalID(t *testing.T) {
	path := writeConfig(t, `
signals:
  - timer: {red: 2s, yellow: 1s, green: 3s}
  - id: named
`)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	sigs := cfg.SignalConfigs()
	if sigs[0].ID != "signal-01" {
		t.Errorf("expected default id signal-01, got %q", sigs[0].ID)
	}
	if sigs[0].Timer.Red != 2*time.Second {
		t.Errorf("timer of unnamed signal lost: %+v", sigs[0].Timer)
	}
	if sigs[1].ID != "named" {
		t.Errorf("explicit id replaced: %q", sigs[1].ID)
	}
}

func TestLoadConfig_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"no signals":      "signals: []\n",
		"unknown field":   "signals:\n  - id: a\n    colour: red\n",
		"chance too high": "signals:\n  - id: a\n    outage_chance: 120\n",
		"bad duration":    "signals:\n  - id: a\n    timer: {red: soon}\n",
		"bad ratio":       "signals:\n  - id: a\nmission: {failure_ratio: 2}\n",
		"bad id":          "signals:\n  - id: \"main st\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, body)
			if _, err := Load(path, ""); err == nil {
				t.Fatalf("expected schema error")
			}
		})
	}
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	_, err := Parse([]byte("signals:\n  - id: a\n  - id: a\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateRejectsBadTimer(t *testing.T) {
	_, err := Parse([]byte("signals:\n  - id: a\n    timer: {red: -1s}\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestDefaultUnitCount(t *testing.T) {
	for signals, want := range map[int]int{0: 1, 1: 1, 4: 1, 5: 2, 9: 3} {
		if got := DefaultUnitCount(signals); got != want {
			t.Errorf("DefaultUnitCount(%d) = %d, want %d", signals, got, want)
		}
	}
}

func TestUnitConfigs(t *testing.T) {
	cfg, err := Parse([]byte("signals:\n  - id: a\nunits: {unit_count: 3, max_tries: 5}\n"))
	if err != nil {
		t.Fatalf("Parse() returned error: %v", err)
	}
	units := cfg.UnitConfigs()
	if len(units) != 3 || units[2].ID != "unit-03" || units[0].MaxTries != 5 {
		t.Fatalf("unexpected units: %+v", units)
	}
}

func TestValidateWithCue_SchemaFile(t *testing.T) {
	dir := t.TempDir()
	schema := filepath.Join(dir, "strict.cue")
	if err := os.WriteFile(schema, []byte("#Config: {signals: [...{id: =~\"^sig-\"}]}\n"), 0o644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	good := writeConfig(t, "signals:\n  - id: sig-1\n")
	if err := ValidateWithCue(good, schema); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	bad := writeConfig(t, "signals:\n  - id: other\n")
	if err := ValidateWithCue(bad, schema); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := ValidateWithCue(good, filepath.Join(dir, "missing.cue")); err == nil {
		t.Fatalf("expected error for missing schema")
	}
}
