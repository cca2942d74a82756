package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"signalfix-sim/internal/config"
	"signalfix-sim/internal/sim"
)

// newWriter picks the row writer for format. "auto" colors rows on a
// terminal and emits JSON lines otherwise; "none" drops rows.
func newWriter(format string, cfg *config.SimulationConfig) (sim.SignalWriter, error) {
	switch format {
	case "auto", "":
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return sim.NewColorStdoutWriter(cfg), nil
		}
		return sim.NewJSONStdoutWriter(), nil
	case "json":
		return sim.NewJSONStdoutWriter(), nil
	case "color":
		return sim.NewColorStdoutWriter(cfg), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
