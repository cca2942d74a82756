// ColorStdoutWriter prints human-friendly, colorized rows to STDOUT.
package sim

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"signalfix-sim/internal/config"
	"signalfix-sim/internal/repair"
	"signalfix-sim/internal/telemetry"
)

// ColorStdoutWriter prints rows using lipgloss styles. The renderer detects
// the color profile of out, so piping yields plain text.
type ColorStdoutWriter struct {
	cfg  *config.SimulationConfig
	out  io.Writer
	mu   sync.Mutex
	once sync.Once

	adminAddr string

	muted, label, alert lipgloss.Style
	colors              map[string]lipgloss.Style
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter(cfg *config.SimulationConfig) *ColorStdoutWriter {
	return NewColorWriter(os.Stdout, cfg)
}

// NewColorWriter creates a ColorStdoutWriter writing to out.
func NewColorWriter(out io.Writer, cfg *config.SimulationConfig) *ColorStdoutWriter {
	r := lipgloss.NewRenderer(out)
	return &ColorStdoutWriter{
		cfg:   cfg,
		out:   out,
		muted: r.NewStyle().Foreground(lipgloss.Color("8")),
		label: r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		alert: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		colors: map[string]lipgloss.Style{
			"red":    r.NewStyle().Foreground(lipgloss.Color("9")),
			"yellow": r.NewStyle().Foreground(lipgloss.Color("11")),
			"green":  r.NewStyle().Foreground(lipgloss.Color("10")),
			"walk":   r.NewStyle().Foreground(lipgloss.Color("10")),
			"wait":   r.NewStyle().Foreground(lipgloss.Color("11")).Blink(true),
			"stop":   r.NewStyle().Foreground(lipgloss.Color("9")),
		},
	}
}

func (w *ColorStdoutWriter) paint(key, s string) string {
	if st, ok := w.colors[key]; ok {
		return st.Render(s)
	}
	return s
}

func (w *ColorStdoutWriter) stamp(ts time.Time) string {
	return w.muted.Render("[" + ts.Format(time.RFC3339) + "]")
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}

	fmt.Fprintln(w.out, w.label.Render("Simulation "+w.cfg.SimulationID))
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Repair Units:\t%d\n", w.cfg.Units.UnitCount)
	maxTries := fmt.Sprint(w.cfg.Units.MaxTries)
	if w.cfg.Units.MaxTries == repair.Unbounded {
		maxTries = "unbounded"
	}
	fmt.Fprintf(tw, "Max Tries:\t%s\n", maxTries)
	fmt.Fprintf(tw, "Signal Tick:\t%s\n", w.cfg.SignalDefaults.TickInterval)
	fmt.Fprintf(tw, "Dispatcher Tick:\t%s\n", w.cfg.Dispatcher.TickInterval)
	admin := "disabled"
	if w.adminAddr != "" {
		admin = w.adminAddr
	}
	fmt.Fprintf(tw, "Admin API:\t%s\n", admin)
	tw.Flush()

	fmt.Fprintln(w.out, "\nSignals:")
	tw = tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tRed\tYellow\tGreen\tOutage %%\n")
	for _, s := range w.cfg.SignalConfigs() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f\n", s.ID, s.Timer.Red, s.Timer.Yellow, s.Timer.Green, s.OutageChance)
	}
	tw.Flush()
	fmt.Fprintln(w.out)
}

// SetAdminStatus records the admin API address for the overview.
func (w *ColorStdoutWriter) SetAdminStatus(addr string) {
	w.mu.Lock()
	w.adminAddr = addr
	w.mu.Unlock()
}

// WriteSignal outputs a signal row in colorized format.
func (w *ColorStdoutWriter) WriteSignal(row telemetry.SignalRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)

	status := w.paint(row.Traffic, row.Traffic) + " ped=" + w.paint(row.Pedestrian, row.Pedestrian)
	if row.Outage {
		status = w.alert.Render("OUTAGE") + " frozen=" + row.Traffic
	}
	_, err := fmt.Fprintf(w.out, "%s %s id=%s %s outages=%d\n",
		w.stamp(row.Timestamp), w.label.Render("SIGNAL"), row.SignalID, status, row.OutageCount)
	return err
}

// WriteUnit prints a repair unit transition.
func (w *ColorStdoutWriter) WriteUnit(row telemetry.UnitRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)
	_, err := fmt.Fprintf(w.out, "%s %s id=%s %s -> %s (%s) retries=%d target=%s\n",
		w.stamp(row.Timestamp), w.label.Render("UNIT"), row.UnitID, row.From, row.To, row.Event, row.RetryCount, row.SignalID)
	return err
}

// WriteMission prints a mission event.
func (w *ColorStdoutWriter) WriteMission(row telemetry.MissionRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)
	tag := w.label.Render("MISSION")
	if row.Event == telemetry.MissionGaveUp || row.Outcome == string(repair.OutcomeGaveUp) {
		tag = w.alert.Render("MISSION")
	}
	_, err := fmt.Fprintf(w.out, "%s %s %s unit=%s target=%s",
		w.stamp(row.Timestamp), tag, row.Event, row.UnitID, row.SignalID)
	if err != nil {
		return err
	}
	switch row.Event {
	case telemetry.MissionAssigned:
		fmt.Fprintf(w.out, " distance=%.0f", row.Distance)
	case telemetry.MissionFinished:
		fmt.Fprintf(w.out, " outcome=%s attempts=%d requeued=%t", row.Outcome, row.Attempts, row.Requeued)
	case telemetry.MissionGaveUp:
		fmt.Fprintf(w.out, " attempts=%d", row.Attempts)
	}
	_, err = fmt.Fprintln(w.out)
	return err
}

// WriteDispatcher prints a scheduling pass summary when it assigned work.
func (w *ColorStdoutWriter) WriteDispatcher(row telemetry.DispatcherRow) error {
	if row.Assigned == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)
	_, err := fmt.Fprintf(w.out, "%s %s pass=%d assigned=%d queued=%d busy=%d free=%d\n",
		w.stamp(row.Timestamp), w.label.Render("DISPATCH"), row.Pass, row.Assigned, row.Queued, row.Busy, row.Free)
	return err
}
