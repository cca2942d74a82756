package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"signalfix-sim/internal/admin"
	"signalfix-sim/internal/config"
	"signalfix-sim/internal/logging"
	"signalfix-sim/internal/sim"
)

var (
	simConfigPath string
	simSchemaPath string
	simTick       time.Duration
	simFormat     string
	simAdminAddr  string
	simDuration   time.Duration
	simLogLevel   string
	simLogFormat  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the real-time signal simulator",
	Long:  "simulate powers up every configured signal, injects random outages and dispatches repair units until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logging.New(simLogLevel, simLogFormat)
		if err != nil {
			return err
		}

		cfg, err := config.Load(simConfigPath, simSchemaPath)
		if err != nil {
			return err
		}
		if err := applyOverrides(cfg, cmd.Flags().Changed("tick")); err != nil {
			return err
		}

		writer, err := newWriter(simFormat, cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if simDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, simDuration)
			defer cancel()
		}
		ctx = logging.NewContext(ctx, log)

		simulator, err := sim.NewSimulator(cfg, writer, sim.WithLogger(log))
		if err != nil {
			return err
		}

		if aw, ok := writer.(sim.AdminStatusWriter); ok {
			aw.SetAdminStatus(simAdminAddr)
		}
		if simAdminAddr != "" {
			srv := admin.NewServer(simulator, log)
			go func() {
				log.Info("admin API listening", "addr", simAdminAddr)
				if err := srv.Start(ctx, simAdminAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("admin server failed", "err", err)
				}
			}()
		}

		if err := simulator.Run(ctx); err != nil {
			return err
		}
		logging.FromContext(ctx).Info("signal simulation stopped")
		return nil
	},
}

// applyOverrides layers environment variables and the tick flag over the
// loaded configuration.
func applyOverrides(cfg *config.SimulationConfig, tickSet bool) error {
	if id := os.Getenv("SIMULATION_ID"); id != "" {
		cfg.SimulationID = id
	}
	if tickSet {
		cfg.SignalDefaults.TickInterval = simTick
	}
	if envTick := os.Getenv("TICK_INTERVAL"); envTick != "" {
		d, err := time.ParseDuration(envTick)
		if err != nil {
			return fmt.Errorf("invalid TICK_INTERVAL: %w", err)
		}
		cfg.SignalDefaults.TickInterval = d
	}
	if cfg.SignalDefaults.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive", config.ErrInvalid)
	}
	return nil
}

func init() {
	simulateCmd.Flags().StringVar(&simConfigPath, "config", "config/simulation.yaml", "Path to simulation configuration YAML")
	simulateCmd.Flags().StringVar(&simSchemaPath, "schema", "", "Path to CUE schema file (embedded schema when empty)")
	simulateCmd.Flags().DurationVar(&simTick, "tick", time.Second, "Signal tick interval (e.g. 500ms, 2s)")
	simulateCmd.Flags().StringVar(&simFormat, "format", "auto", "Row output format: auto, json, color or none")
	simulateCmd.Flags().StringVar(&simAdminAddr, "admin-addr", ":8080", "Admin API listen address, empty to disable")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	simulateCmd.Flags().StringVar(&simLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	simulateCmd.Flags().StringVar(&simLogFormat, "log-format", "text", "Log format: text or json")
}
