package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"signalfix-sim/internal/config"
)

var (
	valConfigPath  string
	valSchemaPath  string
	valPrintSchema bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a simulation configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if valPrintSchema {
			_, err := out.Write(config.DefaultSchema())
			return err
		}
		cfg, err := config.Load(valConfigPath, valSchemaPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: ok (%d signals, %d units)\n", valConfigPath, len(cfg.Signals), cfg.Units.UnitCount)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&valConfigPath, "config", "config/simulation.yaml", "Path to simulation configuration YAML")
	validateCmd.Flags().StringVar(&valSchemaPath, "schema", "", "Path to CUE schema file (embedded schema when empty)")
	validateCmd.Flags().BoolVar(&valPrintSchema, "print-schema", false, "Print the embedded CUE schema and exit")
}
