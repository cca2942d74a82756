package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "signalfix-sim",
	Short: "Traffic signal outage and repair simulator",
	Long:  "signalfix-sim simulates a city's traffic signals failing and a pool of repair units dispatched to fix them.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(validateCmd)
}
