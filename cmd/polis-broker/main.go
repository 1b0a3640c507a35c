// Package main is the entry point for the polis-broker binary.
// It serves live tag and query feeds from an automation engine over SSE.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultLogLevel = "info"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-broker
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-broker",
		Short: "Subscription broker for automation engine feeds",
		Long: `A broker that turns automation engine callbacks into pull-based feeds.

Clients subscribe to name lists, enriched tags or queries and receive
updates as Server-Sent Events. The bundled engine is an in-memory
simulator seeded from the configuration file.

Example:
  polis-broker serve --config broker.yaml
  polis-broker watch --name line1/temp --format json`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(), newWatchCmd())
	return rootCmd
}
