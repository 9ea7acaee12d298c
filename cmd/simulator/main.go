// Command simulator runs the MANET mobility and proximity-graph simulation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simulator",
		Short: "MANET random-waypoint mobility and proximity-graph simulator",
		Long: `simulator moves nodes around a bounded plane with a pause/move
mobility model and keeps an undirected edge between every pair of nodes
within communication range. Each tick produces one frame that can be
written as JSON lines, recorded to SQLite, or streamed over gRPC.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newValidateCmd(),
		newRunsCmd(),
		newReplayCmd(),
		newWatchCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "simulator version %s\n", version)
		},
	}
}
