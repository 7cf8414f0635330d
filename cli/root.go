// Package cli implements the command-line interface using Cobra, grounded
// on Tutu-Engine's internal/cli package (root.go's Execute entrypoint,
// serve.go's flag-override-config pattern, ps.go's tabwriter listing) and
// claracore.go's own subcommand switch (serve/service/ps/list/version),
// formalized here into Cobra commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "core-orchestrator",
	Short: "Local model lifecycle orchestrator",
	Long: `core-orchestrator supervises a single GPU-resident inference
subprocess, brokers privacy/air-gap provider policy, and exposes an
OpenAI-compatible streaming gateway to the currently active local model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
