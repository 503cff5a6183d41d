package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hutchd",
	Short: "Hutch - workload reconciliation and traffic routing daemon",
	Long: `Hutch keeps declared workloads running and routes traffic to them.

Desired state is submitted as YAML manifests; a level-triggered
reconciler converges running containers toward it, a readiness-driven
endpoint registry tracks which replicas may serve, and an HTTP ingress
proxy routes by host and path.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hutch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(applyCmd)
}
