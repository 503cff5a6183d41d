package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hutchstack/hutch/pkg/apply"
	"github.com/hutchstack/hutch/pkg/events"
	"github.com/hutchstack/hutch/pkg/log"
	"github.com/hutchstack/hutch/pkg/storage"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a manifest file to the state store",
	Long: `Apply YAML manifests directly to the data directory.

The daemon must not be running: the store is locked by a single process.
Use a watched manifest directory (hutchd serve --manifests) to change
desired state while the daemon runs.

Examples:
  # Pre-seed desired state before first start
  hutchd apply -f workload.yaml --data-dir /var/lib/hutch`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest file to apply (required)")
	applyCmd.Flags().String("data-dir", "/var/lib/hutch", "Data directory for persistent state")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	log.Init(log.Config{Level: log.WarnLevel})

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open store (is hutchd running?): %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	refs, err := apply.New(store, broker).ApplyFile(filename)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		fmt.Printf("✓ %s applied: %s\n", ref.Kind, ref.Name)
	}
	return nil
}
