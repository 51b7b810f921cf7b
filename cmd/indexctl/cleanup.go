package main

import (
	"context"
	"fmt"

	"github.com/nimbusdata/indexctl/pkg/cleanup"
	"github.com/nimbusdata/indexctl/pkg/processing"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one checkpoint cleanup sweep and exit",
	Long: `cleanup runs a single pass of pkg/cleanup.Sweeper.Sweep, for
running the sweep from an external scheduler (cron, a Kubernetes
CronJob) instead of the ticker loop "serve" runs in-process.`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	tenant, _ := cmd.Flags().GetString("tenant")

	dbs, err := openDatabases(dataDir, tenant)
	if err != nil {
		return fmt.Errorf("open databases: %w", err)
	}
	defer dbs.Close()

	batchStore := processing.NewKVBatchStore(dbs.KV, tenant)
	sweeper := cleanup.New(dbs.Store, dbs.Fences, dbs.Contexts, batchStore)
	reclaimed, err := sweeper.Sweep(context.Background())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Printf("✓ Checkpoint cleanup sweep complete: %d attempt(s) reclaimed\n", reclaimed)
	return nil
}
