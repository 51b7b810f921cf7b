package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbusdata/indexctl/pkg/clusterlock"
	"github.com/nimbusdata/indexctl/pkg/controller"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/spf13/cobra"
)

var beatCmd = &cobra.Command{
	Use:   "beat",
	Short: "Run only the controller's beat loop",
	Long: `beat runs the kick-off tick in isolation, for a deployment that
scales the beat loop separately from fetch/processing workers.

It still builds an in-process queue.Queue to satisfy controller.New's
queue.Broker dependency, but nothing in this process ever dequeues
from it: a standalone beat only makes sense paired with an external
queue.Broker implementation that a separate fetch-worker fleet also
dequeues from. Running "beat" against the in-process queue with no
other consumer in the same process will enqueue fetch tasks that are
never picked up; use "serve" instead unless an external broker is
wired in.`,
	RunE: runBeat,
}

func init() {
	beatCmd.Flags().Duration("interval", 30*time.Second, "Interval between beat ticks")
	beatCmd.Flags().Bool("cluster", false, "Bootstrap a single-node Raft lock instead of running standalone")
	beatCmd.Flags().String("raft-node-id", "node-1", "Raft node ID, used only with --cluster")
	beatCmd.Flags().String("raft-bind-addr", "127.0.0.1:7000", "Raft bind address, used only with --cluster")
}

func runBeat(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	tenant, _ := cmd.Flags().GetString("tenant")
	interval, _ := cmd.Flags().GetDuration("interval")
	useCluster, _ := cmd.Flags().GetBool("cluster")
	raftNodeID, _ := cmd.Flags().GetString("raft-node-id")
	raftBindAddr, _ := cmd.Flags().GetString("raft-bind-addr")

	dbs, err := openDatabases(dataDir, tenant)
	if err != nil {
		return fmt.Errorf("open databases: %w", err)
	}
	defer dbs.Close()

	var lock *clusterlock.Lock
	if useCluster {
		lock, err = clusterlock.Bootstrap(clusterlock.Config{
			NodeID:   raftNodeID,
			BindAddr: raftBindAddr,
			DataDir:  dataDir + "/raft",
		})
		if err != nil {
			return fmt.Errorf("bootstrap cluster lock: %w", err)
		}
		defer lock.Shutdown()
	} else {
		lock = clusterlock.Standalone()
	}

	fetchQueue := queue.New(256)
	defer fetchQueue.Close()

	ctrl := controller.New(dbs.Store, dbs.Fences, fetchQueue, lock)
	ctrl.Start(context.Background(), interval)
	defer ctrl.Stop()
	fmt.Printf("✓ Beat loop started (interval=%s)\n", interval)
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\n✓ Shutdown complete")
	return nil
}
