package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbusdata/indexctl/pkg/cleanup"
	"github.com/nimbusdata/indexctl/pkg/clusterlock"
	"github.com/nimbusdata/indexctl/pkg/controller"
	"github.com/nimbusdata/indexctl/pkg/health"
	"github.com/nimbusdata/indexctl/pkg/metrics"
	"github.com/nimbusdata/indexctl/pkg/monitor"
	"github.com/nimbusdata/indexctl/pkg/processing"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/nimbusdata/indexctl/pkg/watchdog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the beat, watchdog, processing, monitor, and cleanup loops in one process",
	Long: `serve is the all-in-one entrypoint: it runs the controller's beat
loop, the watchdog dispatcher that supervises spawned "worker fetch"
children, the in-process doc-processing dispatcher, the crash-detection
monitor, and the checkpoint cleanup sweeper side by side. Fetch tasks
from the beat loop go through one in-memory queue drained by the
watchdog dispatcher; the doc-processing dispatcher drains a separate
in-memory queue, which nothing in serve enqueues into, because each
"worker fetch" child processes its own batches.

A deployment that wants to scale the fetch and processing stages
independently runs "beat", "worker fetch", and "worker process" as
separate processes against an external broker instead.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Duration("beat-interval", 30*time.Second, "Interval between controller beat ticks")
	serveCmd.Flags().Duration("monitor-interval", 15*time.Second, "Interval between monitor reconciliation cycles")
	serveCmd.Flags().Duration("cleanup-interval", 10*time.Minute, "Interval between checkpoint cleanup sweeps")
	serveCmd.Flags().Int("queue-capacity", 256, "In-process fetch task queue capacity")
	serveCmd.Flags().Int("fetch-concurrency", 4, "Number of concurrent supervised fetch jobs")
	serveCmd.Flags().Int("process-concurrency", 8, "Number of concurrent in-process batch workers")
	serveCmd.Flags().String("worker-binary", "", "Path to this binary, used to spawn worker fetch children (defaults to os.Args[0])")
	serveCmd.Flags().String("http-addr", "127.0.0.1:9090", "Address serving /metrics, /healthz, and /readyz")
	serveCmd.Flags().Bool("cluster", false, "Bootstrap a single-node Raft lock instead of running standalone")
	serveCmd.Flags().String("raft-node-id", "node-1", "Raft node ID, used only with --cluster")
	serveCmd.Flags().String("raft-bind-addr", "127.0.0.1:7000", "Raft bind address, used only with --cluster")
}

func runServe(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	tenant, _ := cmd.Flags().GetString("tenant")
	beatInterval, _ := cmd.Flags().GetDuration("beat-interval")
	monitorInterval, _ := cmd.Flags().GetDuration("monitor-interval")
	cleanupInterval, _ := cmd.Flags().GetDuration("cleanup-interval")
	queueCapacity, _ := cmd.Flags().GetInt("queue-capacity")
	fetchConcurrency, _ := cmd.Flags().GetInt("fetch-concurrency")
	processConcurrency, _ := cmd.Flags().GetInt("process-concurrency")
	workerBinary, _ := cmd.Flags().GetString("worker-binary")
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	useCluster, _ := cmd.Flags().GetBool("cluster")
	raftNodeID, _ := cmd.Flags().GetString("raft-node-id")
	raftBindAddr, _ := cmd.Flags().GetString("raft-bind-addr")

	if workerBinary == "" {
		workerBinary = os.Args[0]
	}

	dbs, err := openDatabases(dataDir, tenant)
	if err != nil {
		return fmt.Errorf("open databases: %w", err)
	}
	defer dbs.Close()

	var lock *clusterlock.Lock
	if useCluster {
		fmt.Printf("Bootstrapping single-node Raft lock (node=%s bind=%s)...\n", raftNodeID, raftBindAddr)
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

	fetchQueue := queue.New(queueCapacity)
	defer fetchQueue.Close()

	batches := processing.NewKVBatchStore(dbs.KV, tenant)
	processor := processing.New(dbs.Store, dbs.Fences, dbs.Contexts, dbs.KV, batches, processing.PassthroughPipeline{})

	ctrl := controller.New(dbs.Store, dbs.Fences, fetchQueue, lock)
	ctrl.Start(context.Background(), beatInterval)
	defer ctrl.Stop()
	fmt.Println("✓ Beat loop started")

	wd := watchdog.New(dbs.Store, dbs.Fences, dbs.KV, watchdog.DefaultConfig())
	fetchDispatcher := watchdog.NewDispatcher(wd, fetchQueue, workerBinary, fetchConcurrency)
	fetchDispatcher.Start(context.Background())
	defer fetchDispatcher.Stop()
	fmt.Printf("✓ Watchdog dispatcher started (concurrency=%d, worker=%s)\n", fetchConcurrency, workerBinary)

	processQueue := queue.New(queueCapacity)
	defer processQueue.Close()
	processDispatcher := processing.NewDispatcher(processor, processQueue, processConcurrency)
	processDispatcher.Start(context.Background())
	defer processDispatcher.Stop()
	fmt.Printf("✓ Processing dispatcher started (concurrency=%d)\n", processConcurrency)

	mon := monitor.New(dbs.Store, dbs.Fences)
	mon.Start(monitorInterval)
	defer mon.Stop()
	fmt.Println("✓ Crash-detection monitor started")

	sweeper := cleanup.New(dbs.Store, dbs.Fences, dbs.Contexts, batches)
	sweeper.Start(cleanupInterval)
	defer sweeper.Stop()
	fmt.Println("✓ Checkpoint cleanup sweeper started")

	registry := health.NewRegistry(Version, 10*time.Second, 2*time.Second)
	registry.Register("store", health.NewFuncChecker("store", func(ctx context.Context) health.Result {
		if _, err := dbs.Store.ListCCPairs(); err != nil {
			return health.Result{Healthy: false, Message: err.Error(), CheckedAt: time.Now()}
		}
		return health.Result{Healthy: true, Message: "ok", CheckedAt: time.Now()}
	}))
	registry.Start()
	defer registry.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/readyz", registry.ReadyHandler())
	mux.Handle("/healthz", registry.LiveHandler())
	httpServer := &http.Server{Addr: httpAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	fmt.Printf("✓ HTTP endpoints listening on http://%s (/metrics, /healthz, /readyz)\n", httpAddr)
	fmt.Println("\nindexctl is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	fmt.Println("✓ Shutdown complete")
	return nil
}
