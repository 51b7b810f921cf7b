package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nimbusdata/indexctl/pkg/fetchworker"
	"github.com/nimbusdata/indexctl/pkg/jobclient"
	"github.com/nimbusdata/indexctl/pkg/processing"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a single worker task (fetch or process) and exit",
}

var workerFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run the fetch loop for one attempt, the program watchdog.Supervise spawns",
	Long: `fetch is the child process pkg/watchdog spawns for one fetch task:
it renews the connector heartbeat, pulls batches from a Connector, writes
each batch's checkpoint, and invokes the processing pipeline on every
batch it produces. Its --attempt-id and --task-id flags match the exact
contract pkg/watchdog/dispatcher.go's runOne builds.`,
	RunE: runWorkerFetch,
}

var workerProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the doc-processing task for a single already-fetched batch",
	Long: `process runs ProcessBatch once for the named
(cc-pair, search-settings, attempt, batch) tuple, loading the batch's
documents from the same KV-backed checkpoint store the fetch loop wrote
them to. It is the manual, one-shot equivalent of what
pkg/processing.Dispatcher does continuously when driven from a queue.`,
	RunE: runWorkerProcess,
}

func init() {
	workerFetchCmd.Flags().Int64("attempt-id", 0, "Index attempt ID to fetch")
	workerFetchCmd.Flags().String("task-id", "", "Fetch task ID (the fence's celery_task_id)")
	workerFetchCmd.Flags().Int("docs-per-batch", 50, "Documents the reference synthetic connector produces per batch")
	workerFetchCmd.Flags().Int("batches", 1, "Total batches the reference synthetic connector produces")
	_ = workerFetchCmd.MarkFlagRequired("attempt-id")
	_ = workerFetchCmd.MarkFlagRequired("task-id")

	workerProcessCmd.Flags().Int64("attempt-id", 0, "Index attempt ID")
	workerProcessCmd.Flags().Int64("cc-pair-id", 0, "CC pair ID")
	workerProcessCmd.Flags().Int64("search-settings-id", 0, "Search settings ID")
	workerProcessCmd.Flags().Int("batch-num", 0, "Batch number to process")
	_ = workerProcessCmd.MarkFlagRequired("attempt-id")
	_ = workerProcessCmd.MarkFlagRequired("cc-pair-id")
	_ = workerProcessCmd.MarkFlagRequired("search-settings-id")

	workerCmd.AddCommand(workerFetchCmd)
	workerCmd.AddCommand(workerProcessCmd)
}

func runWorkerFetch(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	tenant, _ := cmd.Flags().GetString("tenant")
	attemptID, _ := cmd.Flags().GetInt64("attempt-id")
	taskID, _ := cmd.Flags().GetString("task-id")
	docsPerBatch, _ := cmd.Flags().GetInt("docs-per-batch")
	batches, _ := cmd.Flags().GetInt("batches")

	dbs, err := openDatabases(dataDir, tenant)
	if err != nil {
		return fmt.Errorf("open databases: %w", err)
	}
	defer dbs.Close()

	batchStore := processing.NewKVBatchStore(dbs.KV, tenant)
	processor := processing.New(dbs.Store, dbs.Fences, dbs.Contexts, dbs.KV, batchStore, processing.PassthroughPipeline{})
	fetcher := fetchworker.New(dbs.Store, dbs.Fences, dbs.Contexts, batchStore, processor, fetchworker.DefaultConfig())

	conn := fetchworker.SyntheticConnector{DocsPerBatch: docsPerBatch, BatchesPerRun: batches}
	if err := fetcher.Run(context.Background(), taskID, attemptID, conn); err != nil {
		fmt.Fprintf(os.Stderr, "fetch failed: %v\n", err)
		var validationErr *fetchworker.ConnectorValidationError
		if errors.As(err, &validationErr) {
			os.Exit(jobclient.ExitValidationError)
		}
		os.Exit(jobclient.ExitConnectorExceptioned)
	}
	return nil
}

func runWorkerProcess(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	tenant, _ := cmd.Flags().GetString("tenant")
	attemptID, _ := cmd.Flags().GetInt64("attempt-id")
	ccPairID, _ := cmd.Flags().GetInt64("cc-pair-id")
	searchSettingsID, _ := cmd.Flags().GetInt64("search-settings-id")
	batchNum, _ := cmd.Flags().GetInt("batch-num")

	dbs, err := openDatabases(dataDir, tenant)
	if err != nil {
		return fmt.Errorf("open databases: %w", err)
	}
	defer dbs.Close()

	batchStore := processing.NewKVBatchStore(dbs.KV, tenant)
	processor := processing.New(dbs.Store, dbs.Fences, dbs.Contexts, dbs.KV, batchStore, processing.PassthroughPipeline{})

	task := queue.Task{
		ID:               fmt.Sprintf("manual-%d-%d", attemptID, batchNum),
		Kind:             queue.KindProcess,
		CCPairID:         ccPairID,
		SearchSettingsID: searchSettingsID,
		AttemptID:        attemptID,
		BatchNum:         batchNum,
	}
	if err := processor.ProcessBatch(context.Background(), task); err != nil {
		fmt.Fprintf(os.Stderr, "process failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Batch processed")
	return nil
}
