/*
Package fetchworker implements the reference C5 child process: the
program watchdog.Supervise spawns as "worker fetch --attempt-id ...
--task-id ...". It owns the connector heartbeat (connector_active),
the external-termination check, and the progress counter; the actual
document retrieval is a pluggable Connector, mirroring the same
external-collaborator seam pkg/processing draws around its embedding
pipeline.

The reference Connector, SyntheticConnector, synthesizes a fixed number of
documents per batch; a real deployment wires a connector per source
type instead.
*/
package fetchworker

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/log"
	"github.com/nimbusdata/indexctl/pkg/processing"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/rs/zerolog"
)

// Connector produces the documents of one batch. Run calls it with
// increasing batchNum starting at 0; isLast marks the final batch (its
// docs are still returned alongside it).
type Connector interface {
	FetchBatch(ctx context.Context, batchNum int) (docs []processing.Document, isLast bool, err error)
}

// ConnectorValidationError signals that a Connector rejected its own
// credentials or configuration rather than hitting a transient failure.
// A Connector implementation returns this (wrapping the underlying cause)
// from FetchBatch to have the fetch entrypoint exit 247 instead of the
// generic connector-exceptioned 255, so the watchdog's classification can
// tell a bad connector setup apart from every other uncaught exception.
type ConnectorValidationError struct {
	Cause error
}

func (e *ConnectorValidationError) Error() string {
	return fmt.Sprintf("connector validation failed: %s", e.Cause)
}

func (e *ConnectorValidationError) Unwrap() error {
	return e.Cause
}

// Config carries Run's tunables.
type Config struct {
	HeartbeatTTL time.Duration
	PollInterval time.Duration
	MaxBatches   int
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		HeartbeatTTL: 15 * time.Second,
		PollInterval: 5 * time.Second,
		MaxBatches:   10000,
	}
}

// Fetcher drives one attempt's document fetch loop.
type Fetcher struct {
	store     store.Store
	fences    *fence.Store
	contexts  *processing.ContextStore
	batches   *processing.KVBatchStore
	processor *processing.Processor
	cfg       Config
	logger    zerolog.Logger
}

// New creates a Fetcher. processor is invoked synchronously once each
// batch is written, standing in for the doc_processing_task dispatch a
// deployment with an externalized processing queue would perform
// instead.
func New(st store.Store, fences *fence.Store, contexts *processing.ContextStore, batches *processing.KVBatchStore, processor *processing.Processor, cfg Config) *Fetcher {
	return &Fetcher{
		store:     st,
		fences:    fences,
		contexts:  contexts,
		batches:   batches,
		processor: processor,
		cfg:       cfg,
		logger:    log.WithComponent("fetchworker"),
	}
}

// Run executes the full fetch loop for taskID/attemptID against conn,
// returning nil on a clean finish. The caller (cmd/indexctl's worker
// fetch entrypoint) maps the returned error, if any, to a process exit
// code the watchdog's classification understands.
func (f *Fetcher) Run(ctx context.Context, taskID string, attemptID int64, conn Connector) error {
	attempt, err := f.store.GetIndexAttempt(attemptID)
	if err != nil {
		return fmt.Errorf("fetchworker: load attempt: %w", err)
	}
	ns := fence.Namespace{CCPairID: attempt.CCPairID, SearchSettingsID: attempt.SearchSettingsID}
	logger := log.WithAttempt(attemptID).With().Str("task_id", taskID).Logger()

	if err := f.fences.SetConnectorActive(ns, f.cfg.HeartbeatTTL); err != nil {
		return fmt.Errorf("fetchworker: set connector active: %w", err)
	}

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go f.renewHeartbeat(ns, stopHeartbeat)

	for batchNum := 0; batchNum < f.cfg.MaxBatches; batchNum++ {
		if terminating, err := f.fences.Terminating(ns, taskID); err == nil && terminating {
			logger.Warn().Msg("external termination observed mid-fetch, stopping")
			return fmt.Errorf("fetchworker: terminated")
		}

		docs, isLast, err := conn.FetchBatch(ctx, batchNum)
		if err != nil {
			return fmt.Errorf("fetchworker: fetch batch %d: %w", batchNum, err)
		}

		if err := f.batches.Put(ns, batchNum, docs); err != nil {
			return fmt.Errorf("fetchworker: store batch %d: %w", batchNum, err)
		}
		if _, err := f.fences.IncrementProgress(ns, int64(len(docs))); err != nil {
			return fmt.Errorf("fetchworker: increment progress: %w", err)
		}

		// The extraction context must be written before the final batch is
		// handed to the processor, so its completion check can observe the
		// total batch count in the same pass that finishes BatchesDone.
		if isLast {
			total := batchNum + 1
			if err := f.contexts.PutExtractionContext(ns, types.DocExtractionContext{
				DocExtractionCompleteBatchNum: &total,
			}); err != nil {
				return fmt.Errorf("fetchworker: set extraction context: %w", err)
			}
		}

		logger.Info().Int("batch_num", batchNum).Int("doc_count", len(docs)).Msg("batch fetched")

		processTask := queue.Task{
			ID:               fmt.Sprintf("%s-batch-%d", taskID, batchNum),
			Kind:             queue.KindProcess,
			CCPairID:         ns.CCPairID,
			SearchSettingsID: ns.SearchSettingsID,
			AttemptID:        attemptID,
			BatchNum:         batchNum,
		}
		if err := f.processor.ProcessBatch(ctx, processTask); err != nil {
			logger.Error().Err(err).Int("batch_num", batchNum).Msg("batch processing failed")
		}

		if isLast {
			logger.Info().Int("total_batches", batchNum+1).Msg("fetch complete")
			return nil
		}
	}

	return fmt.Errorf("fetchworker: exceeded max batch count %d without completing", f.cfg.MaxBatches)
}

func (f *Fetcher) renewHeartbeat(ns fence.Namespace, stop <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := f.fences.SetConnectorActive(ns, f.cfg.HeartbeatTTL); err != nil {
				f.logger.Warn().Err(err).Msg("renew connector heartbeat failed")
			}
		case <-stop:
			return
		}
	}
}

// SyntheticConnector is the reference Connector: it produces a fixed
// number of synthetic documents per batch for batchesPerRun batches,
// then reports done. Real deployments replace this with a connector
// per source type (web crawl, object storage, SaaS API, ...).
type SyntheticConnector struct {
	DocsPerBatch  int
	BatchesPerRun int
}

// FetchBatch implements Connector.
func (c SyntheticConnector) FetchBatch(ctx context.Context, batchNum int) ([]processing.Document, bool, error) {
	docs := make([]processing.Document, c.DocsPerBatch)
	for i := range docs {
		docs[i] = processing.Document{ID: fmt.Sprintf("batch-%d-doc-%d", batchNum, i)}
	}
	isLast := batchNum >= c.BatchesPerRun-1
	return docs, isLast, nil
}
