package processing

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/lease"
	"github.com/nimbusdata/indexctl/pkg/log"
	"github.com/nimbusdata/indexctl/pkg/metrics"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/rs/zerolog"
)

// ExitProcessingFailure is the completion-marker code a doc-processing
// task writes on an uncaught pipeline error or a failure-threshold abort,
// unblocking the watchdog without waiting for its own heartbeat to
// expire.
const ExitProcessingFailure = 500

const (
	batchLockTTL  = 5 * time.Minute
	stateLockTTL  = 30 * time.Second
	stateLockPoll = 25 * time.Millisecond
)

// FailureThresholdCount and FailureThresholdRatio gate the whole-attempt
// abort check in ProcessBatch: more than FailureThresholdCount failures
// and a failure ratio above FailureThresholdRatio aborts the attempt.
const (
	FailureThresholdCount = 3
	FailureThresholdRatio = 0.10
)

// Document is the minimal shape ProcessBatch's pipeline operates over;
// the document body and metadata are an external collaborator's concern.
type Document struct {
	ID string
}

// Failure records one document's processing failure.
type Failure struct {
	DocumentID string
	Reason     string
}

// PipelineResult is what running the indexing pipeline over one batch's
// documents returns.
type PipelineResult struct {
	NewDocs     int64
	TotalDocs   int64
	TotalChunks int64
	Failures    []Failure
}

// Pipeline runs the embedding/indexing pipeline over docs. renew should be
// called periodically by a long-running implementation to keep the
// per-batch lock alive; ProcessBatch passes one backed by the batch lock.
type Pipeline interface {
	Run(ctx context.Context, docs []Document, renew func() error) (PipelineResult, error)
}

// BatchLoader retrieves and reclaims the documents belonging to a batch.
// found is false if the batch has already been cleaned up or never
// existed. Delete is idempotent: deleting an absent batch is a no-op.
type BatchLoader interface {
	Load(ctx context.Context, ns fence.Namespace, batchNum int) (docs []Document, found bool, err error)
	Delete(ctx context.Context, ns fence.Namespace, batchNum int) error
}

// DeleteBatchesThrough removes every stored batch payload for ns from
// batch 0 through upTo inclusive. Batches are fetched and stored in
// strictly increasing order, so this always covers every payload an
// attempt could have left behind. Individual delete failures are logged,
// not returned — an already-reclaimed or never-written batch key is not a
// condition worth failing finalize/abort/cleanup over.
func DeleteBatchesThrough(ctx context.Context, loader BatchLoader, ns fence.Namespace, upTo int) {
	logger := log.WithComponent("processing")
	for n := 0; n <= upTo; n++ {
		if err := loader.Delete(ctx, ns, n); err != nil {
			logger.Warn().Err(err).Str("namespace", ns.String()).Int("batch_num", n).Msg("delete batch payload failed")
		}
	}
}

// Processor runs ProcessBatch, the per-batch doc-processing task.
type Processor struct {
	store    store.Store
	fences   *fence.Store
	contexts *ContextStore
	locks    kv.Store
	loader   BatchLoader
	pipeline Pipeline
	logger   zerolog.Logger
}

// New creates a Processor.
func New(st store.Store, fences *fence.Store, contexts *ContextStore, locks kv.Store, loader BatchLoader, pipeline Pipeline) *Processor {
	return &Processor{
		store:    st,
		fences:   fences,
		contexts: contexts,
		locks:    locks,
		loader:   loader,
		pipeline: pipeline,
		logger:   log.WithComponent("processing"),
	}
}

// ProcessBatch runs one doc-processing task to completion. A nil error
// means the task ran to its natural conclusion (skip,
// duplicate-suppressed, processed, or processed-and-finalized). When the
// failure threshold is exceeded or the pipeline returns an error, the
// whole attempt is aborted and, unless reading or updating the attempt
// row fails first, the completion marker is written to unblock the
// watchdog before the error is returned. Other errors (loading the
// batch, taking the batch or state lock, the bookkeeping contexts,
// recording per-document errors, reading or updating the attempt) are
// returned without writing the completion marker.
func (p *Processor) ProcessBatch(ctx context.Context, task queue.Task) error {
	ns := fence.Namespace{CCPairID: task.CCPairID, SearchSettingsID: task.SearchSettingsID}
	logger := log.WithAttempt(task.AttemptID).With().Int("batch_num", task.BatchNum).Logger()

	timer := metrics.NewTimer()
	result := "processed"
	defer func() {
		timer.ObserveDuration(metrics.BatchProcessingDuration)
		metrics.BatchesProcessedTotal.WithLabelValues(result).Inc()
	}()

	docs, found, err := p.loader.Load(ctx, ns, task.BatchNum)
	if err != nil {
		result = "error"
		return fmt.Errorf("processing: load batch: %w", err)
	}
	if !found {
		result = "skipped"
		logger.Debug().Msg("batch not found, skipping")
		return nil
	}

	batchLock := lease.New(p.locks, fmt.Sprintf("batch:%s:%d", ns, task.BatchNum), batchLockTTL)
	acquired, err := batchLock.Acquire()
	if err != nil {
		result = "error"
		return fmt.Errorf("processing: acquire batch lock: %w", err)
	}
	if !acquired {
		result = "duplicate"
		logger.Warn().Msg("batch already being processed, suppressing duplicate")
		return nil
	}
	defer func() {
		if err := batchLock.Release(); err != nil {
			logger.Warn().Err(err).Msg("release batch lock failed")
		}
	}()

	pipelineResult, runErr := p.pipeline.Run(ctx, docs, batchLock.Reacquire)
	if runErr != nil {
		result = "error"
		metrics.BatchFailuresTotal.Inc()
		return p.abortOnError(ctx, ns, task.AttemptID, task.BatchNum, runErr, "")
	}

	// The per-attempt state lock only guards the read-modify-write of
	// DocIndexingContext and the completion check against it: batches of
	// one attempt still serialize on that brief section, but the pipeline
	// run above — the expensive part — runs unlocked, so concurrent
	// batches of the same attempt can embed/index in parallel.
	indexing, extraction, err := p.updateIndexingContext(ctx, ns, pipelineResult)
	if err != nil {
		result = "error"
		return err
	}

	if err := p.resolveAndRecordErrors(task.AttemptID, task.CCPairID, docs, pipelineResult.Failures); err != nil {
		result = "error"
		return fmt.Errorf("processing: record errors: %w", err)
	}

	if failureThresholdExceeded(indexing) {
		result = "aborted"
		metrics.AttemptsFailureThresholdTotal.Inc()
		reason := "failure threshold exceeded"
		if len(pipelineResult.Failures) > 0 {
			last := pipelineResult.Failures[len(pipelineResult.Failures)-1]
			reason = fmt.Sprintf("document %s: %s", last.DocumentID, last.Reason)
		}
		return p.abortOnError(ctx, ns, task.AttemptID, task.BatchNum, fmt.Errorf("failure threshold exceeded"), reason)
	}

	attempt, err := p.store.GetIndexAttempt(task.AttemptID)
	if err != nil {
		result = "error"
		return fmt.Errorf("processing: get attempt: %w", err)
	}
	attempt.TotalDocsIndexed = pipelineResult.TotalDocs
	attempt.NewDocsIndexed += pipelineResult.NewDocs
	if err := p.store.UpdateIndexAttempt(attempt); err != nil {
		result = "error"
		return fmt.Errorf("processing: update attempt: %w", err)
	}

	if indexing.Complete(&extraction) {
		result = "finalized"
		return p.finalize(ctx, ns, attempt, indexing, task.BatchNum)
	}
	return nil
}

// updateIndexingContext acquires the per-attempt state lock just for the
// increment-and-completion-check critical section: load DocIndexingContext,
// fold this batch's counters into it, persist it, then read
// DocExtractionContext to evaluate the completion check against the same
// lock hold. Everything else ProcessBatch does runs outside this lock.
func (p *Processor) updateIndexingContext(ctx context.Context, ns fence.Namespace, pipelineResult PipelineResult) (types.DocIndexingContext, types.DocExtractionContext, error) {
	logger := log.WithComponent("processing")
	stateLock := lease.New(p.locks, "attempt_state:"+ns.String(), stateLockTTL)
	acquiredState, err := stateLock.AcquireWait(ctx, stateLockPoll)
	if err != nil {
		return types.DocIndexingContext{}, types.DocExtractionContext{}, fmt.Errorf("processing: acquire state lock: %w", err)
	}
	if !acquiredState {
		return types.DocIndexingContext{}, types.DocExtractionContext{}, fmt.Errorf("processing: timed out acquiring state lock for %s", ns)
	}
	defer func() {
		if err := stateLock.Release(); err != nil {
			logger.Warn().Err(err).Msg("release state lock failed")
		}
	}()

	indexing, err := p.contexts.GetIndexingContext(ns)
	if err != nil {
		return indexing, types.DocExtractionContext{}, fmt.Errorf("processing: get indexing context: %w", err)
	}
	indexing.BatchesDone++
	indexing.TotalFailures += len(pipelineResult.Failures)
	indexing.NetDocChange += pipelineResult.NewDocs
	indexing.TotalChunks += pipelineResult.TotalChunks
	if err := p.contexts.PutIndexingContext(ns, indexing); err != nil {
		return indexing, types.DocExtractionContext{}, fmt.Errorf("processing: put indexing context: %w", err)
	}

	extraction, err := p.contexts.GetExtractionContext(ns)
	if err != nil {
		return indexing, extraction, fmt.Errorf("processing: get extraction context: %w", err)
	}
	return indexing, extraction, nil
}

// failureThresholdExceeded implements the batch-abort condition. The
// ratio is computed against documents actually touched by
// processing (successes plus failures) since the pipeline does not
// separately report an attempt-wide document total.
func failureThresholdExceeded(indexing types.DocIndexingContext) bool {
	if indexing.TotalFailures <= FailureThresholdCount {
		return false
	}
	touched := indexing.NetDocChange + int64(indexing.TotalFailures)
	if touched <= 0 {
		return true
	}
	return float64(indexing.TotalFailures) > FailureThresholdRatio*float64(touched)
}

func (p *Processor) resolveAndRecordErrors(attemptID, ccPairID int64, docs []Document, failures []Failure) error {
	failedReasons := make(map[string]string, len(failures))
	for _, f := range failures {
		failedReasons[f.DocumentID] = f.Reason
	}

	inBatch := make(map[string]bool, len(docs))
	for _, d := range docs {
		inBatch[d.ID] = true
	}

	unresolved, err := p.store.ListUnresolvedErrors(attemptID)
	if err != nil {
		return fmt.Errorf("list unresolved errors: %w", err)
	}
	for _, e := range unresolved {
		if inBatch[e.DocumentID] {
			if _, stillFailing := failedReasons[e.DocumentID]; !stillFailing {
				if err := p.store.ResolveIndexAttemptError(e.ID); err != nil {
					return fmt.Errorf("resolve error %d: %w", e.ID, err)
				}
			}
		}
	}

	for _, f := range failures {
		err := p.store.CreateIndexAttemptError(&types.IndexAttemptError{
			AttemptID:  attemptID,
			CCPairID:   ccPairID,
			DocumentID: f.DocumentID,
			Failure:    f.Reason,
		})
		if err != nil {
			return fmt.Errorf("create attempt error: %w", err)
		}
	}
	return nil
}

// abortOnError marks attemptID FAILED, writes the unblocking completion
// marker, cleans up every batch payload the attempt could have written,
// and resets ns's fence: on any uncaught pipeline error the completion
// marker is set to the failure code so the watchdog is unblocked without
// waiting on its heartbeat, then the error propagates. lastBatch is the
// highest batch number this attempt is known to have stored; batches are
// fetched and stored in strictly increasing order, so 0..lastBatch covers
// everything left to clean up.
func (p *Processor) abortOnError(ctx context.Context, ns fence.Namespace, attemptID int64, lastBatch int, cause error, reason string) error {
	if reason == "" {
		reason = cause.Error()
	}

	attempt, err := p.store.GetIndexAttempt(attemptID)
	if err != nil {
		return fmt.Errorf("processing: abort: get attempt: %w", err)
	}
	attempt.Status = types.IndexAttemptFailed
	attempt.FailureReason = truncate(reason, 1024)
	if err := p.store.UpdateIndexAttempt(attempt); err != nil {
		return fmt.Errorf("processing: abort: update attempt: %w", err)
	}

	DeleteBatchesThrough(ctx, p.loader, ns, lastBatch)
	if err := p.contexts.Clear(ns); err != nil {
		p.logger.Warn().Err(err).Str("namespace", ns.String()).Msg("clear contexts on abort failed")
	}
	if _, err := p.fences.SetCompletion(ns, ExitProcessingFailure); err != nil {
		p.logger.Warn().Err(err).Msg("set completion marker on abort failed")
	}
	if err := p.fences.Reset(ns); err != nil {
		p.logger.Warn().Err(err).Msg("reset fence on abort failed")
	}

	return fmt.Errorf("processing: attempt %d aborted: %w", attemptID, cause)
}

// finalize marks attempt SUCCESS or PARTIAL_SUCCESS, clears the cc-pair's
// indexing trigger, cleans up every batch payload the attempt wrote (0
// through lastBatch, its final batch number), and resets the fence.
func (p *Processor) finalize(ctx context.Context, ns fence.Namespace, attempt *types.IndexAttempt, indexing types.DocIndexingContext, lastBatch int) error {
	if indexing.TotalFailures == 0 {
		attempt.Status = types.IndexAttemptSuccess
	} else {
		attempt.Status = types.IndexAttemptPartialSuccess
	}
	if err := p.store.UpdateIndexAttempt(attempt); err != nil {
		return fmt.Errorf("processing: finalize: update attempt: %w", err)
	}

	cc, err := p.store.GetCCPair(attempt.CCPairID)
	if err != nil {
		return fmt.Errorf("processing: finalize: get cc pair: %w", err)
	}
	cc.IndexingTrigger = types.IndexingTriggerNone
	if err := p.store.UpdateCCPair(cc); err != nil {
		return fmt.Errorf("processing: finalize: update cc pair: %w", err)
	}

	DeleteBatchesThrough(ctx, p.loader, ns, lastBatch)
	if err := p.contexts.Clear(ns); err != nil {
		p.logger.Warn().Err(err).Str("namespace", ns.String()).Msg("clear contexts on finalize failed")
	}
	if err := p.fences.Reset(ns); err != nil {
		return fmt.Errorf("processing: finalize: reset fence: %w", err)
	}

	log.WithAttempt(attempt.ID).Info().Str("status", string(attempt.Status)).Msg("finalized index attempt from batch processing")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
