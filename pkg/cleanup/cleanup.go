/*
Package cleanup implements the checkpoint-cleanup sweep: a periodic pass
that finds index attempts whose fence has disappeared (the watchdog and
monitor have both long since finished with them) but whose batch
checkpoints and bookkeeping contexts are still sitting in the KV
substrate, and clears them out.

It runs the same ticker-plus-stop-channel loop pkg/controller's beat and
pkg/monitor's reconciliation cycle use, timed and counted through
pkg/metrics.
*/
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/log"
	"github.com/nimbusdata/indexctl/pkg/metrics"
	"github.com/nimbusdata/indexctl/pkg/processing"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/rs/zerolog"
)

// Sweeper periodically reclaims orphaned checkpoint state.
type Sweeper struct {
	store    store.Store
	fences   *fence.Store
	contexts *processing.ContextStore
	loader   processing.BatchLoader
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// New creates a Sweeper.
func New(st store.Store, fences *fence.Store, contexts *processing.ContextStore, loader processing.BatchLoader) *Sweeper {
	return &Sweeper{
		store:    st,
		fences:   fences,
		contexts: contexts,
		loader:   loader,
		logger:   log.WithComponent("cleanup"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop, ticking every interval.
func (s *Sweeper) Start(interval time.Duration) {
	go s.run(interval)
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			n, err := s.Sweep(context.Background())
			timer.ObserveDuration(metrics.CleanupCycleDuration)
			if err != nil {
				s.logger.Error().Err(err).Msg("checkpoint cleanup sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int("reclaimed", n).Msg("checkpoint cleanup sweep reclaimed orphaned attempts")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one checkpoint-cleanup pass: every non-terminal attempt whose
// fence no longer exists is either stale bookkeeping left over from an
// attempt that already finalized, or an attempt that was abandoned before
// a fence was ever created. Either way, its processing contexts and
// checkpoint batches have no owner left to consume them, and the beat
// tick's own per-tick validation pass (pkg/controller's
// failUnfencedAttempts) may not have reached it yet, so this sweep marks
// it FAILED directly rather than relying solely on the next tick.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	attempts, err := s.store.ListNonTerminalAttempts()
	if err != nil {
		return 0, fmt.Errorf("cleanup: list non-terminal attempts: %w", err)
	}

	reclaimed := 0
	for _, attempt := range attempts {
		ns := fence.Namespace{CCPairID: attempt.CCPairID, SearchSettingsID: attempt.SearchSettingsID}

		exists, err := s.fences.FenceExists(ns)
		if err != nil {
			return reclaimed, fmt.Errorf("cleanup: check fence for attempt %d: %w", attempt.ID, err)
		}
		if exists {
			continue
		}

		lastBatch, err := s.lastKnownBatch(ns)
		if err != nil {
			return reclaimed, fmt.Errorf("cleanup: read batch bookkeeping for attempt %d: %w", attempt.ID, err)
		}
		if lastBatch >= 0 {
			processing.DeleteBatchesThrough(ctx, s.loader, ns, lastBatch)
		}
		if err := s.contexts.Clear(ns); err != nil {
			return reclaimed, fmt.Errorf("cleanup: clear contexts for attempt %d: %w", attempt.ID, err)
		}

		attempt.Status = types.IndexAttemptFailed
		attempt.FailureReason = "unfenced attempt"
		if err := s.store.UpdateIndexAttempt(attempt); err != nil {
			return reclaimed, fmt.Errorf("cleanup: mark attempt %d failed: %w", attempt.ID, err)
		}
		metrics.CleanupReclaimedTotal.Inc()
		reclaimed++
	}
	return reclaimed, nil
}

// lastKnownBatch returns the highest batch number ns could have stored a
// payload for, or -1 if neither bookkeeping context has recorded any
// batch activity yet. Batches are numbered in strictly increasing order
// starting at 0, so the higher of "batches processed so far" and "total
// batches the fetch side committed to" is always a safe upper bound.
func (s *Sweeper) lastKnownBatch(ns fence.Namespace) (int, error) {
	indexing, err := s.contexts.GetIndexingContext(ns)
	if err != nil {
		return -1, err
	}
	extraction, err := s.contexts.GetExtractionContext(ns)
	if err != nil {
		return -1, err
	}

	last := indexing.BatchesDone - 1
	if extraction.DocExtractionCompleteBatchNum != nil && *extraction.DocExtractionCompleteBatchNum-1 > last {
		last = *extraction.DocExtractionCompleteBatchNum - 1
	}
	return last, nil
}
