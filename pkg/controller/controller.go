package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusdata/indexctl/pkg/clusterlock"
	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/log"
	"github.com/nimbusdata/indexctl/pkg/metrics"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/rs/zerolog"
)

// FenceTTL is the expiry kickOff gives a newly created fence key. It
// holds only until SetCeleryTaskID rewrites the payload right after the
// fetch task is enqueued; from then on the fence key has no expiry and
// stays until fence.Store.Reset removes it. Heartbeats do not renew it.
const FenceTTL = 24 * time.Hour

// Controller runs the beat tick.
type Controller struct {
	store  store.Store
	fences *fence.Store
	queue  queue.Broker
	lock   *clusterlock.Lock
	logger zerolog.Logger
	stopCh chan struct{}
}

// New creates a Controller.
func New(st store.Store, fences *fence.Store, q queue.Broker, lock *clusterlock.Lock) *Controller {
	return &Controller{
		store:  st,
		fences: fences,
		queue:  q,
		lock:   lock,
		logger: log.WithComponent("controller"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the beat loop, ticking every interval.
func (c *Controller) Start(ctx context.Context, interval time.Duration) {
	go c.run(ctx, interval)
}

// Stop halts the beat loop.
func (c *Controller) Stop() {
	close(c.stopCh)
}

func (c *Controller) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tickOnce(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) tickOnce(ctx context.Context) {
	timer := metrics.NewTimer()
	ran, err := c.lock.WithLeadership(func() error {
		created, err := c.Tick(ctx)
		if err != nil {
			return err
		}
		if created > 0 {
			c.logger.Info().Int("attempts_created", created).Msg("beat tick created attempts")
		}
		return nil
	})
	if !ran {
		metrics.BeatLockContentionTotal.Inc()
		return
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("beat tick failed")
	}
	metrics.BeatCyclesTotal.Inc()
	timer.ObserveDuration(metrics.BeatDuration)
}

// Tick runs one beat cycle: reconcile the active-fences membership set,
// fail any non-terminal attempt whose fence has already disappeared, then
// kick off a new attempt for every (cc_pair, search_settings) pair that is
// due for indexing and does not already have a live fence. It returns the
// number of attempts created.
func (c *Controller) Tick(ctx context.Context) (int, error) {
	if _, err := c.fences.ReconcileActiveFences(); err != nil {
		return 0, fmt.Errorf("controller: reconcile active fences: %w", err)
	}

	failed, err := c.failUnfencedAttempts()
	if err != nil {
		return 0, fmt.Errorf("controller: fail unfenced attempts: %w", err)
	}
	if failed > 0 {
		c.logger.Info().Int("attempts_failed", failed).Msg("beat tick failed unfenced attempts")
	}

	ccPairs, err := c.store.ListCCPairs()
	if err != nil {
		return 0, fmt.Errorf("controller: list cc pairs: %w", err)
	}

	created := 0
	for _, cc := range ccPairs {
		if !shouldIndex(cc) {
			continue
		}

		settingsList, err := c.store.ListSearchSettingsForCCPair(cc.ID)
		if err != nil {
			c.logger.Error().Err(err).Int64("cc_pair_id", cc.ID).Msg("list search settings failed")
			continue
		}

		for _, ss := range settingsList {
			if !ss.IsCurrent && !ss.BackgroundReindex {
				continue
			}
			ok, err := c.kickOff(ctx, cc, ss)
			if err != nil {
				c.logger.Error().Err(err).Int64("cc_pair_id", cc.ID).Int64("search_settings_id", ss.ID).Msg("kick off failed")
				continue
			}
			if ok {
				created++
			}
		}
	}
	return created, nil
}

// failUnfencedAttempts is the beat tick's validation pass: a non-terminal
// attempt with no fence left has no watchdog, processor, or monitor still
// working it — either it never got as far as kickOff creating one, or
// everything downstream of it already ran to completion and reset it out
// from under a status update that never landed. Either way it cannot make
// further progress, so the next tick fails it outright rather than
// leaving it to retry silently forever.
func (c *Controller) failUnfencedAttempts() (int, error) {
	attempts, err := c.store.ListNonTerminalAttempts()
	if err != nil {
		return 0, fmt.Errorf("list non-terminal attempts: %w", err)
	}

	failed := 0
	for _, attempt := range attempts {
		ns := fence.Namespace{CCPairID: attempt.CCPairID, SearchSettingsID: attempt.SearchSettingsID}
		exists, err := c.fences.FenceExists(ns)
		if err != nil {
			c.logger.Error().Err(err).Int64("attempt_id", attempt.ID).Msg("check fence for unfenced-attempt validation failed")
			continue
		}
		if exists {
			continue
		}

		attempt.Status = types.IndexAttemptFailed
		attempt.FailureReason = "unfenced attempt"
		if err := c.store.UpdateIndexAttempt(attempt); err != nil {
			c.logger.Error().Err(err).Int64("attempt_id", attempt.ID).Msg("mark unfenced attempt failed")
			continue
		}
		metrics.AttemptsUnfencedFailedTotal.Inc()
		failed++
	}
	return failed, nil
}

// kickOff creates a new attempt for one (cc_pair, search_settings) pair
// if no fence already exists for it.
func (c *Controller) kickOff(ctx context.Context, cc *types.CCPair, ss *types.SearchSettings) (bool, error) {
	ns := fence.Namespace{CCPairID: cc.ID, SearchSettingsID: ss.ID}

	exists, err := c.fences.FenceExists(ns)
	if err != nil {
		return false, fmt.Errorf("check fence: %w", err)
	}
	if exists {
		return false, nil
	}

	attemptID, err := c.store.CreateIndexAttempt(&types.IndexAttempt{
		CCPairID:         cc.ID,
		SearchSettingsID: ss.ID,
		Status:           types.IndexAttemptNotStarted,
	})
	if err != nil {
		return false, fmt.Errorf("create index attempt: %w", err)
	}

	payload := types.FencePayload{Submitted: time.Now(), IndexAttemptID: attemptID}
	if err := c.fences.SetFence(ns, payload, FenceTTL); err != nil {
		return false, fmt.Errorf("set fence: %w", err)
	}

	task := queue.Task{
		ID:               uuid.NewString(),
		Kind:             queue.KindFetch,
		CCPairID:         cc.ID,
		SearchSettingsID: ss.ID,
		AttemptID:        attemptID,
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		return false, fmt.Errorf("enqueue fetch task: %w", err)
	}
	if err := c.fences.SetCeleryTaskID(ns, task.ID); err != nil {
		return false, fmt.Errorf("set celery task id: %w", err)
	}

	trigger := cc.IndexingTrigger
	metrics.AttemptsCreatedTotal.WithLabelValues(triggerLabel(trigger)).Inc()

	if cc.Status == types.CCPairStatusScheduled {
		cc.Status = types.CCPairStatusInitialIndexing
	}
	cc.IndexingTrigger = types.IndexingTriggerNone
	if err := c.store.UpdateCCPair(cc); err != nil {
		return false, fmt.Errorf("update cc pair: %w", err)
	}

	log.WithCCPair(cc.ID, ss.ID).Info().
		Int64("index_attempt_id", attemptID).
		Str("task_id", task.ID).
		Msg("kicked off index attempt")

	return true, nil
}

// shouldIndex reports whether cc is due for a new attempt: paused and
// deleting cc-pairs never index; an explicit operator trigger or the
// initial scheduled run always does; a cc-pair already active (and not
// stuck in a repeated-error state) is due for continuous reindexing,
// gated only by the per-namespace fence.
func shouldIndex(cc *types.CCPair) bool {
	switch cc.Status {
	case types.CCPairStatusPaused, types.CCPairStatusDeleting:
		return false
	}
	if cc.IndexingTrigger != types.IndexingTriggerNone {
		return true
	}
	if cc.Status == types.CCPairStatusScheduled {
		return true
	}
	if cc.InRepeatedErrorState {
		return false
	}
	return cc.Status == types.CCPairStatusActive || cc.Status == types.CCPairStatusInitialIndexing
}

func triggerLabel(t types.IndexingTrigger) string {
	if t == types.IndexingTriggerNone {
		return "scheduled"
	}
	return string(t)
}
