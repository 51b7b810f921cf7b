package monitor

import (
	"fmt"
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/jobclient"
	"github.com/nimbusdata/indexctl/pkg/log"
	"github.com/nimbusdata/indexctl/pkg/metrics"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/rs/zerolog"
)

// CrashGrace is how long the double-check pass waits before re-reading
// heartbeats it first observed as expired.
const CrashGrace = 5 * time.Second

// Monitor runs the crash-detection reconciliation cycle.
type Monitor struct {
	store      store.Store
	fences     *fence.Store
	crashGrace time.Duration
	logger     zerolog.Logger
	stopCh     chan struct{}
}

// New creates a Monitor.
func New(st store.Store, fences *fence.Store) *Monitor {
	return &Monitor{
		store:      st,
		fences:     fences,
		crashGrace: CrashGrace,
		logger:     log.WithComponent("monitor"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the reconciliation loop, running a cycle every interval.
func (m *Monitor) Start(interval time.Duration) {
	go m.run(interval)
}

// Stop halts the reconciliation loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Cycle(); err != nil {
				m.logger.Error().Err(err).Msg("monitor cycle failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

// Cycle runs one reconciliation pass over every active fence.
func (m *Monitor) Cycle() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.MonitorCycleDuration)
		metrics.MonitorCyclesTotal.Inc()
	}()

	namespaces, err := m.fences.ScanActiveFences()
	if err != nil {
		return fmt.Errorf("monitor: scan active fences: %w", err)
	}

	for _, ns := range namespaces {
		if err := m.checkFence(ns); err != nil {
			m.logger.Error().Err(err).Str("namespace", ns.String()).Msg("check fence failed")
		}
	}
	return nil
}

// checkFence finalizes ns if its completion marker has been written, or
// confirms and finalizes a watchdog crash via the double-check pattern.
func (m *Monitor) checkFence(ns fence.Namespace) error {
	if code, found, err := m.fences.GetCompletion(ns); err != nil {
		return err
	} else if found {
		return m.finalize(ns, code)
	}

	dead, err := m.bothHeartbeatsExpired(ns)
	if err != nil {
		return err
	}
	if !dead {
		return nil
	}

	time.Sleep(m.crashGrace)

	if code, found, err := m.fences.GetCompletion(ns); err != nil {
		return err
	} else if found {
		return m.finalize(ns, code)
	}

	dead, err = m.bothHeartbeatsExpired(ns)
	if err != nil {
		return err
	}
	if !dead {
		return nil
	}

	metrics.MonitorCrashesDetectedTotal.Inc()
	return m.finalize(ns, jobclient.ExitUndefined)
}

func (m *Monitor) bothHeartbeatsExpired(ns fence.Namespace) (bool, error) {
	watchdogTTL, err := m.fences.WatchdogActiveTTL(ns)
	if err != nil {
		return false, err
	}
	generatorTTL, err := m.fences.ActiveTTL(ns)
	if err != nil {
		return false, err
	}
	return watchdogTTL <= 0 && generatorTTL <= 0, nil
}

// finalize applies code's classified outcome to the fence's IndexAttempt,
// updates the owning cc-pair's status, and resets the fence.
func (m *Monitor) finalize(ns fence.Namespace, code int) error {
	payload, found, err := m.fences.GetPayload(ns)
	if err != nil {
		return err
	}
	if !found {
		return m.fences.Deregister(ns)
	}

	attempt, err := m.store.GetIndexAttempt(payload.IndexAttemptID)
	if err != nil {
		return fmt.Errorf("get index attempt %d: %w", payload.IndexAttemptID, err)
	}

	switch jobclient.ClassifyExitCode(code) {
	case jobclient.ExitOK:
		attempt.Status = types.IndexAttemptSuccess
	case jobclient.ExitSIGKILL:
		attempt.Status = types.IndexAttemptCanceled
		attempt.FailureReason = "terminated by external signal or activity timeout"
	case jobclient.ExitUndefined:
		attempt.Status = types.IndexAttemptFailed
		attempt.FailureReason = "watchdog crashed without a completion marker"
	default:
		attempt.Status = types.IndexAttemptFailed
		attempt.FailureReason = fmt.Sprintf("worker exited with code %d", code)
	}
	if err := m.store.UpdateIndexAttempt(attempt); err != nil {
		return fmt.Errorf("update index attempt: %w", err)
	}

	if err := m.promoteCCPair(attempt); err != nil {
		return err
	}

	log.WithAttempt(attempt.ID).Info().
		Str("status", string(attempt.Status)).
		Msg("finalized index attempt")

	if err := m.fences.Reset(ns); err != nil {
		return fmt.Errorf("reset fence: %w", err)
	}
	metrics.MonitorFencesResetTotal.Inc()
	return nil
}

func (m *Monitor) promoteCCPair(attempt *types.IndexAttempt) error {
	cc, err := m.store.GetCCPair(attempt.CCPairID)
	if err != nil {
		return fmt.Errorf("get cc pair %d: %w", attempt.CCPairID, err)
	}

	if attempt.Status == types.IndexAttemptSuccess || attempt.Status == types.IndexAttemptPartialSuccess {
		cc.InRepeatedErrorState = false
		cc.LastSuccessfulIndexAt = time.Now()
		if cc.Status == types.CCPairStatusInitialIndexing {
			cc.Status = types.CCPairStatusActive
		}
	} else {
		cc.InRepeatedErrorState = true
	}

	return m.store.UpdateCCPair(cc)
}
