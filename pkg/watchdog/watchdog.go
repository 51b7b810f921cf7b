package watchdog

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/jobclient"
	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/lease"
	"github.com/nimbusdata/indexctl/pkg/log"
	"github.com/nimbusdata/indexctl/pkg/metrics"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/rs/zerolog"
)

// Defaults for Config.
const (
	SpawnGrace            = 15 * time.Second
	PollInterval          = 5 * time.Second
	MemorySampleInterval  = 60 * time.Second
	HeartbeatTTL          = 15 * time.Second
	GeneratorLockTTL      = time.Hour
	FenceReadinessTimeout = 30 * time.Second
	fenceReadinessPoll    = 500 * time.Millisecond
)

// Config carries the watchdog's tunables so tests can shrink them.
type Config struct {
	SpawnGrace            time.Duration
	PollInterval          time.Duration
	MemorySampleInterval  time.Duration
	HeartbeatTTL          time.Duration
	GeneratorLockTTL      time.Duration
	FenceReadinessTimeout time.Duration
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		SpawnGrace:            SpawnGrace,
		PollInterval:          PollInterval,
		MemorySampleInterval:  MemorySampleInterval,
		HeartbeatTTL:          HeartbeatTTL,
		GeneratorLockTTL:      GeneratorLockTTL,
		FenceReadinessTimeout: FenceReadinessTimeout,
	}
}

// Watchdog supervises one fetch job at a time on behalf of its caller; a
// single instance is reused across many Supervise calls.
type Watchdog struct {
	store  store.Store
	fences *fence.Store
	locks  kv.Store
	cfg    Config
	logger zerolog.Logger
}

// New creates a Watchdog.
func New(st store.Store, fences *fence.Store, locks kv.Store, cfg Config) *Watchdog {
	return &Watchdog{
		store:  st,
		fences: fences,
		locks:  locks,
		cfg:    cfg,
		logger: log.WithComponent("watchdog"),
	}
}

// Supervise runs the full C5 lifecycle for one fetch task: pre-flight,
// fence readiness wait, the generator-lock critical section, spawning
// spec as a child process, and the supervisor poll loop. It always
// returns the exit code it wrote as the fence's completion marker,
// leaving attempt-row finalization to pkg/monitor. A non-nil error means
// the watchdog itself failed (not the child); the completion marker is
// still written when possible so the fence does not hang forever.
func (w *Watchdog) Supervise(ctx context.Context, task queue.Task, spec jobclient.Spec) (int, error) {
	ns := fence.Namespace{CCPairID: task.CCPairID, SearchSettingsID: task.SearchSettingsID}
	logger := log.WithAttempt(task.AttemptID).With().
		Str("task_id", task.ID).
		Str("namespace", ns.String()).
		Logger()

	cc, err := w.store.GetCCPair(task.CCPairID)
	if err != nil {
		return w.complete(ns, jobclient.ExitIndexAttemptMismatch, fmt.Errorf("watchdog: load cc pair: %w", err))
	}
	switch cc.Status {
	case types.CCPairStatusDeleting:
		logger.Warn().Msg("cc pair fenced for deletion, aborting supervision")
		return w.complete(ns, jobclient.ExitBlockedByDeletion, nil)
	case types.CCPairStatusPaused:
		logger.Warn().Msg("cc pair fenced for stop, aborting supervision")
		return w.complete(ns, jobclient.ExitBlockedByStop, nil)
	}

	code, err := w.waitForFenceReady(ctx, ns, task)
	if err != nil {
		return w.complete(ns, jobclient.ExitUndefined, fmt.Errorf("watchdog: fence readiness wait: %w", err))
	}
	if code != 0 {
		logger.Warn().Int("exit_code", code).Msg("fence not ready for supervision")
		return w.complete(ns, code, nil)
	}

	genLock := lease.New(w.locks, "generator_lock:"+ns.String(), w.cfg.GeneratorLockTTL)
	acquired, err := genLock.Acquire()
	if err != nil {
		return w.complete(ns, jobclient.ExitUndefined, fmt.Errorf("watchdog: acquire generator lock: %w", err))
	}
	if !acquired {
		logger.Warn().Msg("generator lock already held, refusing duplicate run")
		return w.complete(ns, jobclient.ExitAlreadyRunning, nil)
	}
	defer func() {
		if err := genLock.Release(); err != nil {
			logger.Warn().Err(err).Msg("release generator lock failed")
		}
	}()

	if err := w.fences.SetStarted(ns, time.Now()); err != nil {
		return w.complete(ns, jobclient.ExitUndefined, fmt.Errorf("watchdog: set started: %w", err))
	}

	attempt, err := w.store.GetIndexAttempt(task.AttemptID)
	if err != nil {
		return w.complete(ns, jobclient.ExitIndexAttemptMismatch, fmt.Errorf("watchdog: load attempt: %w", err))
	}
	attempt.Status = types.IndexAttemptInProgress
	if err := w.store.UpdateIndexAttempt(attempt); err != nil {
		return w.complete(ns, jobclient.ExitUndefined, fmt.Errorf("watchdog: mark attempt in progress: %w", err))
	}

	code, runErr := w.runChild(ctx, ns, task, spec, logger)
	return w.complete(ns, code, runErr)
}

// waitForFenceReady polls until ns's payload carries both an index attempt
// ID matching task and a celery task ID. It
// returns a non-zero exit code (never an error) when readiness cannot be
// reached, so the caller can write that code as the completion marker.
func (w *Watchdog) waitForFenceReady(ctx context.Context, ns fence.Namespace, task queue.Task) (int, error) {
	deadline := time.Now().Add(w.cfg.FenceReadinessTimeout)
	everFound := false

	for {
		payload, found, err := w.fences.GetPayload(ns)
		if err != nil {
			return 0, err
		}
		if found {
			everFound = true
			if payload.IndexAttemptID != task.AttemptID {
				return jobclient.ExitFenceMismatch, nil
			}
			if payload.CeleryTaskID != "" {
				return 0, nil
			}
		}

		if time.Now().After(deadline) {
			if !everFound {
				return jobclient.ExitFenceNotFound, nil
			}
			return jobclient.ExitFenceReadinessTimeout, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(fenceReadinessPoll):
		}
	}
}

// complete writes code as ns's completion marker (best effort; a failure
// to write it is reported alongside cause) and returns it unchanged.
func (w *Watchdog) complete(ns fence.Namespace, code int, cause error) (int, error) {
	if _, err := w.fences.SetCompletion(ns, code); err != nil {
		if cause != nil {
			return code, fmt.Errorf("%w (also failed to set completion marker: %v)", cause, err)
		}
		return code, fmt.Errorf("watchdog: set completion marker: %w", err)
	}
	return code, cause
}

// runChild spawns spec, waits out the spawn grace, and runs the 5-second
// poll loop renewing heartbeats and watching for an external termination
// signal or a stalled connector heartbeat, the supervisor
// loop. It returns the job's classified exit code.
func (w *Watchdog) runChild(ctx context.Context, ns fence.Namespace, task queue.Task, spec jobclient.Spec, logger zerolog.Logger) (int, error) {
	spawnTimer := metrics.NewTimer()
	job, err := jobclient.Spawn(ctx, spec)
	if err != nil {
		return jobclient.ExitUndefined, fmt.Errorf("spawn: %w", err)
	}
	defer job.Release()

	alive := jobclient.WaitSpawnAlive(job, w.cfg.SpawnGrace)
	spawnTimer.ObserveDuration(metrics.WatchdogSpawnDuration)
	if !alive {
		logger.Error().Msg("child did not become alive within spawn grace")
		metrics.WatchdogOutcomesTotal.WithLabelValues("spawn_not_alive").Inc()
		return jobclient.ExitUndefined, nil
	}

	runtimeTimer := metrics.NewTimer()
	defer runtimeTimer.ObserveDuration(metrics.WatchdogRuntimeDuration)

	if err := w.fences.SetWatchdogActive(ns, w.cfg.HeartbeatTTL); err != nil {
		logger.Warn().Err(err).Msg("renew watchdog heartbeat failed")
	}
	if err := w.fences.SetGeneratorActive(ns, w.cfg.HeartbeatTTL); err != nil {
		logger.Warn().Err(err).Msg("renew generator heartbeat failed")
	}

	pollTicker := time.NewTicker(w.cfg.PollInterval)
	defer pollTicker.Stop()
	memTicker := time.NewTicker(w.cfg.MemorySampleInterval)
	defer memTicker.Stop()

	var lastPositiveTTL time.Duration
	var lastPositiveAt time.Time

	for {
		select {
		case <-pollTicker.C:
			if err := w.fences.SetWatchdogActive(ns, w.cfg.HeartbeatTTL); err != nil {
				logger.Warn().Err(err).Msg("renew watchdog heartbeat failed")
			}
			if err := w.fences.SetGeneratorActive(ns, w.cfg.HeartbeatTTL); err != nil {
				logger.Warn().Err(err).Msg("renew generator heartbeat failed")
			}

			if job.Done() {
				return w.classifyDone(job, logger), nil
			}

			terminating, err := w.fences.Terminating(ns, task.ID)
			if err != nil {
				logger.Warn().Err(err).Msg("check termination signal failed")
			} else if terminating {
				logger.Warn().Msg("external termination signal observed, killing child")
				_ = job.Cancel()
				metrics.WatchdogOutcomesTotal.WithLabelValues("terminated_by_signal").Inc()
				return jobclient.ExitSIGKILL, nil
			}

			ttl, err := w.fences.ConnectorActiveTTL(ns)
			if err != nil {
				logger.Warn().Err(err).Msg("read connector heartbeat ttl failed")
				continue
			}
			if ttl >= 0 {
				lastPositiveTTL = ttl
				lastPositiveAt = time.Now()
				continue
			}
			if lastPositiveAt.IsZero() {
				continue
			}
			if time.Now().After(lastPositiveAt.Add(lastPositiveTTL)) {
				logger.Warn().Msg("activity timeout confirmed, killing child")
				_ = job.Cancel()
				metrics.WatchdogOutcomesTotal.WithLabelValues("terminated_by_activity_timeout").Inc()
				return jobclient.ExitSIGKILL, nil
			}
			// Expected expiry is still in the future: tolerate clock skew
			// and out-of-order observations, wait one more cycle.

		case <-memTicker.C:
			if rssKB, ok := sampleRSS(job.PID()); ok {
				logger.Debug().Int("pid", job.PID()).Int64("rss_kb", rssKB).Msg("child memory sample")
			}

		case <-ctx.Done():
			_ = job.Cancel()
			return jobclient.ExitUndefined, ctx.Err()
		}
	}
}

func (w *Watchdog) classifyDone(job *jobclient.Job, logger zerolog.Logger) int {
	code, _ := job.ExitCode()
	outcome := jobclient.ClassifyExitCode(code)
	if outcome == jobclient.ExitUndefined && job.Exception() != "" {
		logger.Error().Str("exception", job.Exception()).Msg("connector exceptioned")
		metrics.WatchdogOutcomesTotal.WithLabelValues("connector_exceptioned").Inc()
		return jobclient.ExitConnectorExceptioned
	}
	metrics.WatchdogOutcomesTotal.WithLabelValues(strconv.Itoa(outcome)).Inc()
	return outcome
}

// sampleRSS best-effort reads the resident set size of pid from procfs.
// It returns ok=false on any non-Linux environment or a pid that has
// already exited.
func sampleRSS(pid int) (kb int64, ok bool) {
	if pid == 0 {
		return 0, false
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}
