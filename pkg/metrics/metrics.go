package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Beat (controller) metrics

	BeatCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexctl_beat_cycles_total",
			Help: "Total number of controller beat ticks executed",
		},
	)

	BeatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexctl_beat_duration_seconds",
			Help:    "Time taken to run one controller beat tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	BeatLockContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexctl_beat_lock_contention_total",
			Help: "Total number of beat ticks skipped because the cluster lock was already held",
		},
	)

	AttemptsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexctl_index_attempts_created_total",
			Help: "Total index attempts created, by trigger",
		},
		[]string{"trigger"},
	)

	AttemptsUnfencedFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexctl_attempts_unfenced_failed_total",
			Help: "Total non-terminal index attempts failed by the beat tick's validation pass because their fence had already disappeared",
		},
	)

	// Fence / watchdog metrics

	ActiveFencesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexctl_active_fences",
			Help: "Number of fences currently registered as active",
		},
	)

	AttemptsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexctl_index_attempts_by_status",
			Help: "Number of non-terminal index attempts by status",
		},
		[]string{"status"},
	)

	WatchdogSpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexctl_watchdog_spawn_wait_seconds",
			Help:    "Time the watchdog waited for a spawned fetch job to become alive",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
	)

	WatchdogOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexctl_watchdog_outcomes_total",
			Help: "Total watchdog supervision outcomes by classified exit code",
		},
		[]string{"outcome"},
	)

	WatchdogRuntimeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexctl_watchdog_runtime_seconds",
			Help:    "Wall time a watchdog spent supervising one fetch job, start to finish",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600, 7200},
		},
	)

	// Batch processing metrics

	BatchesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexctl_batches_processed_total",
			Help: "Total document batches processed, by result",
		},
		[]string{"result"},
	)

	BatchProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexctl_batch_processing_duration_seconds",
			Help:    "Time taken to process one document batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexctl_batch_failures_total",
			Help: "Total document batch failures across all attempts",
		},
	)

	AttemptsFailureThresholdTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexctl_attempts_failure_threshold_total",
			Help: "Total index attempts aborted after exceeding the batch failure threshold",
		},
	)

	// Monitor (crash-detection) metrics

	MonitorCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexctl_monitor_cycles_total",
			Help: "Total monitor reconciliation cycles completed",
		},
	)

	MonitorCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexctl_monitor_cycle_duration_seconds",
			Help:    "Time taken to run one monitor reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	MonitorCrashesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexctl_monitor_crashes_detected_total",
			Help: "Total fences the monitor's double-check pass confirmed as crashed (no heartbeat, no completion marker)",
		},
	)

	MonitorFencesResetTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexctl_monitor_fences_reset_total",
			Help: "Total fences reset by the monitor after a confirmed crash or normal completion",
		},
	)

	// Checkpoint cleanup metrics

	CleanupCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexctl_cleanup_cycle_duration_seconds",
			Help:    "Time taken to run one checkpoint cleanup sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	CleanupReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexctl_cleanup_reclaimed_total",
			Help: "Total orphaned attempts reclaimed by the checkpoint cleanup sweep",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BeatCyclesTotal,
		BeatDuration,
		BeatLockContentionTotal,
		AttemptsCreatedTotal,
		AttemptsUnfencedFailedTotal,
		ActiveFencesTotal,
		AttemptsByStatus,
		WatchdogSpawnDuration,
		WatchdogOutcomesTotal,
		WatchdogRuntimeDuration,
		BatchesProcessedTotal,
		BatchProcessingDuration,
		BatchFailuresTotal,
		AttemptsFailureThresholdTotal,
		MonitorCyclesTotal,
		MonitorCycleDuration,
		MonitorCrashesDetectedTotal,
		MonitorFencesResetTotal,
		CleanupCycleDuration,
		CleanupReclaimedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
