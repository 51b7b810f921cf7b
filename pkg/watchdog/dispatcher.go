package watchdog

import (
	"context"
	"os"
	"strconv"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/jobclient"
	"github.com/nimbusdata/indexctl/pkg/log"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/rs/zerolog"
)

// Dispatcher pulls fetch tasks off a queue.Broker and runs each through a
// Watchdog with a bounded pool of worker goroutines, one job in flight
// per goroutine.
type Dispatcher struct {
	watchdog    *Watchdog
	queue       queue.Broker
	binary      string
	concurrency int
	logger      zerolog.Logger
	stopCh      chan struct{}
}

// NewDispatcher creates a Dispatcher that spawns binary as the fetch
// worker entrypoint.
func NewDispatcher(w *Watchdog, q queue.Broker, binary string, concurrency int) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		watchdog:    w,
		queue:       q,
		binary:      binary,
		concurrency: concurrency,
		logger:      log.WithComponent("watchdog-dispatcher"),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.concurrency; i++ {
		go d.worker(ctx)
	}
}

// Stop halts every worker once its current job, if any, finishes. A
// worker already waiting in Dequeue keeps waiting and runs the next job
// it receives before it sees the stop; it returns without one only when
// ctx is done or the queue is closed.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, ok := d.queue.Dequeue(ctx)
		if !ok {
			return
		}
		if task.Kind != queue.KindFetch {
			d.logger.Warn().Str("kind", string(task.Kind)).Msg("dispatcher received a non-fetch task, ignoring")
			continue
		}
		d.runOne(ctx, task)
	}
}

func (d *Dispatcher) runOne(ctx context.Context, task queue.Task) {
	ns := fence.Namespace{CCPairID: task.CCPairID, SearchSettingsID: task.SearchSettingsID}
	spec := jobclient.NewSpec(d.binary, []string{
		"worker", "fetch",
		"--attempt-id", strconv.FormatInt(task.AttemptID, 10),
		"--task-id", task.ID,
	}, os.Environ())

	code, err := d.watchdog.Supervise(ctx, task, spec)
	logger := d.logger.With().Str("namespace", ns.String()).Int64("attempt_id", task.AttemptID).Logger()
	if err != nil {
		logger.Error().Err(err).Int("exit_code", code).Msg("supervision failed")
		return
	}
	logger.Info().Int("exit_code", code).Msg("supervision finished")
}
