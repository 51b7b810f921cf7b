package processing

import (
	"context"

	"github.com/nimbusdata/indexctl/pkg/log"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/rs/zerolog"
)

// Dispatcher pulls process tasks off a queue.Broker and runs each
// in-process through a Processor with a bounded pool of worker
// goroutines. Unlike pkg/watchdog's Dispatcher, doc-processing tasks
// run in the same process rather than as a spawned child: they are
// short, pure KV/DB work with no connector code to isolate.
type Dispatcher struct {
	processor   *Processor
	queue       queue.Broker
	concurrency int
	logger      zerolog.Logger
	stopCh      chan struct{}
}

// NewDispatcher creates a Dispatcher running concurrency worker goroutines.
func NewDispatcher(p *Processor, q queue.Broker, concurrency int) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		processor:   p,
		queue:       q,
		concurrency: concurrency,
		logger:      log.WithComponent("processing-dispatcher"),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.concurrency; i++ {
		go d.worker(ctx)
	}
}

// Stop halts every worker once its current task, if any, finishes. A
// worker already waiting in Dequeue keeps waiting and runs the next task
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
		if task.Kind != queue.KindProcess {
			d.logger.Warn().Str("kind", string(task.Kind)).Msg("dispatcher received a non-process task, ignoring")
			continue
		}

		logger := d.logger.With().Int64("attempt_id", task.AttemptID).Int("batch_num", task.BatchNum).Logger()
		if err := d.processor.ProcessBatch(ctx, task); err != nil {
			logger.Error().Err(err).Msg("batch processing failed")
			continue
		}
		logger.Info().Msg("batch processed")
	}
}
