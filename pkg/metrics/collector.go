package metrics

import (
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
)

// Collector periodically samples gauge-shaped state from the store and
// fence layers, so ActiveFencesTotal and AttemptsByStatus stay current
// between beat ticks rather than only updating when those packages
// happen to touch a metric directly.
type Collector struct {
	store  store.Store
	fences *fence.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, fences *fence.Store) *Collector {
	return &Collector{
		store:  st,
		fences: fences,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic sampling in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectFenceMetrics()
	c.collectAttemptMetrics()
}

func (c *Collector) collectFenceMetrics() {
	namespaces, err := c.fences.ScanActiveFences()
	if err != nil {
		return
	}
	ActiveFencesTotal.Set(float64(len(namespaces)))
}

func (c *Collector) collectAttemptMetrics() {
	attempts, err := c.store.ListNonTerminalAttempts()
	if err != nil {
		return
	}

	counts := make(map[types.IndexAttemptStatus]int)
	for _, a := range attempts {
		counts[a.Status]++
	}
	for _, status := range []types.IndexAttemptStatus{
		types.IndexAttemptNotStarted,
		types.IndexAttemptInProgress,
	} {
		AttemptsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
