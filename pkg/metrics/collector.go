package metrics

import (
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// RecordLister is the part of the store the collector reads
type RecordLister interface {
	List(kind types.Kind) ([]*types.ResourceRecord, error)
}

var recordStatuses = []types.Status{
	types.StatusPending,
	types.StatusApplying,
	types.StatusApplied,
	types.StatusFailed,
	types.StatusDeleted,
}

// Collector periodically publishes record counts from the store
type Collector struct {
	store    RecordLister
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store RecordLister, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for it to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Collect publishes one snapshot. Every kind/status pair is set, zero
// included, so drained statuses do not keep stale values.
func (c *Collector) Collect() {
	records, err := c.store.List("")
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Warn().Err(err).Msg("Failed to list records")
		return
	}

	counts := make(map[types.Kind]map[types.Status]int)
	for _, rec := range records {
		if counts[rec.Kind] == nil {
			counts[rec.Kind] = make(map[types.Status]int)
		}
		counts[rec.Kind][rec.Status]++
	}

	for _, kind := range types.Kinds {
		for _, status := range recordStatuses {
			RecordsTotal.WithLabelValues(string(kind), string(status)).Set(float64(counts[kind][status]))
		}
	}
}
