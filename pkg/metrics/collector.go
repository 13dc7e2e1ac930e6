package metrics

import "time"

// StatusSource is implemented by pkg/hypervisor.Hypervisor,
// pkg/portregistry.Registry, and pkg/orchestration.Engine so Collector
// can refresh their gauge metrics without importing any of those
// packages directly (they already import pkg/metrics).
type StatusSource interface {
	CollectMetrics()
}

// Collector periodically refreshes the gauge-shaped metrics that
// reflect current state rather than counted events — mirroring the
// teacher's ticker-driven metrics collector, generalized from
// node/service/task/secret/volume/raft counts to whatever sources are
// registered.
type Collector struct {
	sources []StatusSource
	stopCh  chan struct{}
}

// NewCollector creates a Collector over the given sources.
func NewCollector(sources ...StatusSource) *Collector {
	return &Collector{
		sources: sources,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting on a fixed interval in its own goroutine.
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
	for _, s := range c.sources {
		s.CollectMetrics()
	}
}
