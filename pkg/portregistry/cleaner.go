package portregistry

import (
	"time"

	"github.com/cuemby/sirsicore/pkg/clock"
	"github.com/cuemby/sirsicore/pkg/log"
	"github.com/rs/zerolog"
)

// DefaultCleanupInterval is how often Cleaner scans for expired
// allocations absent an explicit interval.
const DefaultCleanupInterval = 30 * time.Second

// Cleaner runs Registry.CleanupExpired on a tick, mirroring the
// teacher's reconciler ticker-and-stop-channel loop shape.
type Cleaner struct {
	registry *Registry
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewCleaner creates a Cleaner for r using the real wall clock.
func NewCleaner(r *Registry, interval time.Duration) *Cleaner {
	return NewCleanerWithClock(r, interval, clock.Real{})
}

// NewCleanerWithClock creates a Cleaner driven by c, independent of
// the Registry's own clock instance.
func NewCleanerWithClock(r *Registry, interval time.Duration, c clock.Clock) *Cleaner {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Cleaner{
		registry: r,
		clock:    c,
		interval: interval,
		logger:   log.WithComponent("portregistry-cleaner"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the cleanup loop in its own goroutine.
func (c *Cleaner) Start() {
	go c.run()
}

// Stop signals the cleanup loop to exit.
func (c *Cleaner) Stop() {
	close(c.stopCh)
}

func (c *Cleaner) run() {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			reaped := c.registry.CleanupExpired()
			if len(reaped) > 0 {
				c.logger.Info().Int("count", len(reaped)).Msg("cleanup cycle reaped expired allocations")
			}
		case <-c.stopCh:
			return
		}
	}
}
