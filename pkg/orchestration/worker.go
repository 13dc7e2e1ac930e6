package orchestration

import (
	"context"
	"time"

	"github.com/cuemby/sirsicore/pkg/clock"
	"github.com/cuemby/sirsicore/pkg/log"
	"github.com/rs/zerolog"
)

// Worker repeatedly calls ProcessNext on a tick, mirroring the
// teacher's scheduler loop shape (ticker + select + stop channel)
// generalized from "schedule containers onto nodes" to "assign
// queued tasks to connectors".
type Worker struct {
	engine *Engine
	clock  clock.Clock
	period time.Duration
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewWorker creates a Worker that calls engine.ProcessNext every
// period using c as its tick source.
func NewWorker(engine *Engine, c clock.Clock, period time.Duration) *Worker {
	if period <= 0 {
		period = time.Second
	}
	return &Worker{
		engine: engine,
		clock:  c,
		period: period,
		logger: log.WithComponent("orchestration-worker"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the worker loop in a new goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the worker loop to exit.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			taskID, err := w.engine.ProcessNext(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("processNext failed")
				continue
			}
			if taskID != "" {
				log.WithTaskID(w.logger, taskID).Debug().Msg("task dequeued")
			}
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
	}
}
