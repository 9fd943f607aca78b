package application

import (
	"context"
	"log"
	"time"
)

// Scheduler drives the retry/expiry sweep on a fixed interval.
type Scheduler struct {
	engine   *Engine
	logger   *log.Logger
	interval time.Duration
}

// NewScheduler constructs a sweep scheduler. A non-positive interval
// falls back to 15 seconds.
func NewScheduler(engine *Engine, logger *log.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{engine: engine, logger: logger, interval: interval}
}

// Run sweeps until ctx is cancelled. Blocking; run it in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if resolved := s.engine.Sweep(ctx, tick.UTC()); resolved > 0 {
				s.logger.Printf("dispatch: sweep resolved %d command(s)", resolved)
			}
		}
	}
}
