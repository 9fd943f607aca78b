package application

import (
	"context"
	"log"
	"time"

	"terminal-cloud/internal/observability/metrics"
)

// CheckpointStore persists engine snapshots across restarts.
type CheckpointStore interface {
	Save(ctx context.Context, snapshots []DeviceSnapshot) error
	Load(ctx context.Context) ([]DeviceSnapshot, error)
}

// Checkpointer periodically persists the engine's in-memory state. The
// in-memory state stays authoritative; the checkpoint only seeds a
// restart.
type Checkpointer struct {
	engine   *Engine
	store    CheckpointStore
	logger   *log.Logger
	interval time.Duration
}

// NewCheckpointer constructs a checkpointer. A non-positive interval
// falls back to 30 seconds.
func NewCheckpointer(engine *Engine, store CheckpointStore, logger *log.Logger, interval time.Duration) *Checkpointer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Checkpointer{engine: engine, store: store, logger: logger, interval: interval}
}

// Restore loads the last checkpoint into the engine. Call before serving.
func (c *Checkpointer) Restore(ctx context.Context) error {
	snapshots, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	c.engine.Restore(snapshots)
	if len(snapshots) > 0 {
		c.logger.Printf("dispatch: restored %d device session(s) from checkpoint", len(snapshots))
	}
	return nil
}

// Run checkpoints until ctx is cancelled, then writes one final
// checkpoint. Blocking; run it in a goroutine.
func (c *Checkpointer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.checkpoint(context.Background())
			return
		case <-ticker.C:
			c.checkpoint(ctx)
		}
	}
}

func (c *Checkpointer) checkpoint(ctx context.Context) {
	if err := c.store.Save(ctx, c.engine.Snapshot()); err != nil {
		metrics.IncCheckpoint(metrics.ResultError)
		c.logger.Printf("dispatch: checkpoint error: %v", err)
		return
	}
	metrics.IncCheckpoint(metrics.ResultSuccess)
}
