package persistence

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/retry"
	"github.com/aristath/taskengine/internal/scheduler"
)

// DefaultCheckpointInterval is used when NewCheckpointer gets a zero interval.
const DefaultCheckpointInterval = 2 * time.Second

// Snapshotter produces the state a Checkpointer saves.
type Snapshotter interface {
	Snapshot() scheduler.Snapshot
}

// Checkpointer saves scheduler snapshots to a Store whenever events have
// been observed since the last save.
type Checkpointer struct {
	store    Store
	source   Snapshotter
	interval time.Duration
	retry    retry.Options
	logger   *slog.Logger

	dirty atomic.Bool
	saves atomic.Int64
	mu    sync.Mutex // serializes saves
}

// NewCheckpointer creates a checkpointer. A nil logger discards output.
func NewCheckpointer(store Store, source Snapshotter, interval time.Duration, logger *slog.Logger) *Checkpointer {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Checkpointer{
		store:    store,
		source:   source,
		interval: interval,
		retry: retry.Options{
			MaxRetries: 3,
			Delay:      100 * time.Millisecond,
			Backoff:    retry.BackoffFixed,
		},
		logger: logger,
	}
}

// Attach marks the checkpointer dirty on every event published on bus.
func (c *Checkpointer) Attach(bus *events.Bus) (detach func()) {
	return bus.OnEvent(func(events.Event) {
		c.MarkDirty()
	})
}

// MarkDirty forces the next tick to save.
func (c *Checkpointer) MarkDirty() {
	c.dirty.Store(true)
}

// Saves returns how many snapshots have been written.
func (c *Checkpointer) Saves() int64 {
	return c.saves.Load()
}

// Run saves on every tick while dirty, and once more when ctx is done.
func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush must outlive the cancelled context
			return c.Flush(context.WithoutCancel(ctx))
		case <-ticker.C:
			if !c.dirty.Load() {
				continue
			}
			if err := c.Flush(ctx); err != nil {
				c.logger.Error("checkpoint failed", "err", err)
			}
		}
	}
}

// Flush saves the current snapshot unconditionally.
func (c *Checkpointer) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dirty.Store(false)
	snap := c.source.Snapshot()

	res := retry.Do(ctx, func(ctx context.Context) error {
		return c.store.SaveSnapshot(ctx, snap)
	}, c.retry)
	if !res.Success {
		c.dirty.Store(true)
		return fmt.Errorf("save snapshot after %d attempts: %w", res.Attempts, res.LastError)
	}

	c.saves.Add(1)
	c.logger.Debug("checkpoint saved", "tasks", len(snap.Tasks), "attempt", res.Attempts)
	return nil
}
