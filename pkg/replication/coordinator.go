package replication

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/stores"
)

const (
	// DefaultInterval is the period of background syncs.
	DefaultInterval = 5 * time.Second
	// DefaultDebounce is the quiet period after a write before syncing.
	DefaultDebounce = 300 * time.Millisecond
)

// Syncer performs one sync and reports frames moved.
type Syncer interface {
	Sync(ctx context.Context) (uint64, error)
}

// SyncerFunc adapts a function to Syncer.
type SyncerFunc func(ctx context.Context) (uint64, error)

// Sync implements Syncer.
func (f SyncerFunc) Sync(ctx context.Context) (uint64, error) { return f(ctx) }

// Config configures a Coordinator.
type Config struct {
	// Interval between periodic syncs. Zero disables the ticker.
	Interval time.Duration

	// Debounce delays AfterWrite so a burst of writes syncs once.
	Debounce time.Duration

	Logger zerolog.Logger
}

// Coordinator keeps a replica in step with its primary. At most one sync
// runs at a time. Triggers that arrive while one is running collapse into a
// single follow-up. Failures are logged and never returned.
type Coordinator struct {
	syncer   Syncer
	interval time.Duration
	debounce time.Duration
	logger   zerolog.Logger

	// pending has capacity one, which is what makes triggers coalesce.
	pending chan struct{}

	mu            sync.Mutex
	debounceTimer *time.Timer
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewCoordinator creates a stopped Coordinator.
func NewCoordinator(syncer Syncer, cfg Config) *Coordinator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Coordinator{
		syncer:   syncer,
		interval: cfg.Interval,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With().Str("component", "sync_coordinator").Logger(),
		pending:  make(chan struct{}, 1),
	}
}

// Start runs the coordinator in the background and queues an immediate sync.
// Calling Start on a running coordinator does nothing.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	c.Trigger()
	go c.run(runCtx, c.done)

	c.logger.Info().
		Dur("interval", c.interval).
		Dur("debounce", c.debounce).
		Msg("Background sync started")
}

// Stop cancels pending work and waits for an in-flight sync to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info().Msg("Background sync stopped")
}

// Trigger requests a sync. If one is already queued the request is dropped.
func (c *Coordinator) Trigger() {
	select {
	case c.pending <- struct{}{}:
	default:
	}
}

// AfterWrite schedules a sync once writes have been quiet for the debounce period.
func (c *Coordinator) AfterWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.debounce, c.Trigger)
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if c.interval > 0 {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.Trigger()
		case <-c.pending:
			c.syncOnce(ctx)
		}
	}
}

func (c *Coordinator) syncOnce(ctx context.Context) {
	frames, err := c.syncer.Sync(ctx)
	switch {
	case err == nil:
		if frames > 0 {
			c.logger.Info().Uint64("frames", frames).Msg("Synced frames")
		}
	case errors.Is(err, stores.ErrNotReplica):
		c.logger.Debug().Msg("Skipping sync on local database")
	case dberr.Is(err, dberr.KindNotInitialized):
		c.logger.Debug().Msg("Skipping sync before init")
	case ctx.Err() != nil:
	default:
		c.logger.Warn().Err(err).Msg("Sync failed")
	}
}
