package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/dwsm/pkg/cache"
)

// Sweeper periodically evicts invalid sessions from the local cache.
// It never talks to the remote store and never fires events.
type Sweeper struct {
	cache   *cache.Local
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over the given cache.
func NewSweeper(local *cache.Local, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cache:  local,
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules RunOnce after delay, then interval after each completed run.
// Calling Start on a running sweeper is a no-op.
func (sw *Sweeper) Start(delay, interval time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sw.cancel = cancel
	sw.done = make(chan struct{})
	go sw.loop(ctx, delay, interval, sw.done)
}

// Stop cancels the schedule and waits for an in-flight run to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	cancel, done := sw.cancel, sw.done
	sw.cancel, sw.done = nil, nil
	sw.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (sw *Sweeper) loop(ctx context.Context, delay, interval time.Duration, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		sw.RunOnce()
		timer.Reset(interval)
	}
}

// RunOnce scans a snapshot of the cache and removes sessions that are invalid
// or whose local copy is past its inactivity window. Expired entries are only
// dropped locally, never invalidated: another process may have touched them,
// and the next lookup rehydrates from the store.
// It returns the number of evicted entries and never panics.
func (sw *Sweeper) RunOnce() (evicted int) {
	defer func() {
		if r := recover(); r != nil {
			sw.logger.Error("Session sweep failed", "panic", r)
		}
		if sw.metrics != nil {
			sw.metrics.sweepRuns.Inc()
			sw.metrics.sweepEvicted.Add(float64(evicted))
		}
	}()

	now := sw.now()
	for _, s := range sw.cache.Snapshot() {
		if s.IsValid() && !s.Expired(now) {
			continue
		}
		// Only drop the exact entry we inspected; a concurrent Put wins.
		if sw.cache.RemoveIf(s.ID(), s) {
			evicted++
		}
	}

	if evicted > 0 {
		sw.logger.Debug("Swept local sessions", "evicted", evicted, "remaining", sw.cache.Len())
	}
	return evicted
}
