package session

import (
	"log/slog"
	"time"

	"github.com/aretw0/dwsm/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultMaxInactiveInterval is applied to new sessions unless configured otherwise.
	DefaultMaxInactiveInterval = 30 * time.Minute
	// DefaultSweepDelay is the wait before the first sweep.
	DefaultSweepDelay = 10 * time.Second
	// DefaultSweepInterval is the wait between the end of one sweep and the start of the next.
	DefaultSweepInterval = 10 * time.Second
)

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger configures a logger for the Coordinator and its sweeper.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMaxInactiveInterval sets the inactivity timeout given to new sessions.
// It is truncated to whole seconds.
func WithMaxInactiveInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.maxInactive = d
	}
}

// WithSweepSchedule overrides the sweep delay and interval.
// Non-positive values keep the defaults.
func WithSweepSchedule(delay, interval time.Duration) Option {
	return func(c *Coordinator) {
		if delay > 0 {
			c.sweepDelay = delay
		}
		if interval > 0 {
			c.sweepInterval = interval
		}
	}
}

// WithListeners registers lifecycle listeners in order.
// Each must implement domain.CreatedListener and/or domain.DestroyedListener.
func WithListeners(listeners ...any) Option {
	return func(c *Coordinator) {
		c.pendingListeners = append(c.pendingListeners, listeners...)
	}
}

// WithMetrics registers the coordinator's Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.registerer = reg
	}
}

// WithCache uses an existing local cache instead of creating one.
func WithCache(local *cache.Local) Option {
	return func(c *Coordinator) {
		c.cache = local
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}
