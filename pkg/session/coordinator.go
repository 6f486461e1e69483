package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/dwsm/internal/logging"
	"github.com/aretw0/dwsm/pkg/cache"
	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrAlreadyStarted is returned by Start on a running coordinator.
var ErrAlreadyStarted = errors.New("session coordinator already started")

// Coordinator keeps the local cache and the remote store consistent for each session.
// It is the only component talking to both, and the only one deciding a session's identity.
type Coordinator struct {
	store  ports.RemoteStore
	ids    ports.IDGenerator
	cache  *cache.Local
	events *Dispatcher
	locks  *keyedLocks

	logger        *slog.Logger
	now           func() time.Time
	maxInactive   time.Duration
	sweepDelay    time.Duration
	sweepInterval time.Duration

	registerer       prometheus.Registerer
	metrics          *metrics
	pendingListeners []any

	mu      sync.Mutex
	sweeper *Sweeper
}

// NewCoordinator creates a Coordinator over the given store and ID generator.
func NewCoordinator(store ports.RemoteStore, ids ports.IDGenerator, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("session: remote store is required")
	}
	if ids == nil {
		return nil, errors.New("session: id generator is required")
	}

	c := &Coordinator{
		store:         store,
		ids:           ids,
		locks:         newKeyedLocks(),
		logger:        logging.NewNop(), // Default to no-op
		now:           time.Now,
		maxInactive:   DefaultMaxInactiveInterval,
		sweepDelay:    DefaultSweepDelay,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.NewLocal()
	}

	c.events = NewDispatcher(c.logger)
	c.events.now = c.now
	for _, l := range c.pendingListeners {
		if err := c.events.Register(l); err != nil {
			return nil, fmt.Errorf("session: invalid listener %T: %w", l, err)
		}
	}
	c.pendingListeners = nil
	m, err := newMetrics(c.registerer, c.cache)
	if err != nil {
		return nil, fmt.Errorf("session: failed to register metrics: %w", err)
	}
	c.metrics = m

	return c, nil
}

// Cache exposes the local cache.
func (c *Coordinator) Cache() *cache.Local {
	return c.cache
}

// Listeners returns the registered listeners in dispatch order.
func (c *Coordinator) Listeners() []any {
	return c.events.Listeners()
}

// AddListener registers a lifecycle listener after construction.
func (c *Coordinator) AddListener(l any) error {
	return c.events.Register(l)
}

// NewSession mints a new session for the request carried by ctx.
// Generator failures are returned as-is (wrapped) and never retried.
func (c *Coordinator) NewSession(ctx context.Context) (*domain.Session, error) {
	now := c.now()
	id, err := c.ids.NewSessionID(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	if id == "" {
		return nil, fmt.Errorf("failed to generate session id: %w", domain.ErrInvalidSessionID)
	}

	s := domain.NewSession(id, int(c.maxInactive/time.Second), now)
	c.events.Created(ctx, s)
	c.cache.Put(s)
	c.metrics.created.Inc()

	c.logger.Debug("Created session", "session_id", id)
	return s, nil
}

// GetSession returns the session for id, refreshing the local copy when the
// remote store has seen a different last access. It returns nil and no error
// when the session exists nowhere.
func (c *Coordinator) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, nil
	}

	if s, ok := c.cache.Get(id); ok {
		c.metrics.lookups.WithLabelValues(lookupHit).Inc()
		c.logger.Debug("Session held locally", "session_id", id)
		return c.refreshIfStale(ctx, s), nil
	}

	c.logger.Debug("Session not held locally, querying store", "session_id", id)
	return c.loadFromStore(ctx, id)
}

// refreshIfStale compares the local last access time with the store's record.
// Any disagreement, older or newer, triggers a refresh. Store failures keep the
// local copy.
func (c *Coordinator) refreshIfStale(ctx context.Context, s *domain.Session) *domain.Session {
	id := s.ID()

	raw, found, err := c.store.GetSessionMetaDataField(ctx, id, domain.FieldLastAccessedTime)
	if err != nil {
		c.metrics.storeErrors.WithLabelValues("freshness").Inc()
		c.logger.Warn("Could not confirm session freshness, serving local copy",
			"session_id", id,
			"err", err,
		)
		return s
	}
	if !found {
		// Store lag: the local copy is authoritative until it is persisted.
		return s
	}

	remote, err := domain.ParseTimestamp(raw)
	if err != nil {
		c.logger.Warn("Ignoring malformed remote timestamp", "session_id", id, "err", err)
		return s
	}
	if remote == s.LastAccessedTime() {
		c.logger.Debug("Session is fresh", "session_id", id)
		return s
	}

	c.logger.Debug("Session is stale, refreshing from store",
		"session_id", id,
		"local", s.LastAccessedTime(),
		"remote", remote,
	)
	return c.rehydrate(ctx, s)
}

func (c *Coordinator) rehydrate(ctx context.Context, s *domain.Session) *domain.Session {
	id := s.ID()
	unlock := c.locks.Lock(id)
	defer unlock()

	meta, err := c.store.GetSessionMetaData(ctx, id)
	if err != nil {
		c.metrics.storeErrors.WithLabelValues("rehydrate").Inc()
		c.logger.Warn("Could not refresh stale session, serving local copy",
			"session_id", id,
			"err", err,
		)
		return s
	}
	if meta == nil {
		// Removed between the freshness check and the fetch.
		return s
	}

	s.Refresh(*meta)
	c.cache.Put(s)
	c.metrics.refreshes.Inc()
	return s
}

func (c *Coordinator) loadFromStore(ctx context.Context, id string) (*domain.Session, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	// Another request may have populated the cache while we waited.
	if s, ok := c.cache.Get(id); ok {
		c.metrics.lookups.WithLabelValues(lookupHit).Inc()
		return s, nil
	}

	meta, err := c.store.GetSessionMetaData(ctx, id)
	if err != nil {
		c.metrics.storeErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("%w: load session %s: %w", domain.ErrStoreUnavailable, id, err)
	}
	if meta == nil {
		c.metrics.lookups.WithLabelValues(lookupAbsent).Inc()
		c.logger.Info("Session not found in store", "session_id", id)
		return nil, nil
	}
	if !meta.Valid {
		// Left behind by an invalidation whose delete failed.
		c.metrics.lookups.WithLabelValues(lookupAbsent).Inc()
		c.logger.Info("Ignoring invalidated session in store", "session_id", id)
		return nil, nil
	}

	c.logger.Info("Rehydrating session from store", "session_id", id)
	s := domain.FromMetaData(*meta)
	c.cache.Put(s)
	c.metrics.lookups.WithLabelValues(lookupMiss).Inc()
	return s, nil
}

// RemoveSession fires the destroyed event, deletes the session from the store and
// then from the local cache, in that order. A store failure is returned and the
// local entry is kept. Removing a session that exists nowhere is a no-op.
func (c *Coordinator) RemoveSession(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return nil
	}
	id := s.ID()

	unlock := c.locks.Lock(id)
	defer unlock()

	if _, local := c.cache.Get(id); !local {
		stored, err := c.store.IsStored(ctx, id)
		if err == nil && !stored {
			return nil
		}
	}

	c.events.Destroyed(ctx, s)

	if err := c.store.RemoveSession(ctx, id); err != nil {
		c.metrics.storeErrors.WithLabelValues("remove").Inc()
		return fmt.Errorf("%w: remove session %s: %w", domain.ErrStoreUnavailable, id, err)
	}
	c.cache.Remove(id)
	c.metrics.destroyed.Inc()

	c.logger.Debug("Removed session", "session_id", id)
	return nil
}

// IsValid reports whether s is a live session. Nil is never valid.
func (c *Coordinator) IsValid(s domain.Validatable) bool {
	if s == nil {
		return false
	}
	return s.IsValid()
}

// Touch records an access and persists the new snapshot. A session found to
// be expired or invalid is removed and ErrSessionInvalid is returned.
func (c *Coordinator) Touch(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return domain.ErrSessionInvalid
	}
	if !s.Access(c.now()) {
		if err := c.RemoveSession(ctx, s); err != nil {
			return err
		}
		return domain.ErrSessionInvalid
	}
	return c.Persist(ctx, s)
}

// Persist writes the session snapshot to the remote store.
func (c *Coordinator) Persist(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return domain.ErrSessionInvalid
	}
	if err := c.store.SaveSession(ctx, s.MetaData()); err != nil {
		c.metrics.storeErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("%w: save session %s: %w", domain.ErrStoreUnavailable, s.ID(), err)
	}
	return nil
}

// Invalidate marks the session invalid and removes it everywhere.
// The invalid snapshot is written first, so a failed delete cannot bring the
// session back as valid on a later rehydration.
func (c *Coordinator) Invalidate(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return nil
	}
	s.Invalidate()

	var errs []error
	if stored, err := c.store.IsStored(ctx, s.ID()); err != nil || stored {
		if err := c.Persist(ctx, s); err != nil {
			c.logger.Warn("Could not record invalidation in store", "session_id", s.ID(), "err", err)
			errs = append(errs, err)
		}
	}
	if err := c.RemoveSession(ctx, s); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Sweep runs one sweep immediately and returns the number of evicted sessions.
func (c *Coordinator) Sweep() int {
	return c.newSweeper().RunOnce()
}

func (c *Coordinator) newSweeper() *Sweeper {
	sw := NewSweeper(c.cache, c.logger)
	sw.now = c.now
	sw.metrics = c.metrics
	return sw
}

// Start starts the ID generator, then the store, then schedules the sweep.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sweeper != nil {
		return ErrAlreadyStarted
	}

	c.logger.Info("Starting session coordinator",
		"max_inactive", c.maxInactive,
		"sweep_delay", c.sweepDelay,
		"sweep_interval", c.sweepInterval,
	)
	if err := c.ids.Start(ctx); err != nil {
		return fmt.Errorf("failed to start id generator: %w", err)
	}
	if err := c.store.Start(ctx); err != nil {
		_ = c.ids.Stop(ctx)
		return fmt.Errorf("failed to start remote store: %w", err)
	}

	c.sweeper = c.newSweeper()
	c.sweeper.Start(c.sweepDelay, c.sweepInterval)
	return nil
}

// Stop cancels the sweep, then stops the store and the ID generator.
// Stopping a coordinator that was never started does nothing.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	sw := c.sweeper
	c.sweeper = nil
	c.mu.Unlock()

	if sw == nil {
		return nil
	}
	sw.Stop()

	c.logger.Info("Stopping session coordinator")
	var errs []error
	if err := c.store.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop remote store: %w", err))
	}
	if err := c.ids.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop id generator: %w", err))
	}
	return errors.Join(errs...)
}
