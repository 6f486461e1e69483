package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	log   *opLog
	store *flakyStore
	ids   *seqGenerator
	clock *manualClock
	reg   *prometheus.Registry
	c     *session.Coordinator
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	log := &opLog{}
	f := &fixture{
		log:   log,
		store: newFlakyStore(log),
		ids:   &seqGenerator{log: log},
		clock: &manualClock{now: time.UnixMilli(1_700_000_000_000)},
		reg:   prometheus.NewRegistry(),
	}
	base := []session.Option{
		session.WithClock(f.clock.Now),
		session.WithMetrics(f.reg),
	}
	c, err := session.NewCoordinator(f.store, f.ids, append(base, opts...)...)
	require.NoError(t, err)
	f.c = c
	return f
}

func TestCoordinator_NewSession(t *testing.T) {
	var created []string
	f := newFixture(t, session.WithListeners(domain.ListenerFuncs{
		OnCreated: func(ctx context.Context, e domain.Event) { created = append(created, e.SessionID) },
	}))
	ctx := context.Background()

	s1, err := f.c.NewSession(ctx)
	require.NoError(t, err)
	s2, err := f.c.NewSession(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, s1.ID())
	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.Equal(t, 1800, s1.MaxInactiveInterval(), "default timeout is 30 minutes")
	assert.True(t, f.c.IsValid(s1))
	assert.Equal(t, []string{s1.ID(), s2.ID()}, created)

	cached, ok := f.c.Cache().Get(s1.ID())
	require.True(t, ok)
	assert.Same(t, s1, cached)

	// Creation does not write to the store.
	stored, _ := f.store.IsStored(ctx, s1.ID())
	assert.False(t, stored)
	assert.Equal(t, float64(2), gatherValue(t, f.reg, "dwsm_session_created_total"))
	n, err := testutil.GatherAndCount(f.reg, "dwsm_session_cached")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(2), gatherValue(t, f.reg, "dwsm_session_cached"))
}

func TestCoordinator_NewSession_GeneratorFailure(t *testing.T) {
	fired := false
	f := newFixture(t, session.WithListeners(domain.ListenerFuncs{
		OnCreated: func(context.Context, domain.Event) { fired = true },
	}))
	f.ids.err = errBoom

	s, err := f.c.NewSession(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, s)
	assert.False(t, fired)
	assert.Equal(t, 0, f.c.Cache().Len())
}

func TestCoordinator_NewSession_EmptyID(t *testing.T) {
	f := newFixture(t)
	f.ids.ids = []string{""}

	_, err := f.c.NewSession(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidSessionID)
}

func TestCoordinator_GetSession_Unknown(t *testing.T) {
	f := newFixture(t)

	s, err := f.c.GetSession(context.Background(), "never-created")
	assert.NoError(t, err)
	assert.Nil(t, s)

	s, err = f.c.GetSession(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestCoordinator_GetSession_RehydratesFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	meta := domain.MetaData{
		ID:                  "remote-only",
		CreationTime:        100,
		LastAccessedTime:    200,
		MaxInactiveInterval: 600,
		Valid:               true,
		Attributes:          map[string]string{"user": "42"},
	}
	require.NoError(t, f.store.SaveSession(ctx, meta))

	s, err := f.c.GetSession(ctx, "remote-only")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, int64(200), s.LastAccessedTime())
	assert.Equal(t, 600, s.MaxInactiveInterval())
	v, _ := s.Attribute("user")
	assert.Equal(t, "42", v)

	// Second lookup is a cache hit with matching timing metadata.
	again, err := f.c.GetSession(ctx, "remote-only")
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, int64(200), again.LastAccessedTime())

	assert.Equal(t, float64(1), gatherValue(t, f.reg, "dwsm_session_lookups_total", "result", "miss"))
	assert.Equal(t, float64(1), gatherValue(t, f.reg, "dwsm_session_lookups_total", "result", "hit"))
}

func TestCoordinator_GetSession_RefreshesStaleCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.c.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, f.c.Persist(ctx, s))
	t1 := s.LastAccessedTime()

	// Another process touches the session.
	remote := s.MetaData()
	remote.LastAccessedTime = t1 + 5000
	require.NoError(t, f.store.SaveSession(ctx, remote))

	got, err := f.c.GetSession(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, t1+5000, got.LastAccessedTime())

	cached, _ := f.c.Cache().Get(s.ID())
	assert.Equal(t, t1+5000, cached.LastAccessedTime())
	assert.Equal(t, float64(1), gatherValue(t, f.reg, "dwsm_session_refreshes_total"))
}

func TestCoordinator_GetSession_OlderRemoteAlsoRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, _ := f.c.NewSession(ctx)
	remote := s.MetaData()
	remote.LastAccessedTime = s.LastAccessedTime() - 1000
	require.NoError(t, f.store.SaveSession(ctx, remote))

	got, err := f.c.GetSession(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, remote.LastAccessedTime, got.LastAccessedTime())
}

func TestCoordinator_Scenario_abc123(t *testing.T) {
	f := newFixture(t, session.WithMaxInactiveInterval(1800*time.Second))
	f.ids.ids = []string{"abc123"}
	ctx := context.Background()

	s1, err := f.c.NewSession(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc123", s1.ID())
	require.Equal(t, 1800, s1.MaxInactiveInterval())

	// Store has no record: the local copy is served as-is.
	got, err := f.c.GetSession(ctx, "abc123")
	require.NoError(t, err)
	assert.Same(t, s1, got)
	assert.Equal(t, s1.CreationTime(), got.LastAccessedTime())

	// Externally update the store with a newer access.
	newer := s1.MetaData()
	newer.LastAccessedTime = s1.LastAccessedTime() + 60_000
	require.NoError(t, f.store.SaveSession(ctx, newer))

	got, err = f.c.GetSession(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, newer.LastAccessedTime, got.LastAccessedTime())
}

func TestCoordinator_GetSession_StoreDownKeepsLocalCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, _ := f.c.NewSession(ctx)
	f.store.set(func(f *flakyStore) { f.failRead = true })

	got, err := f.c.GetSession(ctx, s.ID())
	assert.NoError(t, err)
	assert.Same(t, s, got)

	assert.Equal(t, float64(1), gatherValue(t, f.reg, "dwsm_session_store_errors_total", "op", "freshness"))
}

func TestCoordinator_GetSession_StoreDownOnMiss(t *testing.T) {
	f := newFixture(t)
	f.store.set(func(f *flakyStore) { f.failRead = true })

	s, err := f.c.GetSession(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, s)
}

func TestCoordinator_RemoveSession_Ordering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, _ := f.c.NewSession(ctx)
	require.NoError(t, f.c.Persist(ctx, s))

	require.NoError(t, f.c.AddListener(domain.ListenerFuncs{
		OnDestroyed: func(ctx context.Context, e domain.Event) {
			f.log.add("event.destroyed")
			// Listeners observe a still-present session.
			_, cached := f.c.Cache().Get(e.SessionID)
			stored, _ := f.store.IsStored(ctx, e.SessionID)
			assert.True(t, cached)
			assert.True(t, stored)
		},
	}))

	require.NoError(t, f.c.RemoveSession(ctx, s))
	assert.Equal(t, []string{"event.destroyed", "store.remove"}, f.log.list())

	_, cached := f.c.Cache().Get(s.ID())
	stored, _ := f.store.IsStored(ctx, s.ID())
	assert.False(t, cached)
	assert.False(t, stored)
}

func TestCoordinator_RemoveSession_Idempotent(t *testing.T) {
	destroyed := 0
	f := newFixture(t, session.WithListeners(domain.ListenerFuncs{
		OnDestroyed: func(context.Context, domain.Event) { destroyed++ },
	}))
	ctx := context.Background()

	s, _ := f.c.NewSession(ctx)
	require.NoError(t, f.c.Persist(ctx, s))

	require.NoError(t, f.c.RemoveSession(ctx, s))
	require.NoError(t, f.c.RemoveSession(ctx, s))
	require.NoError(t, f.c.RemoveSession(ctx, nil))

	assert.Equal(t, 1, destroyed, "removing an absent session fires nothing")
	_, cached := f.c.Cache().Get(s.ID())
	assert.False(t, cached)
}

func TestCoordinator_RemoveSession_StoreFailureIsSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, _ := f.c.NewSession(ctx)
	f.store.set(func(f *flakyStore) { f.failDel = true })

	err := f.c.RemoveSession(ctx, s)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, cached := f.c.Cache().Get(s.ID())
	assert.True(t, cached, "cache removal must not run ahead of the durable delete")
}

func TestCoordinator_IsValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var typedNil *domain.Session
	assert.False(t, f.c.IsValid(nil))
	assert.False(t, f.c.IsValid(typedNil))

	s, _ := f.c.NewSession(ctx)
	assert.True(t, f.c.IsValid(s))

	require.NoError(t, f.c.Invalidate(ctx, s))
	assert.False(t, f.c.IsValid(s))
}

func TestCoordinator_Touch(t *testing.T) {
	f := newFixture(t, session.WithMaxInactiveInterval(10*time.Second))
	ctx := context.Background()

	s, _ := f.c.NewSession(ctx)
	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.c.Touch(ctx, s))

	v, found, err := f.store.GetSessionMetaDataField(ctx, s.ID(), domain.FieldLastAccessedTime)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fmt.Sprint(f.clock.Now().UnixMilli()), v)

	// Past the inactivity window the session is destroyed.
	f.clock.Advance(11 * time.Second)
	err = f.c.Touch(ctx, s)
	assert.ErrorIs(t, err, domain.ErrSessionInvalid)
	assert.False(t, s.IsValid())

	stored, _ := f.store.IsStored(ctx, s.ID())
	assert.False(t, stored)
	_, cached := f.c.Cache().Get(s.ID())
	assert.False(t, cached)
}

func TestCoordinator_PersistFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, _ := f.c.NewSession(ctx)
	f.store.set(func(f *flakyStore) { f.failSave = true })

	assert.ErrorIs(t, f.c.Touch(ctx, s), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, f.c.Persist(ctx, nil), domain.ErrSessionInvalid)
}

func TestCoordinator_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var invalid, valid []*domain.Session
	for i := 0; i < 5; i++ {
		s, _ := f.c.NewSession(ctx)
		s.Invalidate()
		invalid = append(invalid, s)
	}
	for i := 0; i < 3; i++ {
		s, _ := f.c.NewSession(ctx)
		valid = append(valid, s)
	}

	destroyed := 0
	require.NoError(t, f.c.AddListener(domain.ListenerFuncs{
		OnDestroyed: func(context.Context, domain.Event) { destroyed++ },
	}))

	assert.Equal(t, 5, f.c.Sweep())
	for _, s := range invalid {
		_, ok := f.c.Cache().Get(s.ID())
		assert.False(t, ok)
	}
	for _, s := range valid {
		_, ok := f.c.Cache().Get(s.ID())
		assert.True(t, ok)
	}
	assert.Equal(t, 0, destroyed, "sweeping fires no events")
	assert.Equal(t, float64(5), gatherValue(t, f.reg, "dwsm_sweep_evicted_total"))
}

func TestCoordinator_ScheduledSweep(t *testing.T) {
	log := &opLog{}
	store := newFlakyStore(log)
	c, err := session.NewCoordinator(store, &seqGenerator{log: log},
		session.WithSweepSchedule(10*time.Millisecond, 10*time.Millisecond))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	doomed, _ := c.NewSession(ctx)
	kept, _ := c.NewSession(ctx)
	doomed.Invalidate()

	assert.Eventually(t, func() bool {
		_, ok := c.Cache().Get(doomed.ID())
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, ok := c.Cache().Get(kept.ID())
	assert.True(t, ok)
}

func TestCoordinator_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Never engaged: stopping is safe and touches nothing.
	require.NoError(t, f.c.Stop(ctx))
	assert.Empty(t, f.log.list())

	require.NoError(t, f.c.Start(ctx))
	assert.ErrorIs(t, f.c.Start(ctx), session.ErrAlreadyStarted)
	require.NoError(t, f.c.Stop(ctx))

	assert.Equal(t, []string{"ids.start", "store.start", "store.stop", "ids.stop"}, f.log.list())
}

func TestCoordinator_ListenerIsolation(t *testing.T) {
	var delivered []string
	f := newFixture(t, session.WithListeners(
		domain.ListenerFuncs{OnCreated: func(context.Context, domain.Event) { delivered = append(delivered, "first") }},
		domain.ListenerFuncs{OnCreated: func(context.Context, domain.Event) { panic("misbehaving listener") }},
		domain.ListenerFuncs{OnCreated: func(context.Context, domain.Event) { delivered = append(delivered, "third") }},
	))

	s, err := f.c.NewSession(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, []string{"first", "third"}, delivered)
	assert.Len(t, f.c.Listeners(), 3)
}

func TestCoordinator_InvalidListener(t *testing.T) {
	_, err := session.NewCoordinator(newFlakyStore(&opLog{}), &seqGenerator{log: &opLog{}},
		session.WithListeners("not a listener"))
	assert.ErrorIs(t, err, session.ErrUnsupportedListener)
}

func TestCoordinator_RequiresCollaborators(t *testing.T) {
	_, err := session.NewCoordinator(nil, &seqGenerator{log: &opLog{}})
	assert.Error(t, err)
	_, err = session.NewCoordinator(newFlakyStore(&opLog{}), nil)
	assert.Error(t, err)
}

func TestCoordinator_ConcurrentRehydration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveSession(ctx, domain.MetaData{ID: "shared", LastAccessedTime: 1, Valid: true}))

	var wg sync.WaitGroup
	results := make([]*domain.Session, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.c.GetSession(ctx, "shared")
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Same(t, results[0], s, "concurrent misses must share one rehydrated session")
	}
	assert.Equal(t, 1, f.c.Cache().Len())
}

// gatherValue returns the value of a counter or gauge series, matching label name/value pairs.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for i := 0; i+1 < len(labels); i += 2 {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
						found = true
					}
				}
				if !found {
					continue series
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func TestCoordinator_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	build := func() *session.Coordinator {
		log := &opLog{}
		c, err := session.NewCoordinator(newFlakyStore(log), &seqGenerator{log: log}, session.WithMetrics(reg))
		require.NoError(t, err)
		return c
	}

	first := build()
	second := build()
	ctx := context.Background()

	_, err := first.NewSession(ctx)
	require.NoError(t, err)
	_, err = second.NewSession(ctx)
	require.NoError(t, err)
	_, err = second.NewSession(ctx)
	require.NoError(t, err)

	assert.Equal(t, float64(3), gatherValue(t, reg, "dwsm_session_created_total"))
	assert.Equal(t, float64(3), gatherValue(t, reg, "dwsm_session_cached"), "cache sizes add up across coordinators")
}

func TestCoordinator_Invalidate_FailedDeleteStaysInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.c.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, f.c.Persist(ctx, s))

	f.store.set(func(f *flakyStore) { f.failDel = true })
	err = f.c.Invalidate(ctx, s)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	remote, err := f.store.GetSessionMetaData(ctx, s.ID())
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.False(t, remote.Valid, "the invalidation reaches the store before the delete")

	assert.Equal(t, 1, f.c.Sweep())

	got, err := f.c.GetSession(ctx, s.ID())
	require.NoError(t, err)
	assert.Nil(t, got, "an invalidated session is never served again")
}

func TestCoordinator_EventsUseClock(t *testing.T) {
	var stamps []time.Time
	f := newFixture(t, session.WithListeners(domain.ListenerFuncs{
		OnCreated:   func(_ context.Context, e domain.Event) { stamps = append(stamps, e.Timestamp) },
		OnDestroyed: func(_ context.Context, e domain.Event) { stamps = append(stamps, e.Timestamp) },
	}))
	ctx := context.Background()

	s, err := f.c.NewSession(ctx)
	require.NoError(t, err)
	created := f.clock.Now()

	f.clock.Advance(time.Minute)
	require.NoError(t, f.c.Invalidate(ctx, s))

	require.Len(t, stamps, 2)
	assert.True(t, created.Equal(stamps[0]))
	assert.True(t, created.Add(time.Minute).Equal(stamps[1]))
}
