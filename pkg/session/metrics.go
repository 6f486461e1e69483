package session

import (
	"errors"
	"sync"

	"github.com/aretw0/dwsm/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	lookupHit    = "hit"
	lookupMiss   = "miss"
	lookupAbsent = "absent"
)

type metrics struct {
	created      prometheus.Counter
	destroyed    prometheus.Counter
	lookups      *prometheus.CounterVec
	refreshes    prometheus.Counter
	storeErrors  *prometheus.CounterVec
	sweepRuns    prometheus.Counter
	sweepEvicted prometheus.Counter
	cached       *cacheGauge
}

// cacheGauge reports the total size of every local cache registered with it,
// so coordinators sharing a registry add up instead of colliding.
type cacheGauge struct {
	desc *prometheus.Desc

	mu     sync.Mutex
	caches []*cache.Local
}

func newCacheGauge(local *cache.Local) *cacheGauge {
	return &cacheGauge{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName("dwsm", "session", "cached"),
			"Sessions currently held in local caches",
			nil, nil,
		),
		caches: []*cache.Local{local},
	}
}

func (g *cacheGauge) add(local *cache.Local) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.caches = append(g.caches, local)
}

func (g *cacheGauge) Describe(ch chan<- *prometheus.Desc) {
	ch <- g.desc
}

func (g *cacheGauge) Collect(ch chan<- prometheus.Metric) {
	g.mu.Lock()
	total := 0
	for _, c := range g.caches {
		total += c.Len()
	}
	g.mu.Unlock()
	ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, float64(total))
}

// newMetrics builds the coordinator collectors and registers them when reg is not nil.
// Collectors already on reg, from another coordinator, are shared.
func newMetrics(reg prometheus.Registerer, local *cache.Local) (*metrics, error) {
	m := &metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dwsm",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total number of sessions created by this process",
		}),
		destroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dwsm",
			Subsystem: "session",
			Name:      "destroyed_total",
			Help:      "Total number of sessions removed through the coordinator",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwsm",
			Subsystem: "session",
			Name:      "lookups_total",
			Help:      "Session lookups by outcome (hit, miss, absent)",
		}, []string{"result"}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dwsm",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Stale local sessions refreshed from the remote store",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwsm",
			Subsystem: "session",
			Name:      "store_errors_total",
			Help:      "Remote store failures seen by the coordinator, by operation",
		}, []string{"op"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dwsm",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Completed sweep runs",
		}),
		sweepEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dwsm",
			Subsystem: "sweep",
			Name:      "evicted_total",
			Help:      "Sessions evicted from the local cache by the sweep",
		}),
		cached: newCacheGauge(local),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.created, err = register(reg, m.created); err != nil {
		return nil, err
	}
	if m.destroyed, err = register(reg, m.destroyed); err != nil {
		return nil, err
	}
	if m.lookups, err = register(reg, m.lookups); err != nil {
		return nil, err
	}
	if m.refreshes, err = register(reg, m.refreshes); err != nil {
		return nil, err
	}
	if m.storeErrors, err = register(reg, m.storeErrors); err != nil {
		return nil, err
	}
	if m.sweepRuns, err = register(reg, m.sweepRuns); err != nil {
		return nil, err
	}
	if m.sweepEvicted, err = register(reg, m.sweepEvicted); err != nil {
		return nil, err
	}
	shared, err := register(reg, m.cached)
	if err != nil {
		return nil, err
	}
	if shared != m.cached {
		shared.add(local)
		m.cached = shared
	}
	return m, nil
}

// register adds c to reg, or returns the equivalent collector reg already holds.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
