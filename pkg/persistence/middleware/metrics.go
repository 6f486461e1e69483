package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

type storeMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

type metricsMiddleware struct {
	next ports.RemoteStore
	m    *storeMetrics
}

// WithMetrics counts and times every store call, labelled by operation.
// Registering twice on the same registry reuses the existing collectors.
func WithMetrics(reg prometheus.Registerer) (Middleware, error) {
	m := &storeMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dwsm",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Remote store calls by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dwsm",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Remote store call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	var err error
	if m.calls, err = register(reg, m.calls); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}

	return func(next ports.RemoteStore) ports.RemoteStore {
		return &metricsMiddleware{next: next, m: m}
	}, nil
}

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

func (m *metricsMiddleware) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.m.calls.WithLabelValues(op, result).Inc()
	m.m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsMiddleware) Start(ctx context.Context) error {
	start := time.Now()
	err := m.next.Start(ctx)
	m.observe("start", start, err)
	return err
}

func (m *metricsMiddleware) Stop(ctx context.Context) error {
	start := time.Now()
	err := m.next.Stop(ctx)
	m.observe("stop", start, err)
	return err
}

func (m *metricsMiddleware) IsStored(ctx context.Context, sessionID string) (bool, error) {
	start := time.Now()
	ok, err := m.next.IsStored(ctx, sessionID)
	m.observe("is_stored", start, err)
	return ok, err
}

func (m *metricsMiddleware) GetSessionMetaData(ctx context.Context, sessionID string) (*domain.MetaData, error) {
	start := time.Now()
	meta, err := m.next.GetSessionMetaData(ctx, sessionID)
	m.observe("get", start, err)
	return meta, err
}

func (m *metricsMiddleware) GetSessionMetaDataField(ctx context.Context, sessionID, field string) (string, bool, error) {
	start := time.Now()
	v, ok, err := m.next.GetSessionMetaDataField(ctx, sessionID, field)
	m.observe("get_field", start, err)
	return v, ok, err
}

func (m *metricsMiddleware) SaveSession(ctx context.Context, meta domain.MetaData) error {
	start := time.Now()
	err := m.next.SaveSession(ctx, meta)
	m.observe("save", start, err)
	return err
}

func (m *metricsMiddleware) RemoveSession(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := m.next.RemoveSession(ctx, sessionID)
	m.observe("remove", start, err)
	return err
}

func (m *metricsMiddleware) ListSessions(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := listSessions(ctx, m.next)
	m.observe("list", start, err)
	return ids, err
}
