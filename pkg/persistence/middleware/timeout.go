package middleware

import (
	"context"
	"time"

	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/ports"
)

type timeoutMiddleware struct {
	next ports.RemoteStore
	d    time.Duration
}

// WithTimeout bounds every store call by d. A non-positive d leaves the store untouched.
func WithTimeout(d time.Duration) Middleware {
	return func(next ports.RemoteStore) ports.RemoteStore {
		if d <= 0 {
			return next
		}
		return &timeoutMiddleware{next: next, d: d}
	}
}

func (m *timeoutMiddleware) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.d)
	defer cancel()
	return m.next.Start(ctx)
}

func (m *timeoutMiddleware) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.d)
	defer cancel()
	return m.next.Stop(ctx)
}

func (m *timeoutMiddleware) IsStored(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.d)
	defer cancel()
	return m.next.IsStored(ctx, sessionID)
}

func (m *timeoutMiddleware) GetSessionMetaData(ctx context.Context, sessionID string) (*domain.MetaData, error) {
	ctx, cancel := context.WithTimeout(ctx, m.d)
	defer cancel()
	return m.next.GetSessionMetaData(ctx, sessionID)
}

func (m *timeoutMiddleware) GetSessionMetaDataField(ctx context.Context, sessionID, field string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.d)
	defer cancel()
	return m.next.GetSessionMetaDataField(ctx, sessionID, field)
}

func (m *timeoutMiddleware) SaveSession(ctx context.Context, meta domain.MetaData) error {
	ctx, cancel := context.WithTimeout(ctx, m.d)
	defer cancel()
	return m.next.SaveSession(ctx, meta)
}

func (m *timeoutMiddleware) RemoveSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.d)
	defer cancel()
	return m.next.RemoveSession(ctx, sessionID)
}

func (m *timeoutMiddleware) ListSessions(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.d)
	defer cancel()
	return listSessions(ctx, m.next)
}
