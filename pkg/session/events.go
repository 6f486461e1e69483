package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/dwsm/pkg/domain"
)

// ErrUnsupportedListener is returned when a listener implements none of the listener interfaces.
var ErrUnsupportedListener = errors.New("listener handles no session events")

// Dispatcher delivers lifecycle events to listeners in registration order.
// A panicking listener is logged and skipped; delivery to the others continues.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []any
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger, now: time.Now}
}

// Register appends a listener. It must implement domain.CreatedListener,
// domain.DestroyedListener, or both.
func (d *Dispatcher) Register(l any) error {
	switch l.(type) {
	case domain.CreatedListener, domain.DestroyedListener:
	default:
		return ErrUnsupportedListener
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
	return nil
}

// Listeners returns a copy of the registered listeners.
func (d *Dispatcher) Listeners() []any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]any, len(d.listeners))
	copy(out, d.listeners)
	return out
}

// Created notifies every CreatedListener.
func (d *Dispatcher) Created(ctx context.Context, s *domain.Session) {
	e := d.newEvent(domain.EventSessionCreated, s)
	for _, l := range d.Listeners() {
		if cl, ok := l.(domain.CreatedListener); ok {
			d.deliver(e, func() { cl.SessionCreated(ctx, e) })
		}
	}
}

// Destroyed notifies every DestroyedListener.
func (d *Dispatcher) Destroyed(ctx context.Context, s *domain.Session) {
	e := d.newEvent(domain.EventSessionDestroyed, s)
	for _, l := range d.Listeners() {
		if dl, ok := l.(domain.DestroyedListener); ok {
			d.deliver(e, func() { dl.SessionDestroyed(ctx, e) })
		}
	}
}

func (d *Dispatcher) deliver(e domain.Event, call func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Session listener panicked",
				"event", e.Type,
				"session_id", e.SessionID,
				"panic", r,
			)
		}
	}()
	call()
}

func (d *Dispatcher) newEvent(t domain.EventType, s *domain.Session) domain.Event {
	return domain.Event{
		Type:      t,
		Timestamp: d.now(),
		SessionID: s.ID(),
		Session:   s,
	}
}
