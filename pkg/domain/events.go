package domain

import (
	"context"
	"time"
)

// EventType defines the category of a session lifecycle event.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventSessionDestroyed EventType = "session_destroyed"
)

// Event is delivered to listeners when a session is created or destroyed.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Session   *Session  `json:"-"`
}

// CreatedListener is notified after a session has been minted.
type CreatedListener interface {
	SessionCreated(ctx context.Context, e Event)
}

// DestroyedListener is notified before a session is removed from the store and cache.
type DestroyedListener interface {
	SessionDestroyed(ctx context.Context, e Event)
}

// ListenerFuncs adapts plain functions to both listener interfaces. Nil fields are skipped.
type ListenerFuncs struct {
	OnCreated   func(context.Context, Event)
	OnDestroyed func(context.Context, Event)
}

// SessionCreated implements CreatedListener.
func (l ListenerFuncs) SessionCreated(ctx context.Context, e Event) {
	if l.OnCreated != nil {
		l.OnCreated(ctx, e)
	}
}

// SessionDestroyed implements DestroyedListener.
func (l ListenerFuncs) SessionDestroyed(ctx context.Context, e Event) {
	if l.OnDestroyed != nil {
		l.OnDestroyed(ctx, e)
	}
}
