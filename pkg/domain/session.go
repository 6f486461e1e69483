package domain

import (
	"maps"
	"sync"
	"time"
)

// Identifiable is implemented by anything that carries a session ID.
type Identifiable interface {
	ID() string
}

// Validatable is the capability the coordinator relies on to decide whether a handle is live.
type Validatable interface {
	IsValid() bool
}

// Refreshable is implemented by session handles that can be overwritten in place
// from a remote snapshot.
type Refreshable interface {
	Refresh(meta MetaData)
}

// Session is the local, in-process copy of a distributed session.
// Safe for concurrent use.
type Session struct {
	id string

	mu               sync.RWMutex
	creationTime     int64
	lastAccessedTime int64
	maxInactive      int
	valid            bool
	attributes       map[string]string
}

var (
	_ Identifiable = (*Session)(nil)
	_ Validatable  = (*Session)(nil)
	_ Refreshable  = (*Session)(nil)
)

// NewSession creates a valid session whose creation and last access time is now.
// maxInactive is expressed in seconds; zero or negative never expires.
func NewSession(id string, maxInactive int, now time.Time) *Session {
	ms := now.UnixMilli()
	return &Session{
		id:               id,
		creationTime:     ms,
		lastAccessedTime: ms,
		maxInactive:      maxInactive,
		valid:            true,
		attributes:       make(map[string]string),
	}
}

// FromMetaData rehydrates a session from its remote snapshot.
func FromMetaData(meta MetaData) *Session {
	s := &Session{id: meta.ID}
	s.apply(meta)
	return s
}

func (s *Session) apply(meta MetaData) {
	s.creationTime = meta.CreationTime
	s.lastAccessedTime = meta.LastAccessedTime
	s.maxInactive = meta.MaxInactiveInterval
	s.valid = meta.Valid
	s.attributes = make(map[string]string, len(meta.Attributes))
	maps.Copy(s.attributes, meta.Attributes)
}

// ID returns the immutable session identifier.
func (s *Session) ID() string {
	return s.id
}

// CreationTime returns the creation timestamp in epoch milliseconds.
func (s *Session) CreationTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creationTime
}

// LastAccessedTime returns the last access timestamp in epoch milliseconds.
func (s *Session) LastAccessedTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccessedTime
}

// MaxInactiveInterval returns the inactivity timeout in seconds.
func (s *Session) MaxInactiveInterval() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxInactive
}

// IsValid reports whether the session has neither been invalidated nor expired.
// A nil session is never valid.
func (s *Session) IsValid() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// Expired reports whether the inactivity window had elapsed at now.
func (s *Session) Expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiredLocked(now)
}

func (s *Session) expiredLocked(now time.Time) bool {
	if s.maxInactive <= 0 {
		return false
	}
	idle := now.UnixMilli() - s.lastAccessedTime
	return idle > int64(s.maxInactive)*1000
}

// Access records a request touching the session.
// It returns false, and flips the session to invalid, when the session had
// already expired or been invalidated.
func (s *Session) Access(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.valid {
		return false
	}
	if s.expiredLocked(now) {
		s.valid = false
		return false
	}
	s.lastAccessedTime = now.UnixMilli()
	return true
}

// Invalidate marks the session as no longer usable. It cannot be undone.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}

// Refresh overwrites the local timing and payload with a remote snapshot.
// A snapshot for another ID is ignored, and a remote snapshot never revives an
// invalidated local copy.
func (s *Session) Refresh(meta MetaData) {
	if meta.ID != s.id {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wasValid := s.valid
	s.apply(meta)
	if !wasValid {
		s.valid = false
	}
}

// Attribute returns an opaque payload value.
func (s *Session) Attribute(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attributes[key]
	return v, ok
}

// SetAttribute stores an opaque payload value.
func (s *Session) SetAttribute(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attributes == nil {
		s.attributes = make(map[string]string)
	}
	s.attributes[key] = value
}

// RemoveAttribute deletes an opaque payload value.
func (s *Session) RemoveAttribute(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attributes, key)
}

// MetaData returns a snapshot suitable for persistence.
func (s *Session) MetaData() MetaData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attrs := make(map[string]string, len(s.attributes))
	maps.Copy(attrs, s.attributes)

	return MetaData{
		ID:                  s.id,
		CreationTime:        s.creationTime,
		LastAccessedTime:    s.lastAccessedTime,
		MaxInactiveInterval: s.maxInactive,
		Valid:               s.valid,
		Attributes:          attrs,
	}
}
