package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/ports"
)

var (
	_ ports.RemoteStore   = (*Store)(nil)
	_ ports.SessionLister = (*Store)(nil)
)

// Store implements ports.RemoteStore in memory.
// Safe for concurrent use. Useful for single-process deployments and tests.
type Store struct {
	data map[string]domain.MetaData
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]domain.MetaData),
	}
}

// Start is a no-op.
func (s *Store) Start(ctx context.Context) error { return nil }

// Stop is a no-op; data survives a restart of the coordinator.
func (s *Store) Stop(ctx context.Context) error { return nil }

// SaveSession persists a copy of the snapshot.
func (s *Store) SaveSession(ctx context.Context, meta domain.MetaData) error {
	if meta.ID == "" {
		return domain.ErrInvalidSessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[meta.ID] = clone(meta)
	return nil
}

// IsStored reports whether the session exists.
func (s *Store) IsStored(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[sessionID]
	return ok, nil
}

// GetSessionMetaData returns a copy of the snapshot so callers can't mutate store state by pointer.
func (s *Store) GetSessionMetaData(ctx context.Context, sessionID string) (*domain.MetaData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.data[sessionID]
	if !ok {
		return nil, nil
	}
	ret := clone(meta)
	return &ret, nil
}

// GetSessionMetaDataField returns a single flattened field.
func (s *Store) GetSessionMetaDataField(ctx context.Context, sessionID, field string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.data[sessionID]
	if !ok {
		return "", false, nil
	}
	v, ok := meta.Field(field)
	return v, ok, nil
}

// RemoveSession deletes the snapshot.
func (s *Store) RemoveSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// ListSessions returns stored session IDs.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	return sessions, nil
}

func clone(meta domain.MetaData) domain.MetaData {
	out := meta
	out.Attributes = make(map[string]string, len(meta.Attributes))
	maps.Copy(out.Attributes, meta.Attributes)
	return out
}
