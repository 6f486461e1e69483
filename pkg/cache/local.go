// Package cache provides the in-process session cache sitting in front of the remote store.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/aretw0/dwsm/pkg/domain"
)

// Local is a concurrent map from session ID to the locally held session.
// Safe for concurrent use without external locking; the last Put for an ID wins.
type Local struct {
	entries sync.Map // map[string]*domain.Session
	size    atomic.Int64
}

// NewLocal creates an empty cache.
func NewLocal() *Local {
	return &Local{}
}

// Put stores the session under its own ID. Nil sessions are ignored.
func (c *Local) Put(s *domain.Session) {
	if s == nil {
		return
	}
	if _, loaded := c.entries.Swap(s.ID(), s); !loaded {
		c.size.Add(1)
	}
}

// Get returns the session cached for id.
func (c *Local) Get(id string) (*domain.Session, bool) {
	v, ok := c.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*domain.Session), true
}

// Remove deletes the entry for id. Removing an unknown id is a no-op.
func (c *Local) Remove(id string) {
	if _, loaded := c.entries.LoadAndDelete(id); loaded {
		c.size.Add(-1)
	}
}

// RemoveIf deletes the entry for id only if it still holds s.
// It reports whether the entry was removed.
func (c *Local) RemoveIf(id string, s *domain.Session) bool {
	if c.entries.CompareAndDelete(id, s) {
		c.size.Add(-1)
		return true
	}
	return false
}

// Len returns the number of cached sessions.
func (c *Local) Len() int {
	return int(c.size.Load())
}

// Range calls fn for each cached session until fn returns false.
// Entries added or removed concurrently may or may not be visited.
func (c *Local) Range(fn func(id string, s *domain.Session) bool) {
	c.entries.Range(func(key, value any) bool {
		return fn(key.(string), value.(*domain.Session))
	})
}

// Snapshot returns the sessions cached at the time of the call.
func (c *Local) Snapshot() []*domain.Session {
	out := make([]*domain.Session, 0, c.Len())
	c.Range(func(_ string, s *domain.Session) bool {
		out = append(out, s)
		return true
	})
	return out
}
