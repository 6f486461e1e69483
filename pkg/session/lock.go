package session

import "sync"

// keyedLocks hands out one mutex per session ID. An ID's slot lives only while
// someone holds or waits on it, so the map tracks in-flight sessions, not every
// session ever seen.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sync.Mutex
	waiters int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]*slot)}
}

// Lock blocks until the caller owns sessionID. Call the returned func once.
func (k *keyedLocks) Lock(sessionID string) (unlock func()) {
	k.mu.Lock()
	s := k.slots[sessionID]
	if s == nil {
		s = &slot{}
		k.slots[sessionID] = s
	}
	s.waiters++
	k.mu.Unlock()

	s.Lock()
	return func() {
		s.Unlock()

		k.mu.Lock()
		if s.waiters--; s.waiters == 0 {
			delete(k.slots, sessionID)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocks) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
