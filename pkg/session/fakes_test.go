package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/dwsm/pkg/adapters/memory"
	"github.com/aretw0/dwsm/pkg/domain"
)

var errBoom = errors.New("boom")

// opLog records collaborator calls in order across fakes.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

// flakyStore wraps the memory store with call recording and failure injection.
type flakyStore struct {
	*memory.Store
	log *opLog

	mu       sync.Mutex
	failRead bool
	failSave bool
	failDel  bool
	checks   int
}

func newFlakyStore(log *opLog) *flakyStore {
	return &flakyStore{Store: memory.NewStore(), log: log}
}

func (f *flakyStore) set(fn func(f *flakyStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *flakyStore) Start(ctx context.Context) error {
	f.log.add("store.start")
	return nil
}

func (f *flakyStore) Stop(ctx context.Context) error {
	f.log.add("store.stop")
	return nil
}

func (f *flakyStore) GetSessionMetaData(ctx context.Context, id string) (*domain.MetaData, error) {
	f.mu.Lock()
	fail := f.failRead
	f.mu.Unlock()
	if fail {
		return nil, errBoom
	}
	return f.Store.GetSessionMetaData(ctx, id)
}

func (f *flakyStore) GetSessionMetaDataField(ctx context.Context, id, field string) (string, bool, error) {
	f.mu.Lock()
	fail := f.failRead
	f.checks++
	f.mu.Unlock()
	if fail {
		return "", false, errBoom
	}
	return f.Store.GetSessionMetaDataField(ctx, id, field)
}

func (f *flakyStore) SaveSession(ctx context.Context, meta domain.MetaData) error {
	f.mu.Lock()
	fail := f.failSave
	f.mu.Unlock()
	if fail {
		return errBoom
	}
	return f.Store.SaveSession(ctx, meta)
}

func (f *flakyStore) RemoveSession(ctx context.Context, id string) error {
	f.log.add("store.remove")
	f.mu.Lock()
	fail := f.failDel
	f.mu.Unlock()
	if fail {
		return errBoom
	}
	return f.Store.RemoveSession(ctx, id)
}

func (f *flakyStore) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

// seqGenerator hands out predictable ids.
type seqGenerator struct {
	log *opLog

	mu   sync.Mutex
	next int
	ids  []string
	err  error
}

func (g *seqGenerator) Start(ctx context.Context) error {
	g.log.add("ids.start")
	return nil
}

func (g *seqGenerator) Stop(ctx context.Context) error {
	g.log.add("ids.stop")
	return nil
}

func (g *seqGenerator) NewSessionID(ctx context.Context, now time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if g.next < len(g.ids) {
		id := g.ids[g.next]
		g.next++
		return id, nil
	}
	g.next++
	return fmt.Sprintf("sess-%d", g.next), nil
}

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
