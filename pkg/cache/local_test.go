package cache_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/dwsm/pkg/cache"
	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_PutGetRemove(t *testing.T) {
	c := cache.NewLocal()
	s := domain.NewSession("s1", 60, time.Now())

	_, ok := c.Get("s1")
	assert.False(t, ok, "miss is not an error")

	c.Put(s)
	got, ok := c.Get("s1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, c.Len())

	c.Remove("s1")
	c.Remove("s1")
	_, ok = c.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLocal_LastWriterWins(t *testing.T) {
	c := cache.NewLocal()
	first := domain.NewSession("s1", 60, time.Now())
	second := domain.NewSession("s1", 60, time.Now())

	c.Put(first)
	c.Put(second)
	got, _ := c.Get("s1")
	assert.Same(t, second, got)
	assert.Equal(t, 1, c.Len())
}

func TestLocal_RemoveIf(t *testing.T) {
	c := cache.NewLocal()
	old := domain.NewSession("s1", 60, time.Now())
	fresh := domain.NewSession("s1", 60, time.Now())
	c.Put(fresh)

	assert.False(t, c.RemoveIf("s1", old), "a replaced entry must not be removed")
	assert.True(t, c.RemoveIf("s1", fresh))
	assert.Equal(t, 0, c.Len())
}

func TestLocal_PutNil(t *testing.T) {
	c := cache.NewLocal()
	c.Put(nil)
	assert.Equal(t, 0, c.Len())
}

func TestLocal_ConcurrentAccess(t *testing.T) {
	c := cache.NewLocal()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			c.Put(domain.NewSession(id, 60, time.Now()))
			_, _ = c.Get(id)
			c.Range(func(string, *domain.Session) bool { return true })
			if i%2 == 0 {
				c.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, c.Len())
	assert.Len(t, c.Snapshot(), 25)
}
