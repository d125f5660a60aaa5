package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache[string, int]("test", nil)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1, 0)
	c.Set("b", 2, time.Hour)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache[string, string]("test", nil).(*memoryCache[string, string])
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("short", "x", time.Minute)
	c.Set("forever", "y", 0)

	now = now.Add(2 * time.Minute)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("forever")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Set("other", "z", time.Minute)
	c.mu.RLock()
	_, stale := c.items["short"]
	c.mu.RUnlock()
	assert.False(t, stale, "expired entries are swept on Set")
}

func TestWithTTL(t *testing.T) {
	inner := NewMemoryCache[int, string]("test", nil).(*memoryCache[int, string])
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	inner.now = func() time.Time { return now }
	c := WithTTL[int, string](inner, time.Minute)

	c.Set(1, "one", 0)
	now = now.Add(30 * time.Second)
	_, ok := c.Get(1)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get(1)
	assert.False(t, ok)
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache[int, int]("test", nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(i, i*i, time.Minute)
			c.Get(i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, c.Len())
}
