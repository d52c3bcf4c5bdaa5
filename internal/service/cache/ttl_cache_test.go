package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpires(t *testing.T) {
	c := NewTTLCache[int](0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c.Set("a", 1, time.Minute, now)
	v, ok := c.Get("a", now.Add(30*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("a", now.Add(time.Minute))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheBoundedPrunesExpiredFirst(t *testing.T) {
	c := NewTTLCache[string](2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c.Set("old", "x", time.Second, now)
	c.Set("keep", "y", time.Hour, now)
	c.Set("new", "z", time.Hour, now.Add(2*time.Second))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("keep", now.Add(3*time.Second))
	assert.True(t, ok)
	_, ok = c.Get("new", now.Add(3*time.Second))
	assert.True(t, ok)
}

func TestTTLCacheEvictsSoonestExpiry(t *testing.T) {
	c := NewTTLCache[string](2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c.Set("short", "a", time.Minute, now)
	c.Set("long", "b", time.Hour, now)
	c.Set("third", "c", time.Hour, now)

	_, ok := c.Get("short", now)
	assert.False(t, ok)
	_, ok = c.Get("long", now)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}
