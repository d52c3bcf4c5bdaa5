package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	v   V
	exp time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.exp.IsZero() && !now.Before(e.exp)
}

// TTLCache is a bounded map whose entries expire. Callers pass the clock so
// owners that evaluate against snapshot time stay deterministic.
type TTLCache[V any] struct {
	mu  sync.Mutex
	m   map[string]entry[V]
	max int
}

// NewTTLCache creates a cache holding at most maxEntries live keys (0 = unbounded).
func NewTTLCache[V any](maxEntries int) *TTLCache[V] {
	return &TTLCache[V]{m: make(map[string]entry[V]), max: maxEntries}
}

func (c *TTLCache[V]) Get(key string, now time.Time) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[key]
	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(now) {
		delete(c.m, key)
		var zero V
		return zero, false
	}
	return e.v, true
}

// Set stores v for ttl (ttl <= 0 never expires). When the cache is full,
// expired entries are pruned first and then the entry closest to expiry goes.
func (c *TTLCache[V]) Set(key string, v V, ttl time.Duration, now time.Time) {
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.m[key]; !exists && c.max > 0 && len(c.m) >= c.max {
		if c.pruneLocked(now) == 0 {
			c.evictLocked()
		}
	}
	c.m[key] = entry[V]{v: v, exp: exp}
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet pruned.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Prune removes expired entries and returns how many were dropped.
func (c *TTLCache[V]) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(now)
}

func (c *TTLCache[V]) pruneLocked(now time.Time) int {
	n := 0
	for k, e := range c.m {
		if e.expired(now) {
			delete(c.m, k)
			n++
		}
	}
	return n
}

func (c *TTLCache[V]) evictLocked() {
	var victim string
	var soonest time.Time
	first := true
	for k, e := range c.m {
		// non-expiring entries are evicted only when nothing else is left
		if first || (!e.exp.IsZero() && (soonest.IsZero() || e.exp.Before(soonest))) {
			victim, soonest, first = k, e.exp, false
		}
	}
	if !first {
		delete(c.m, victim)
	}
}
