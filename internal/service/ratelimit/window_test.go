package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowCountsAndTrims(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	w := NewWindow(time.Hour)

	w.Add(base.Add(-50 * time.Minute))
	w.Add(base.Add(-5 * time.Minute))
	w.Add(base.Add(-20 * time.Minute)) // out of order on purpose
	w.Add(base.Add(-2 * time.Hour))

	w.Trim(base)
	assert.Equal(t, 3, w.Len())

	n, oldest := w.CountWithin(base, time.Hour)
	assert.Equal(t, 3, n)
	assert.Equal(t, base.Add(-50*time.Minute), oldest)

	n, oldest = w.CountWithin(base, 10*time.Minute)
	assert.Equal(t, 1, n)
	assert.Equal(t, base.Add(-5*time.Minute), oldest)
}

func TestLimiterRefills(t *testing.T) {
	l := New(2, 1)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, l.AllowAt("BTC", now))
	assert.True(t, l.AllowAt("BTC", now))
	assert.False(t, l.AllowAt("BTC", now))
	assert.True(t, l.AllowAt("ETH", now))

	assert.True(t, l.AllowAt("BTC", now.Add(time.Second)))
}
