package ratelimit

import (
	"time"
)

// Window is a sliding log of event timestamps. It is not safe for concurrent
// use; the owner guards it with its own mutex.
type Window struct {
	span   time.Duration
	events []time.Time // ascending
}

// NewWindow creates a window retaining events younger than span.
func NewWindow(span time.Duration) *Window {
	return &Window{span: span}
}

// Add records an event at t, keeping timestamps ordered.
func (w *Window) Add(t time.Time) {
	i := len(w.events)
	for i > 0 && w.events[i-1].After(t) {
		i--
	}
	w.events = append(w.events, time.Time{})
	copy(w.events[i+1:], w.events[i:])
	w.events[i] = t
}

// Trim drops events at or before now - span.
func (w *Window) Trim(now time.Time) {
	cutoff := now.Add(-w.span)
	idx := 0
	for idx < len(w.events) && !w.events[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.events = append(w.events[:0], w.events[idx:]...)
	}
}

// CountWithin returns how many events fall in (now-d, now] and the oldest of them.
func (w *Window) CountWithin(now time.Time, d time.Duration) (int, time.Time) {
	cutoff := now.Add(-d)
	n := 0
	var oldest time.Time
	for i := len(w.events) - 1; i >= 0; i-- {
		t := w.events[i]
		if !t.After(cutoff) {
			break
		}
		if t.After(now) {
			continue
		}
		n++
		oldest = t
	}
	return n, oldest
}

func (w *Window) Len() int { return len(w.events) }

func (w *Window) Span() time.Duration { return w.span }
