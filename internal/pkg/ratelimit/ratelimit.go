// Package ratelimit provides a per-identifier sliding-window request counter.
// It is an in-process, best-effort mechanism: counters are not shared across
// instances. Multi-instance deployments need a shared counter store instead.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count     int
	startedAt time.Time
}

// Limiter counts requests per string identifier within a fixed window.
type Limiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	entries   map[string]*window
	lastPurge time.Time

	// now is swappable for tests
	now func() time.Time
}

// New creates a limiter allowing max requests per windowDuration per key.
func New(windowDuration time.Duration, max int) *Limiter {
	if max < 1 {
		max = 1
	}
	if windowDuration <= 0 {
		windowDuration = time.Minute
	}
	return &Limiter{
		window:  windowDuration,
		max:     max,
		entries: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records a request for key and reports whether it is within the limit.
// resetAt is when the key's current window expires; rejected callers can
// compute a retry delay from it. A request in a fresh or expired window opens
// a new window with the counter at one.
func (l *Limiter) Allow(key string) (bool, time.Time) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybePurge(now)

	w, ok := l.entries[key]
	if !ok || now.Sub(w.startedAt) >= l.window {
		l.entries[key] = &window{count: 1, startedAt: now}
		return true, now.Add(l.window)
	}

	resetAt := w.startedAt.Add(l.window)
	if w.count >= l.max {
		return false, resetAt
	}
	w.count++
	return true, resetAt
}

// Remaining reports how many requests are left in key's current window.
func (l *Limiter) Remaining(key string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.entries[key]
	if !ok || now.Sub(w.startedAt) >= l.window {
		return l.max
	}
	return l.max - w.count
}

// maybePurge drops expired windows at most once per window duration, so a
// steady stream of distinct keys cannot grow the map unbounded. Caller holds
// the lock.
func (l *Limiter) maybePurge(now time.Time) {
	if now.Sub(l.lastPurge) < l.window {
		return
	}
	l.lastPurge = now
	for key, w := range l.entries {
		if now.Sub(w.startedAt) >= l.window {
			delete(l.entries, key)
		}
	}
}
