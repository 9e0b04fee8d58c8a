// Package ratelimit implements the per-key fixed-window limiter guarding
// the hook endpoint: a counter that resets every window, rather than a
// token bucket, so the limit is expressed directly as "N requests per
// window" with no burst/refill semantics to reason about.
package ratelimit

import (
	"sync"
	"time"
)

const windowWidth = 60 * time.Second

type counter struct {
	windowStart time.Time
	count       int
}

// Limiter enforces limit requests per key per 60-second window. A limit
// of 0 disables enforcement entirely.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	counters map[string]*counter
}

func New(limit int) *Limiter {
	l := &Limiter{
		limit:    limit,
		counters: make(map[string]*counter),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) cleanupLoop() {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for range t.C {
		cutoff := time.Now().Add(-2 * windowWidth)
		l.mu.Lock()
		for k, c := range l.counters {
			if c.windowStart.Before(cutoff) {
				delete(l.counters, k)
			}
		}
		l.mu.Unlock()
	}
}

// Allow reports whether key may proceed under the current window, and
// if not, how long until the window resets.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowStart) >= windowWidth {
		c = &counter{windowStart: now, count: 0}
		l.counters[key] = c
	}

	if c.count < l.limit {
		c.count++
		return true, 0
	}
	return false, windowWidth - now.Sub(c.windowStart)
}
