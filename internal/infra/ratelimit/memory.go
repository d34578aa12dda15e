// Package ratelimit implements per-key sliding-window limiters.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"repohub/internal/domain/service"
)

// memoryLimiter keeps a log of admitted request times per key.
type memoryLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	now       func() time.Time
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewMemoryLimiter is the constructor for the in-process limiter.
func NewMemoryLimiter(max int, window time.Duration, now func() time.Time) service.RateLimiter {
	if now == nil {
		now = time.Now
	}

	return &memoryLimiter{
		max:    max,
		window: window,
		now:    now,
		hits:   make(map[string][]time.Time),
	}
}

func (l *memoryLimiter) Name() string {
	return "memory"
}

// Allow admits the request when fewer than max requests were admitted in the last window.
func (l *memoryLimiter) Allow(_ context.Context, key string) (service.RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	hits := trimBefore(l.hits[key], cutoff)

	result := service.RateLimitResult{Limit: l.max}
	if len(hits) < l.max {
		hits = append(hits, now)
		result.Allowed = true
	}
	l.hits[key] = hits

	result.Remaining = l.max - len(hits)
	result.ResetAfter = hits[0].Add(l.window).Sub(now)

	return result, nil
}

// sweep drops keys with no request inside the window.
func (l *memoryLimiter) sweep(cutoff time.Time) {
	for key, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

// trimBefore drops entries at or before cutoff. hits is sorted ascending.
func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}

	return hits[i:]
}
