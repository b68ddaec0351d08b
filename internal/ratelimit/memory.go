package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps a log of request timestamps per key and allows at most
// max requests in any window. Keys idle for longer than the window are
// evicted lazily.
type MemoryLimiter struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	max       int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryLimiter allows max requests per window for every key.
func NewMemoryLimiter(maxRequests int, window time.Duration) *MemoryLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		hits:   make(map[string][]time.Time),
		max:    maxRequests,
		window: window,
		now:    time.Now,
	}
}

// Allow records the request when the key still has room in its window.
// Rejected requests are not recorded.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	floor := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.evict(floor)
		l.lastSweep = now
	}

	hits := prune(l.hits[key], floor)
	if len(hits) >= l.max {
		l.hits[key] = hits
		return false, nil
	}
	l.hits[key] = append(hits, now)
	return true, nil
}

// prune drops timestamps older than floor. Timestamps are appended in order,
// so the survivors are a suffix.
func prune(hits []time.Time, floor time.Time) []time.Time {
	i := 0
	for i < len(hits) && hits[i].Before(floor) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

func (l *MemoryLimiter) evict(floor time.Time) {
	for key, hits := range l.hits {
		if len(hits) == 0 || hits[len(hits)-1].Before(floor) {
			delete(l.hits, key)
		}
	}
}

// Len reports how many keys are tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

var _ Limiter = (*MemoryLimiter)(nil)
