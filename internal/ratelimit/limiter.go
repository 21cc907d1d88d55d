// Package ratelimit provides the per-user sliding-window limiter shared
// by every coordinator in the process.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limiter allows at most limit requests per key within any window.
// It is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
	logger *slog.Logger
}

// New creates a limiter. Run must be started to evict idle keys.
func New(limit int, window time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
		logger: logger.With("component", "ratelimit"),
	}
}

// Allow records a request for key and reports whether it is within the
// limit. Rejected requests are not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := prune(l.hits[key], now.Add(-l.window))
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

// Remaining reports how many more requests key may make right now.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	recent := prune(l.hits[key], l.now().Add(-l.window))
	l.hits[key] = recent
	return max(l.limit-len(recent), 0)
}

// Sweep drops expired timestamps and forgets keys with none left. It
// returns the number of keys evicted.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	evicted := 0
	for key, ts := range l.hits {
		recent := prune(ts, cutoff)
		if len(recent) == 0 {
			delete(l.hits, key)
			evicted++
			continue
		}
		l.hits[key] = recent
	}
	return evicted
}

// Keys reports how many keys are tracked.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Run sweeps once per window until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("rate limiter swept idle keys", "evicted", n)
			}
		}
	}
}

// prune returns the suffix of ts newer than cutoff. ts is in ascending
// order because timestamps are appended as they happen.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
