// Package ratelimit provides per-client sliding-window admission control.
// State is process-local and in-memory; it is reset on restart and not
// shared across instances.
package ratelimit

import (
	"sync"
	"time"
)

const (
	staleClientThreshold = 1 * time.Hour
	cleanupInterval      = 30 * time.Minute
)

// Limiter tracks request timestamps per client key within a trailing window.
// Every admitted check consumes quota regardless of the request's outcome.
type Limiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	clients     map[string][]time.Time
	now         func() time.Time
	stopCleanup chan struct{}
}

// NewLimiter constructs a limiter admitting at most limit requests per key
// within the trailing window, and starts its background cleanup loop.
func NewLimiter(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		limit:       limit,
		window:      window,
		clients:     make(map[string][]time.Time),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// NewLimiterWithClock constructs a limiter with an injected clock and no
// cleanup loop, for tests.
func NewLimiterWithClock(limit int, window time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		clients: make(map[string][]time.Time),
		now:     now,
	}
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup drops keys whose latest request is old enough that the window can
// never matter again, keeping the map from growing unboundedly.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, stamps := range l.clients {
		if len(stamps) == 0 || now.Sub(stamps[len(stamps)-1]) > staleClientThreshold {
			delete(l.clients, key)
		}
	}
}

// Stop terminates the cleanup loop.
func (l *Limiter) Stop() {
	if l.stopCleanup != nil {
		close(l.stopCleanup)
	}
}

// Allow prunes timestamps outside the trailing window and admits the request
// if the remaining count is below the limit, recording the current time.
// Rejected requests are not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	stamps := l.clients[key]
	pruned := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= l.limit {
		l.clients[key] = pruned
		return false
	}

	l.clients[key] = append(pruned, now)
	return true
}
