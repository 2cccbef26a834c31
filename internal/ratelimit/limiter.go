// Package ratelimit provides a per-caller token bucket limiter for the
// management API.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	pruneInterval = 3 * time.Minute
	idleEviction  = 5 * time.Minute
)

// Limiter tracks one token bucket per caller key and evicts buckets that
// have sat idle for idleEviction, so the map stays bounded by the number of
// recently active callers.
type Limiter struct {
	mu      sync.Mutex
	callers map[string]*caller
	rps     rate.Limit
	burst   int
	stop    chan struct{}
}

type caller struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows rps requests per second per caller with the given burst
// and starts the background eviction loop. Close stops it.
func NewLimiter(rps float64, burst int) *Limiter {
	l := &Limiter{
		callers: make(map[string]*caller),
		rps:     rate.Limit(rps),
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Allow reports whether a request attributed to key may proceed, creating
// the bucket on first sight.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	c, ok := l.callers[key]
	if !ok {
		c = &caller{bucket: rate.NewLimiter(l.rps, l.burst)}
		l.callers[key] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.bucket.Allow()
}

// Close stops the eviction loop. Allow remains usable afterwards; the map
// just stops shrinking.
func (l *Limiter) Close() {
	close(l.stop)
}

func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle(time.Now())
		}
	}
}

func (l *Limiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.callers {
		if now.Sub(c.lastSeen) >= idleEviction {
			delete(l.callers, key)
		}
	}
}
