// Package ratelimit throttles outbound requests per upstream host.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter gives every host its own token bucket, so the graph API and the
// sheets endpoint throttle independently.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*rate.Limiter
	rps     float64
	burst   int
}

func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rps,
		burst:   burst,
	}
}

// Wait blocks until the host's bucket releases a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.bucketFor(host).Wait(ctx)
}

func (l *Limiter) bucketFor(host string) *rate.Limiter {
	l.mu.RLock()
	bucket, ok := l.buckets[host]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring the write lock
	if bucket, ok := l.buckets[host]; ok {
		return bucket
	}
	bucket = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.buckets[host] = bucket
	return bucket
}
