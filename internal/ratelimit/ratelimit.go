// Package ratelimit implements the token-bucket pacing of outbound fetches,
// built on golang.org/x/time/rate the way other_examples' 3leaps/gonimbus
// crawler paces its provider requests.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a single-bucket token-bucket rate limiter with capacity 1.
// Using rate.Limiter.Wait for Acquire means the internal lock is released
// while a caller sleeps, so concurrent Acquire callers may all suspend and
// converge independently rather than queueing behind one holder.
type Limiter struct {
	mu                   sync.Mutex
	requestsPerMinute    int
	limiter              *rate.Limiter
}

// New constructs a Limiter refilling at requestsPerMinute/60 tokens per
// second, with a burst capacity of 1.
func New(requestsPerMinute int) *Limiter {
	return &Limiter{
		requestsPerMinute: requestsPerMinute,
		limiter:           rate.NewLimiter(perSecond(requestsPerMinute), 1),
	}
}

func perSecond(requestsPerMinute int) rate.Limit {
	return rate.Limit(float64(requestsPerMinute) / 60.0)
}

// Acquire suspends until a token is available, then consumes it.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// TryAcquire performs a non-blocking consume attempt.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()
	return lim.Allow()
}

// Reset restores a full bucket by swapping in a fresh limiter under the
// lock, so concurrent acquirers never observe a partially-reset bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(perSecond(l.requestsPerMinute), 1)
}
