// Package ratelimit paces outbound deliveries per subscription.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per key. A non-positive rate disables it.
type Limiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// New creates a limiter allowing perSecond events per key with the given
// burst. A burst below 1 defaults to the per-second rate rounded up.
func New(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = int(math.Ceil(perSecond))
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Unlimited reports whether the limiter lets everything through.
func (l *Limiter) Unlimited() bool {
	return l.limit <= 0
}

// Reserve takes a token for key when one is free and returns zero.
// Otherwise it takes nothing and returns how long until the next token.
func (l *Limiter) Reserve(key string) time.Duration {
	if l.Unlimited() {
		return 0
	}
	r := l.get(key).Reserve()
	if !r.OK() {
		return time.Second
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
	}
	return delay
}

// Reset forgets the bucket for key, e.g. once its subscription is gone.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}
