// Package ratelimit provides a per-key token-bucket limiter for RTAC
// traffic, so a single noisy session or agent cannot use another key's
// budget. The coordination package's Coordinator and Dispatcher do not
// call it; message delivery there is not rate limited.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rhema-core/rhema/internal/rherr"
)

// Limits configures a per-key token bucket: rps sustained rate and burst
// capacity.
type Limits struct {
	RequestsPerSecond float64
	Burst             int
}

// KeyedLimiter maintains one rate.Limiter per key (agent ID, session ID,
// or any other partitioning the caller chooses), so one busy key's
// traffic doesn't borrow another key's budget.
type KeyedLimiter struct {
	limits   Limits
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewKeyedLimiter creates a limiter pool where every key shares the same
// Limits configuration.
func NewKeyedLimiter(limits Limits) *KeyedLimiter {
	return &KeyedLimiter{limits: limits, limiters: make(map[string]*rate.Limiter)}
}

func (k *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(k.limits.RequestsPerSecond), k.limits.Burst)
		k.limiters[key] = l
	}
	return l
}

// Allow reports whether a request for key may proceed immediately,
// consuming a token if so.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.limiterFor(key).Allow()
}

// Wait blocks until a token for key is available or ctx is done.
func (k *KeyedLimiter) Wait(ctx context.Context, key string) error {
	if err := k.limiterFor(key).Wait(ctx); err != nil {
		return rherr.ResourceExhausted("rate limit wait for "+key, err)
	}
	return nil
}

// Remove drops the limiter tracked for key, e.g. once an agent
// unregisters, so the pool doesn't grow without bound over a long-lived
// coordinator.
func (k *KeyedLimiter) Remove(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.limiters, key)
}
