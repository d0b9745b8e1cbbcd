package signaling

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter for one caller.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trim(now)
	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

func (r *RateLimiter) idle(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trim(now)
	return len(r.events) == 0
}

func (r *RateLimiter) trim(now time.Time) {
	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst
}

// KeyedLimiter holds one RateLimiter per caller id.
type KeyedLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	byKey     map[string]*RateLimiter
	lastSweep time.Time
}

// NewKeyedLimiter constructs a KeyedLimiter.
func NewKeyedLimiter(limit int, window time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limit:  limit,
		window: window,
		byKey:  make(map[string]*RateLimiter),
	}
}

// Allow reports whether key may emit one more event at now.
func (k *KeyedLimiter) Allow(key string, now time.Time) bool {
	k.mu.Lock()
	if now.Sub(k.lastSweep) > limiterIdleTTL {
		for id, rl := range k.byKey {
			if rl.idle(now) {
				delete(k.byKey, id)
			}
		}
		k.lastSweep = now
	}
	rl := k.byKey[key]
	if rl == nil {
		rl = NewRateLimiter(k.limit, k.window)
		k.byKey[key] = rl
	}
	k.mu.Unlock()

	return rl.Allow(now)
}
