package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedKeys caps tracked client keys so rotating source IPs cannot grow
// the map without bound.
const maxTrackedKeys = 4096

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket guarding the HTTP and WebSocket
// surfaces. It sits in front of the per-actor sliding window.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	enabled bool
	now     func() time.Time
}

// NewRateLimiter allows rpm requests per minute per key with the given burst.
// rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	r := &RateLimiter{
		entries: make(map[string]*limiterEntry),
		enabled: rpm > 0,
		burst:   burst,
		now:     time.Now,
	}
	if r.enabled {
		r.limit = rate.Every(time.Minute / time.Duration(rpm))
	}
	if r.burst <= 0 {
		r.burst = 1
	}
	return r
}

func (r *RateLimiter) Enabled() bool { return r.enabled }

// Allow reports whether key may proceed now.
func (r *RateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[key]
	if !ok {
		if len(r.entries) >= maxTrackedKeys {
			r.pruneLocked(now)
			if len(r.entries) >= maxTrackedKeys {
				// Evicting a throttled key would hand it a fresh bucket.
				return false
			}
		}
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// pruneLocked drops keys whose bucket has refilled; recreating them later
// changes nothing.
func (r *RateLimiter) pruneLocked(now time.Time) {
	for k, e := range r.entries {
		if e.limiter.TokensAt(now) >= float64(r.burst) {
			delete(r.entries, k)
		}
	}
}

// Tracked returns how many keys currently hold a bucket.
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
