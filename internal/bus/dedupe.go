package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen keys so webhook retries and double
// deliveries are processed once.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	seen    map[string]time.Time
	order   []string
	nowFunc func() time.Time
}

func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		seen:    make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

// IsDuplicate records key and reports whether it was already seen within
// the TTL. Empty keys are never duplicates.
func (d *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFunc()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.evict(now)
	if _, ok := d.seen[key]; !ok {
		d.order = append(d.order, key)
	}
	d.seen[key] = now
	return false
}

// Forget drops key so its next delivery is processed. Used when a message was
// recorded but then refused before it ran.
func (d *DedupeCache) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; !ok {
		return
	}
	delete(d.seen, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// evict drops expired keys from the front, then the oldest keys beyond max.
func (d *DedupeCache) evict(now time.Time) {
	for len(d.order) > 0 {
		k := d.order[0]
		expired := now.Sub(d.seen[k]) >= d.ttl
		if !expired && len(d.order) < d.max {
			break
		}
		delete(d.seen, k)
		d.order = d.order[1:]
	}
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
