// Package ratelimit implements the per-actor sliding-window admission gate that
// sits in front of the turn pipeline.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMaxRequests = 10
	DefaultWindow      = 60 * time.Second

	// DefaultMaxTrackedActors caps the number of windows held in memory so that
	// rotating actor ids cannot grow the map without bound.
	DefaultMaxTrackedActors = 65536
)

// window is one actor's record. Admission for an actor holds only its own lock;
// the map lock is taken just long enough to find or create the record.
type window struct {
	mu      sync.Mutex
	stamps  []time.Time // ascending
	lastHit time.Time
	evicted bool
}

// SlidingWindow admits at most max requests per actor in any trailing window.
// Safe for concurrent use.
type SlidingWindow struct {
	max        int
	window     time.Duration
	maxTracked int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*window
}

type Option func(*SlidingWindow)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) { s.now = now }
}

// WithMaxTracked overrides DefaultMaxTrackedActors.
func WithMaxTracked(n int) Option {
	return func(s *SlidingWindow) {
		if n > 0 {
			s.maxTracked = n
		}
	}
}

// New builds a limiter. Non-positive values fall back to the defaults.
// Both values are fixed for the limiter's lifetime.
func New(maxRequests int, win time.Duration, opts ...Option) *SlidingWindow {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if win <= 0 {
		win = DefaultWindow
	}
	s := &SlidingWindow{
		max:        maxRequests,
		window:     win,
		maxTracked: DefaultMaxTrackedActors,
		now:        time.Now,
		entries:    make(map[string]*window),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SlidingWindow) Max() int { return s.max }

func (s *SlidingWindow) Window() time.Duration { return s.window }

// Allow reports whether actor may start a new turn now.
func (s *SlidingWindow) Allow(actor string) bool {
	ok, _ := s.Check(actor)
	return ok
}

// Check is Allow plus, on rejection, how long until the oldest request in the
// window expires.
func (s *SlidingWindow) Check(actor string) (bool, time.Duration) {
	for {
		w := s.get(actor)
		if w == nil {
			slog.Warn("security.rate_limit_capacity", "actor", actor, "tracked", s.Tracked())
			return false, s.window
		}

		w.mu.Lock()
		if w.evicted {
			// Pruned between lookup and lock; retry against a fresh record.
			w.mu.Unlock()
			continue
		}

		now := s.now()
		w.dropExpired(now, s.window)
		w.lastHit = now

		if len(w.stamps) < s.max {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return true, 0
		}

		retry := w.stamps[0].Add(s.window).Sub(now)
		w.mu.Unlock()
		if retry < 0 {
			retry = 0
		}
		return false, retry
	}
}

// Remaining returns how many more requests actor may make right now.
func (s *SlidingWindow) Remaining(actor string) int {
	s.mu.Lock()
	w, ok := s.entries[actor]
	s.mu.Unlock()
	if !ok {
		return s.max
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropExpired(s.now(), s.window)
	return s.max - len(w.stamps)
}

func (w *window) dropExpired(now time.Time, d time.Duration) {
	cut := 0
	for cut < len(w.stamps) && now.Sub(w.stamps[cut]) >= d {
		cut++
	}
	if cut > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[cut:]...)
	}
}

// get finds or creates actor's record. At capacity only fully expired windows
// are evicted; if none are, it returns nil and the new actor is refused so that
// a flood of fresh ids cannot reset live windows.
func (s *SlidingWindow) get(actor string) *window {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.entries[actor]; ok {
		return w
	}

	if len(s.entries) >= s.maxTracked {
		s.pruneLocked()
		if len(s.entries) >= s.maxTracked {
			return nil
		}
	}

	w := &window{}
	s.entries[actor] = w
	return w
}

// Prune drops every actor whose window has fully expired. Returns the number removed.
func (s *SlidingWindow) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked()
}

func (s *SlidingWindow) pruneLocked() int {
	now := s.now()
	n := 0
	for k, w := range s.entries {
		w.mu.Lock()
		stale := now.Sub(w.lastHit) >= s.window
		if stale {
			w.evicted = true
			delete(s.entries, k)
			n++
		}
		w.mu.Unlock()
	}
	return n
}

// Tracked returns the number of actors currently held.
func (s *SlidingWindow) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run prunes stale actors every interval until ctx is done.
func (s *SlidingWindow) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				slog.Debug("ratelimit: pruned idle actors", "count", n, "tracked", s.Tracked())
			}
		}
	}
}
