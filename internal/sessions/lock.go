package sessions

import (
	"context"
	"sync"
)

// fifoLock is a mutex that hands ownership to waiters in arrival order, so an
// actor's messages are processed in the order they were admitted.
type fifoLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// lock blocks until the caller owns the lock or ctx is done.
func (l *fifoLock) lock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		// Ownership was handed to us just as ctx fired; pass it on.
		l.unlockLocked()
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *fifoLock) unlock() {
	l.mu.Lock()
	l.unlockLocked()
	l.mu.Unlock()
}

func (l *fifoLock) unlockLocked() {
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}

func (l *fifoLock) waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
