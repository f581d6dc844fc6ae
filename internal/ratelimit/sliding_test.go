package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSlidingWindow_BurstThenRecover(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("max=%d", n), func(t *testing.T) {
			clk := newFakeClock()
			l := New(n, time.Minute, WithClock(clk.Now))

			allowed := 0
			for i := 0; i < n+1; i++ {
				if l.Allow("actor") {
					allowed++
				}
			}
			assert.Equal(t, n, allowed)

			clk.Advance(time.Minute)
			assert.True(t, l.Allow("actor"))
		})
	}
}

func TestSlidingWindow_RetryAfter(t *testing.T) {
	clk := newFakeClock()
	l := New(2, time.Minute, WithClock(clk.Now))

	require.True(t, l.Allow("a"))
	clk.Advance(20 * time.Second)
	require.True(t, l.Allow("a"))
	clk.Advance(10 * time.Second)

	ok, retry := l.Check("a")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retry)
	assert.Equal(t, 0, l.Remaining("a"))

	// Rejections are not recorded: once the first stamp expires one slot opens.
	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, l.Remaining("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
}

func TestSlidingWindow_ActorsAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestSlidingWindow_PruneAndCap(t *testing.T) {
	clk := newFakeClock()
	l := New(5, time.Minute, WithClock(clk.Now), WithMaxTracked(3))

	for _, a := range []string{"a", "b", "c"} {
		l.Allow(a)
	}
	assert.Equal(t, 3, l.Tracked())

	// At cap with nothing stale: the newcomer is refused, nobody is evicted.
	ok, retry := l.Check("d")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)
	assert.Equal(t, 3, l.Tracked())

	// Once the windows expire they make room.
	clk.Advance(2 * time.Minute)
	assert.True(t, l.Allow("d"))
	assert.Equal(t, 1, l.Tracked())

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, l.Prune())
	assert.Equal(t, 0, l.Tracked())
}

func TestSlidingWindow_NewActorsCannotResetLiveWindow(t *testing.T) {
	clk := newFakeClock()
	l := New(2, time.Minute, WithClock(clk.Now), WithMaxTracked(3))

	require.True(t, l.Allow("victim"))
	require.True(t, l.Allow("victim"))
	require.False(t, l.Allow("victim"))

	for i := range 10 {
		clk.Advance(time.Second)
		l.Allow(fmt.Sprintf("flood-%d", i))
	}

	assert.False(t, l.Allow("victim"), "window still full inside the period")
	assert.LessOrEqual(t, l.Tracked(), 3)
}

func TestSlidingWindow_ConcurrentSameActor(t *testing.T) {
	l := New(10, time.Minute)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("hot") {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), ok.Load())
}

func TestNew_Defaults(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, DefaultMaxRequests, l.Max())
	assert.Equal(t, DefaultWindow, l.Window())
}
