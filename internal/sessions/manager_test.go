package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/store"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

type memStore struct {
	mu      sync.Mutex
	states  map[string]store.ActorState
	saveErr error
	loadErr error
}

func newMemStore() *memStore { return &memStore{states: map[string]store.ActorState{}} }

func (s *memStore) LoadActor(_ context.Context, id string) (*store.ActorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	st, ok := s.states[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *memStore) SaveActor(_ context.Context, st store.ActorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.states[st.ActorID] = st
	return nil
}

func TestActorID(t *testing.T) {
	id := BuildActorID("telegram", "386246614")
	assert.Equal(t, "telegram:386246614", id)

	ch, peer := ParseActorID(id)
	assert.Equal(t, "telegram", ch)
	assert.Equal(t, "386246614", peer)

	ch, peer = ParseActorID("bare")
	assert.Empty(t, ch)
	assert.Equal(t, "bare", peer)
}

func TestCommit_CarryOverAndHistory(t *testing.T) {
	m := NewManager(Config{HistoryLimit: 3})
	ctx := context.Background()

	s, err := m.Acquire(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, s.Pending())
	require.NoError(t, s.Commit(ctx, []intent.Label{intent.Scheduling},
		turn.HistoryEntry{Role: "user", Content: "one"},
		turn.HistoryEntry{Role: "assistant", Content: ""},
		turn.HistoryEntry{Role: "assistant", Content: "two"},
	))
	s.Release()
	s.Release()

	s, err = m.Acquire(ctx, "a1")
	require.NoError(t, err)
	defer s.Release()
	assert.Equal(t, []intent.Label{intent.Scheduling}, s.Pending())
	require.NoError(t, s.Commit(ctx, nil,
		turn.HistoryEntry{Role: "user", Content: "three"},
		turn.HistoryEntry{Role: "user", Content: "four"},
	))
	assert.Empty(t, s.Pending())
	assert.Equal(t, 2, s.Turns())

	var got []string
	for _, h := range s.History() {
		got = append(got, h.Content)
	}
	assert.Equal(t, []string{"two", "three", "four"}, got)
}

func TestWriteThroughAndReload(t *testing.T) {
	st := newMemStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewManager(Config{IdleTTL: time.Minute}, WithStore(st), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s, err := m.Acquire(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, []intent.Label{intent.Sales}, turn.HistoryEntry{Role: "user", Content: "preço"}))
	s.Release()

	saved := st.states["a1"]
	assert.Equal(t, []intent.Label{intent.Sales}, saved.Pending)
	assert.Equal(t, now, saved.Updated)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.Prune())
	assert.Equal(t, 0, m.Len())

	s, err = m.Acquire(ctx, "a1")
	require.NoError(t, err)
	defer s.Release()
	assert.Equal(t, []intent.Label{intent.Sales}, s.Pending(), "state reloaded from the store")
	assert.Equal(t, "preço", s.History()[0].Content)
}

func TestStoreFailures(t *testing.T) {
	st := newMemStore()
	st.loadErr = errors.New("db down")
	st.saveErr = errors.New("db down")
	m := NewManager(Config{}, WithStore(st))
	ctx := context.Background()

	s, err := m.Acquire(ctx, "a1")
	require.NoError(t, err, "load failures start from empty state")
	defer s.Release()

	err = s.Commit(ctx, []intent.Label{intent.TechFAQ})
	require.Error(t, err)
	assert.Equal(t, []intent.Label{intent.TechFAQ}, s.Pending(), "memory state updated regardless")
}

func TestPrune_SkipsActorsInUse(t *testing.T) {
	now := time.Now()
	m := NewManager(Config{IdleTTL: time.Second}, WithClock(func() time.Time { return now }))

	held, err := m.Acquire(context.Background(), "busy")
	require.NoError(t, err)
	idle, err := m.Acquire(context.Background(), "idle")
	require.NoError(t, err)
	idle.Release()

	now = now.Add(time.Hour)
	assert.Equal(t, 1, m.Prune())
	assert.Equal(t, 1, m.Len())
	held.Release()
}

func TestAcquire_FIFO(t *testing.T) {
	m := NewManager(Config{})
	ctx := context.Background()

	first, err := m.Acquire(ctx, "a1")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	const waiters = 5
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Acquire(ctx, "a1")
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			s.Release()
		}()
		require.Eventually(t, func() bool { return m.Waiting("a1") == i+1 }, time.Second, time.Millisecond)
	}

	first.Release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestAcquire_CancelledWaiter(t *testing.T) {
	m := NewManager(Config{})
	held, err := m.Acquire(context.Background(), "a1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "a1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, m.Waiting("a1"))

	held.Release()
	s, err := m.Acquire(context.Background(), "a1")
	require.NoError(t, err, "lock is free after the cancelled waiter left")
	s.Release()
}

func TestAcquire_DifferentActorsDoNotBlock(t *testing.T) {
	m := NewManager(Config{})
	a, err := m.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer a.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := m.Acquire(ctx, "b")
	require.NoError(t, err)
	b.Release()
}
