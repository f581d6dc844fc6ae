package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/store"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

const (
	DefaultHistoryLimit = 20
	DefaultIdleTTL      = 24 * time.Hour
)

// Config controls how much per-actor state is kept in memory.
type Config struct {
	HistoryLimit int           `json:"history_limit,omitempty"`
	IdleTTL      time.Duration `json:"-"`
}

// entry is one actor's in-memory state. state is guarded by lock; refs and
// lastUsed are guarded by Manager.mu.
type entry struct {
	lock     fifoLock
	refs     int
	lastUsed time.Time

	loaded bool
	state  store.ActorState
}

// Manager handles actor state lifecycle, write-through persistence and the
// per-actor serialization of turns.
type Manager struct {
	mu      sync.Mutex
	actors  map[string]*entry
	store   store.ActorStore // nil in memory mode
	history int
	idleTTL time.Duration
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore enables write-through persistence.
func WithStore(s store.ActorStore) Option {
	return func(m *Manager) { m.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		actors:  make(map[string]*entry),
		history: cfg.HistoryLimit,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
	}
	if m.history <= 0 {
		m.history = DefaultHistoryLimit
	}
	if m.idleTTL <= 0 {
		m.idleTTL = DefaultIdleTTL
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Acquire waits for exclusive access to the actor's state. Callers queue in
// arrival order. The returned Session must be released on every path.
func (m *Manager) Acquire(ctx context.Context, actorID string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.actors[actorID]
	if !ok {
		e = &entry{state: store.ActorState{ActorID: actorID}}
		m.actors[actorID] = e
	}
	e.refs++
	m.mu.Unlock()

	if err := e.lock.lock(ctx); err != nil {
		m.unref(e)
		return nil, err
	}

	if !e.loaded {
		m.load(ctx, actorID, e)
	}
	return &Session{m: m, e: e, actorID: actorID}, nil
}

func (m *Manager) load(ctx context.Context, actorID string, e *entry) {
	e.loaded = true
	if m.store == nil {
		return
	}
	st, err := m.store.LoadActor(ctx, actorID)
	if err != nil {
		// Start from empty state; the next Commit overwrites the row.
		slog.Warn("actor state load failed", "actor", actorID, "error", err)
		return
	}
	if st != nil {
		e.state = *st
		e.state.ActorID = actorID
	}
}

func (m *Manager) unref(e *entry) {
	m.mu.Lock()
	e.refs--
	e.lastUsed = m.now()
	m.mu.Unlock()
}

// Prune drops actors that are not in use and have been idle for at least the
// idle TTL. Persisted state is reloaded on the actor's next Acquire.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.actors {
		if e.refs == 0 && now.Sub(e.lastUsed) >= m.idleTTL {
			delete(m.actors, id)
			n++
		}
	}
	return n
}

// Run prunes idle actors every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Prune(); n > 0 {
				slog.Debug("actor states pruned", "count", n)
			}
		}
	}
}

// Len returns the number of actors held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// Waiting reports how many callers are queued behind the current holder of
// actorID.
func (m *Manager) Waiting(actorID string) int {
	m.mu.Lock()
	e, ok := m.actors[actorID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return e.lock.waiting()
}

// Session is exclusive access to one actor's state for the duration of a turn.
type Session struct {
	m        *Manager
	e        *entry
	actorID  string
	released bool
}

func (s *Session) ActorID() string { return s.actorID }

// Pending returns the labels left unresolved by the actor's previous turn.
func (s *Session) Pending() []intent.Label {
	return append([]intent.Label(nil), s.e.state.Pending...)
}

// History returns the retained conversation tail, oldest first.
func (s *Session) History() []turn.HistoryEntry {
	return append([]turn.HistoryEntry(nil), s.e.state.History...)
}

// Turns returns how many turns have been committed for the actor.
func (s *Session) Turns() int { return s.e.state.Turns }

// Commit replaces the carried-over labels, appends history entries trimmed to
// the configured limit, and writes the state through to the store. The
// in-memory state is updated even when the store write fails.
func (s *Session) Commit(ctx context.Context, pending []intent.Label, entries ...turn.HistoryEntry) error {
	st := &s.e.state
	st.Pending = append([]intent.Label(nil), pending...)
	for _, h := range entries {
		if h.Content == "" {
			continue
		}
		st.History = append(st.History, h)
	}
	if over := len(st.History) - s.m.history; over > 0 {
		st.History = append([]turn.HistoryEntry(nil), st.History[over:]...)
	}
	st.Turns++
	st.Updated = s.m.now().UTC()

	if s.m.store == nil {
		return nil
	}
	snapshot := *st
	snapshot.Pending = append([]intent.Label(nil), st.Pending...)
	snapshot.History = append([]turn.HistoryEntry(nil), st.History...)
	return s.m.store.SaveActor(ctx, snapshot)
}

// Release gives the actor to the next waiter. Calling it twice is harmless.
func (s *Session) Release() {
	if s.released {
		return
	}
	s.released = true
	s.e.lock.unlock()
	s.m.unref(s.e)
}
