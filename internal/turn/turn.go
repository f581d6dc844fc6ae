// Package turn holds the per-message unit of work and the read-only context it
// carries through preprocessing, classification, urgency adjustment and dispatch.
package turn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
)

// Score is an urgency value. Every write goes through Clamp.
type Score int

const (
	MinScore Score = 1
	MaxScore Score = 5
)

// Clamp bounds v to [MinScore, MaxScore].
func Clamp(v int) Score {
	switch {
	case v < int(MinScore):
		return MinScore
	case v > int(MaxScore):
		return MaxScore
	}
	return Score(v)
}

// State is the dispatcher state of a turn.
type State int

const (
	Idle State = iota
	Dispatching
	Terminal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case Terminal:
		return "terminal"
	}
	return "unknown"
}

// Terminal reasons.
const (
	ReasonCompleted        = "completed"
	ReasonSpam             = "spam"
	ReasonOverride         = "override"
	ReasonUnresolved       = "unresolved"
	ReasonHandlerFailed    = "handler_failed"
	ReasonIterationCeiling = "iteration_ceiling"
	ReasonCancelled        = "cancelled"
)

// Dispatch records one handler invocation.
type Dispatch struct {
	Cycle    int            `json:"cycle"`
	Label    intent.Label   `json:"intent,omitempty"`
	Target   string         `json:"target"`
	Override bool           `json:"override,omitempty"`
	Degraded bool           `json:"degraded,omitempty"`
	Resolved bool           `json:"resolved"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Turn is the unit of work for one inbound message. A Turn becomes Terminal
// exactly once and is never reused afterwards.
type Turn struct {
	ID                string
	ActorID           string
	RawMessage        string
	NormalizedMessage string
	Context           Snapshot
	Queue             *intent.Queue
	CreatedAt         time.Time

	mu             sync.Mutex
	urgency        Score
	reasoning      []string
	fragments      []string
	dispatches     []Dispatch
	state          State
	terminalReason string
	finishedAt     time.Time
}

// New creates an Idle turn with urgency at the floor.
func New(snap Snapshot, raw string) *Turn {
	return &Turn{
		ID:         newTurnID(),
		ActorID:    snap.ActorID,
		RawMessage: raw,
		Context:    snap.Clone(),
		Queue:      intent.NewQueue(),
		CreatedAt:  time.Now().UTC(),
		urgency:    MinScore,
	}
}

func newTurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (t *Turn) Urgency() Score {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.urgency
}

// SetUrgency stores v clamped to [1,5].
func (t *Turn) SetUrgency(v int) Score {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.urgency = Clamp(v)
	return t.urgency
}

// Note appends to the reasoning trace.
func (t *Turn) Note(lines ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range lines {
		if l != "" {
			t.reasoning = append(t.reasoning, l)
		}
	}
}

func (t *Turn) Reasoning() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.reasoning...)
}

// AddFragment appends a handler response fragment. Empty fragments are kept out.
func (t *Turn) AddFragment(f string) {
	if f == "" {
		return
	}
	t.mu.Lock()
	t.fragments = append(t.fragments, f)
	t.mu.Unlock()
}

func (t *Turn) Fragments() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.fragments...)
}

func (t *Turn) AddDispatch(d Dispatch) {
	t.mu.Lock()
	t.dispatches = append(t.dispatches, d)
	t.mu.Unlock()
}

func (t *Turn) Dispatches() []Dispatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Dispatch(nil), t.dispatches...)
}

func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Turn) IsTerminal() bool { return t.State() == Terminal }

// Begin moves an Idle turn to Dispatching. It returns false for a Terminal turn.
func (t *Turn) Begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case Terminal:
		return false
	case Idle:
		t.state = Dispatching
	}
	return true
}

// Terminate marks the turn Terminal. Only the first call has any effect;
// later calls return false and keep the original reason.
func (t *Turn) Terminate(reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Terminal {
		return false
	}
	t.state = Terminal
	t.terminalReason = reason
	t.finishedAt = time.Now().UTC()
	return true
}

func (t *Turn) TerminalReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminalReason
}

// Record is the immutable final state of a turn handed to the audit sink.
type Record struct {
	TurnID            string         `json:"turn_id"`
	ActorID           string         `json:"actor_id"`
	RawMessage        string         `json:"raw_message"`
	NormalizedMessage string         `json:"normalized_message"`
	Intents           []intent.Label `json:"intents"`
	Pending           []intent.Label `json:"pending,omitempty"`
	Urgency           Score          `json:"urgency"`
	Reasoning         []string       `json:"reasoning"`
	Fragments         []string       `json:"fragments"`
	Dispatches        []Dispatch     `json:"dispatches"`
	TerminalReason    string         `json:"terminal_reason"`
	CreatedAt         time.Time      `json:"created_at"`
	FinishedAt        time.Time      `json:"finished_at"`
}

// Record snapshots the turn. intents is the label set the turn started with,
// which the queue no longer holds once dispatch has drained it.
func (t *Turn) Record(intents []intent.Label) Record {
	pending := t.Queue.Labels()
	t.mu.Lock()
	defer t.mu.Unlock()
	return Record{
		TurnID:            t.ID,
		ActorID:           t.ActorID,
		RawMessage:        t.RawMessage,
		NormalizedMessage: t.NormalizedMessage,
		Intents:           append([]intent.Label(nil), intents...),
		Pending:           pending,
		Urgency:           t.urgency,
		Reasoning:         append([]string(nil), t.reasoning...),
		Fragments:         append([]string(nil), t.fragments...),
		Dispatches:        append([]Dispatch(nil), t.dispatches...),
		TerminalReason:    t.terminalReason,
		CreatedAt:         t.CreatedAt,
		FinishedAt:        t.finishedAt,
	}
}
