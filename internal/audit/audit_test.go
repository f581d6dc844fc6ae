package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/store/sqlitestore"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

type collectSink struct {
	mu   sync.Mutex
	recs []turn.Record
}

func (c *collectSink) Record(_ context.Context, rec turn.Record) error {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
	return nil
}

func (c *collectSink) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.recs))
	for i, r := range c.recs {
		out[i] = r.TurnID
	}
	return out
}

func TestRecorder_DrainsOnClose(t *testing.T) {
	sink := &collectSink{}
	r := NewRecorder(sink, 8)
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, r.Record(context.Background(), turn.Record{TurnID: id}))
	}
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, []string{"t1", "t2", "t3"}, sink.ids())

	// after close: dropped silently
	require.NoError(t, r.Record(context.Background(), turn.Record{TurnID: "late"}))
	require.NoError(t, r.Close(context.Background()))
	assert.Len(t, sink.ids(), 3)
}

func TestRecorder_NeverBlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocking := SinkFunc(func(ctx context.Context, _ turn.Record) error {
		<-release
		return nil
	})
	r := NewRecorder(blocking, 1)

	done := make(chan struct{})
	go func() {
		for range 10 {
			_ = r.Record(context.Background(), turn.Record{TurnID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a stuck sink")
	}
	assert.Positive(t, r.Dropped())

	close(release)
	require.NoError(t, r.Close(context.Background()))
}

func TestRecorder_SinkErrorsAreSwallowed(t *testing.T) {
	var calls int
	var mu sync.Mutex
	r := NewRecorder(SinkFunc(func(context.Context, turn.Record) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("disk full")
	}), 4)
	require.NoError(t, r.Record(context.Background(), turn.Record{TurnID: "a"}))
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	ok := &collectSink{}
	boom := errors.New("boom")
	m := MultiSink{ok, SinkFunc(func(context.Context, turn.Record) error { return boom })}
	err := m.Record(context.Background(), turn.Record{TurnID: "a"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, ok.ids(), "later failures do not stop earlier sinks")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	require.NoError(t, s.Record(context.Background(), turn.Record{
		TurnID:         "t1",
		ActorID:        "telegram:1",
		Intents:        []intent.Label{intent.MedicalAssessment},
		Urgency:        4,
		TerminalReason: turn.ReasonCompleted,
	}))
	out := buf.String()
	assert.Contains(t, out, "audit.turn")
	assert.Contains(t, out, "turn=t1")
	assert.Contains(t, out, "MEDICAL_ASSESSMENT")
	assert.Contains(t, out, "reason=completed")
}

func TestStoreSink_SQLite(t *testing.T) {
	db, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	s := StoreSink{Store: db}
	now := time.Now().UTC()
	require.NoError(t, s.Record(context.Background(), turn.Record{
		TurnID:         "0193a7c2-0000-7000-8000-0000000000aa",
		ActorID:        "a1",
		Urgency:        2,
		TerminalReason: turn.ReasonCompleted,
		CreatedAt:      now,
	}))
	got, err := db.ListTurns(context.Background(), "a1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, turn.Score(2), got[0].Urgency)
}
