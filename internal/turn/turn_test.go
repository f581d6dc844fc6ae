package turn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		in   int
		want Score
	}{
		{-3, 1}, {0, 1}, {1, 1}, {3, 3}, {5, 5}, {6, 5}, {100, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clamp(tt.in), "Clamp(%d)", tt.in)
	}
}

func TestTurn_UrgencyNeverLeavesBounds(t *testing.T) {
	tr := New(Snapshot{ActorID: "a1"}, "hi")
	assert.Equal(t, MinScore, tr.Urgency())

	for _, v := range []int{9, -9, 4, 12} {
		got := tr.SetUrgency(v)
		assert.GreaterOrEqual(t, got, MinScore)
		assert.LessOrEqual(t, got, MaxScore)
	}
}

func TestTurn_TerminateOnce(t *testing.T) {
	tr := New(Snapshot{ActorID: "a1"}, "hi")
	require.True(t, tr.Begin())
	assert.Equal(t, Dispatching, tr.State())

	assert.True(t, tr.Terminate(ReasonSpam))
	assert.False(t, tr.Terminate(ReasonCompleted))
	assert.Equal(t, ReasonSpam, tr.TerminalReason())
	assert.False(t, tr.Begin(), "terminal turn must not restart")
}

func TestSnapshot_Validate(t *testing.T) {
	var nilSnap *Snapshot
	assert.ErrorIs(t, nilSnap.Validate(), ErrInvalidContext)
	assert.ErrorIs(t, (&Snapshot{ActorID: "  "}).Validate(), ErrInvalidContext)
	assert.NoError(t, (&Snapshot{ActorID: "p-1"}).Validate())
}

func TestSnapshot_Helpers(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	proc := now.Add(-30 * time.Hour)
	s := Snapshot{
		ActorID:         "p-1",
		Profile:         Profile{Tier: "VIP"},
		Flags:           map[string]bool{"pregnant": true},
		ActiveItems:     []ActiveItem{{Service: "botox", Price: 2500}, {Service: "laser", Price: 3000}},
		LastProcedureAt: &proc,
	}
	assert.True(t, s.IsPregnant())
	assert.True(t, s.IsTopTier())
	assert.InDelta(t, 5500, s.ActiveItemsTotal(), 0.001)

	h, ok := s.HoursSinceProcedure(now)
	require.True(t, ok)
	assert.InDelta(t, 30, h, 0.001)

	_, ok = (&Snapshot{}).HoursSinceProcedure(now)
	assert.False(t, ok)
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	s := Snapshot{ActorID: "p", Flags: map[string]bool{"pregnant": false}}
	tr := New(s, "x")
	s.Flags["pregnant"] = true
	assert.False(t, tr.Context.IsPregnant())
}

func TestTurn_Record(t *testing.T) {
	tr := New(Snapshot{ActorID: "a1"}, "Olá!!!")
	tr.NormalizedMessage = "olá!"
	tr.Queue.Push(intent.Sales)
	tr.Note("classified", "")
	tr.AddFragment("")
	tr.AddFragment("[SALES] hi")
	tr.AddDispatch(Dispatch{Cycle: 1, Label: intent.Scheduling, Target: "scheduler", Resolved: true})
	tr.Terminate(ReasonUnresolved)

	rec := tr.Record([]intent.Label{intent.Scheduling, intent.Sales})
	assert.Equal(t, tr.ID, rec.TurnID)
	assert.Equal(t, []intent.Label{intent.Sales}, rec.Pending)
	assert.Equal(t, []string{"classified"}, rec.Reasoning)
	assert.Equal(t, []string{"[SALES] hi"}, rec.Fragments)
	assert.Len(t, rec.Dispatches, 1)
	assert.Equal(t, ReasonUnresolved, rec.TerminalReason)
	assert.False(t, rec.FinishedAt.IsZero())
}
