// Package dispatch runs the priority state machine over a turn's intent queue.
//
// Each cycle either fires the first matching override (which ends the turn) or
// services the highest-priority queued intent and removes it on resolution.
// The loop ends when the queue drains, an override fires, a handler fails or
// leaves its intent unresolved, or the iteration ceiling trips.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/tracing"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

// ErrIterationCeiling means the loop ran more cycles than the queue could ever
// justify. It indicates a broken invariant, not a user error.
var ErrIterationCeiling = errors.New("dispatch iteration ceiling exceeded")

const (
	DefaultHandlerTimeout = 15 * time.Second

	// ceilingSlack covers the final empty-queue cycle plus one override cycle.
	ceilingSlack = 2
)

// Dispatcher is stateless between turns and safe for concurrent use; the caller
// serializes turns of the same actor.
type Dispatcher struct {
	registry  *Registry
	overrides []Override
	timeout   time.Duration
	ceiling   int
	now       func() time.Time
}

type Option func(*Dispatcher)

// WithHandlerTimeout bounds each handler call.
func WithHandlerTimeout(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithClock overrides time.Now for override evaluation.
func WithClock(now func() time.Time) Option {
	return func(x *Dispatcher) { x.now = now }
}

// WithOverrides replaces the override table. Pass nil to disable overrides.
func WithOverrides(o []Override) Option {
	return func(x *Dispatcher) { x.overrides = o }
}

// WithIterationCeiling lowers or raises the loop guard.
func WithIterationCeiling(n int) Option {
	return func(x *Dispatcher) {
		if n > 0 {
			x.ceiling = n
		}
	}
}

func New(reg *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		timeout:  DefaultHandlerTimeout,
		ceiling:  intent.Count() + ceilingSlack,
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run drives t to Terminal. A turn that is already Terminal is left untouched.
// The only error returned is ErrIterationCeiling; handler failures degrade inside
// the turn and show up in its reasoning trace and terminal reason.
func (d *Dispatcher) Run(ctx context.Context, t *turn.Turn) error {
	if !t.Begin() {
		return nil
	}

	ctx, span := tracing.Start(ctx, "dispatch.run",
		attribute.String("turn.id", t.ID),
		attribute.String("actor.id", t.ActorID),
		attribute.StringSlice("intents", t.Queue.Strings()),
	)
	var runErr error
	defer func() {
		span.SetAttributes(attribute.String("terminal_reason", t.TerminalReason()))
		tracing.End(span, runErr)
	}()

	for cycle := 1; ; cycle++ {
		if cycle > d.ceiling {
			slog.Error("dispatch: iteration ceiling exceeded",
				"turn", t.ID, "actor", t.ActorID, "ceiling", d.ceiling, "discarded", t.Queue.Strings())
			t.Note(fmt.Sprintf("internal error: iteration ceiling %d exceeded, queue discarded", d.ceiling))
			t.Queue.Clear()
			t.Terminate(turn.ReasonIterationCeiling)
			runErr = ErrIterationCeiling
			return runErr
		}

		if err := ctx.Err(); err != nil {
			t.Note("dispatch cancelled: " + err.Error())
			t.Terminate(turn.ReasonCancelled)
			return nil
		}

		if ov, ok := d.matchOverride(t); ok {
			label, _ := t.Queue.Highest()
			t.Note(fmt.Sprintf("cycle %d: override %s -> %s", cycle, ov.Name, ov.Target))
			resp, err := d.invoke(ctx, t, cycle, ov.Target, label, true, false)
			if err == nil {
				t.AddFragment(resp.Fragment)
			} else {
				d.degrade(ctx, t, cycle, ov.Target, label)
			}
			t.Terminate(turn.ReasonOverride)
			return nil
		}

		label, ok := t.Queue.Highest()
		if !ok {
			t.Terminate(turn.ReasonCompleted)
			return nil
		}

		target := TargetFor(label)
		resp, err := d.invoke(ctx, t, cycle, target, label, false, false)
		if err != nil {
			t.Note(fmt.Sprintf("cycle %d: %s failed on %s, intent left queued: %v", cycle, target, label, err))
			d.degrade(ctx, t, cycle, target, label)
			t.Terminate(turn.ReasonHandlerFailed)
			return nil
		}

		t.AddFragment(resp.Fragment)
		if !resp.Resolved {
			t.Note(fmt.Sprintf("cycle %d: %s left %s unresolved, carried to next message", cycle, target, label))
			t.Terminate(turn.ReasonUnresolved)
			return nil
		}

		t.Queue.Remove(label)
		t.Note(fmt.Sprintf("cycle %d: %s (rank %d) resolved by %s", cycle, label, label.Rank(), target))
	}
}

func (d *Dispatcher) matchOverride(t *turn.Turn) (Override, bool) {
	if len(d.overrides) == 0 {
		return Override{}, false
	}
	in := OverrideInput{
		Urgency: t.Urgency(),
		Context: &t.Context,
		Queue:   t.Queue,
		Now:     d.now(),
	}
	for _, o := range d.overrides {
		if o.When != nil && o.When(in) {
			return o, true
		}
	}
	return Override{}, false
}

// degrade gives the user a generic answer after a failed call, once, unless the
// generic handler is the one that failed.
func (d *Dispatcher) degrade(ctx context.Context, t *turn.Turn, cycle int, failed Target, label intent.Label) {
	if failed == TargetGeneralInfo {
		return
	}
	if _, ok := d.registry.Get(TargetGeneralInfo); !ok {
		return
	}
	resp, err := d.invoke(ctx, t, cycle, TargetGeneralInfo, label, false, true)
	if err != nil {
		t.Note(fmt.Sprintf("cycle %d: fallback %s also failed: %v", cycle, TargetGeneralInfo, err))
		return
	}
	t.AddFragment(resp.Fragment)
	t.Note(fmt.Sprintf("cycle %d: degraded to %s", cycle, TargetGeneralInfo))
}

type callResult struct {
	resp Response
	err  error
}

// invoke calls one handler under the per-call timeout and records the dispatch.
// A handler that ignores its context is abandoned when the timeout fires.
func (d *Dispatcher) invoke(ctx context.Context, t *turn.Turn, cycle int, target Target, label intent.Label, override, degraded bool) (Response, error) {
	start := time.Now()
	rec := turn.Dispatch{Cycle: cycle, Label: label, Target: string(target), Override: override, Degraded: degraded}

	h, ok := d.registry.Get(target)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrHandlerNotFound, target)
		rec.Error = err.Error()
		t.AddDispatch(rec)
		slog.Warn("dispatch: no handler bound", "turn", t.ID, "actor", t.ActorID, "target", target)
		return Response{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	callCtx, span := tracing.Start(callCtx, "dispatch.handler",
		attribute.String("target", string(target)),
		attribute.String("intent", label.String()),
		attribute.Int("cycle", cycle),
	)

	req := Request{
		Target:  target,
		Label:   label,
		Context: &t.Context,
		Message: t.NormalizedMessage,
		TurnID:  t.ID,
		ActorID: t.ActorID,
		Urgency: t.Urgency(),
	}

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("handler %s panicked: %v", target, r)}
			}
		}()
		resp, err := h.Handle(callCtx, req)
		done <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
		if res.err == nil && callCtx.Err() != nil {
			// Finished, but only after its deadline.
			res = callResult{err: callCtx.Err()}
		}
	case <-callCtx.Done():
		res.err = fmt.Errorf("handler %s: %w", target, callCtx.Err())
	}

	rec.Duration = time.Since(start)
	if res.err != nil {
		rec.Error = res.err.Error()
		slog.Warn("dispatch: handler failed",
			"turn", t.ID, "actor", t.ActorID, "target", target, "intent", label, "error", res.err)
	} else {
		rec.Resolved = res.resp.Resolved
		rec.Metadata = res.resp.Metadata
		slog.Debug("dispatch: handler done",
			"turn", t.ID, "actor", t.ActorID, "target", target, "intent", label,
			"resolved", res.resp.Resolved, "duration", rec.Duration)
	}
	t.AddDispatch(rec)
	tracing.End(span, res.err)
	return res.resp, res.err
}
