// Package pipeline runs one inbound message end to end: admission, spam
// screening, classification, urgency adjustment and dispatch, with the
// actor's turns serialized in arrival order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/intentrouter/internal/audit"
	"github.com/nextlevelbuilder/intentrouter/internal/bus"
	"github.com/nextlevelbuilder/intentrouter/internal/classifier"
	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/preprocess"
	"github.com/nextlevelbuilder/intentrouter/internal/ratelimit"
	"github.com/nextlevelbuilder/intentrouter/internal/sessions"
	"github.com/nextlevelbuilder/intentrouter/internal/spam"
	"github.com/nextlevelbuilder/intentrouter/internal/tracing"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
	"github.com/nextlevelbuilder/intentrouter/internal/urgency"
	"github.com/nextlevelbuilder/intentrouter/pkg/protocol"
)

const (
	DefaultClassifierTimeout = 10 * time.Second
	DefaultSpamTimeout       = 5 * time.Second

	// ResponseSeparator joins handler fragments into Outcome.Response.
	ResponseSeparator = "\n\n"
)

// Message is one inbound message as the pipeline sees it.
type Message struct {
	ActorID           string                 `json:"actor_id"`
	MessageID         string                 `json:"message_id,omitempty"`
	Text              string                 `json:"message"`
	ConversationState turn.ConversationState `json:"conversation_state,omitempty"`
	// Context is supplied by the caller. When nil a minimal snapshot carrying
	// only the actor id is used.
	Context *turn.Snapshot `json:"context,omitempty"`
}

// Outcome is the caller-facing result of a processed message.
type Outcome struct {
	TurnID         string         `json:"turn_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	Intents        []intent.Label `json:"intents"`
	Pending        []intent.Label `json:"pending,omitempty"`
	Urgency        turn.Score     `json:"urgency"`
	Fragments      []string       `json:"fragments"`
	Response       string         `json:"response"`
	TerminalReason string         `json:"terminal_reason"`
	Reasoning      []string       `json:"reasoning"`
	Duplicate      bool           `json:"duplicate,omitempty"`
}

// Config holds the pipeline's own timeouts.
type Config struct {
	ClassifierTimeout time.Duration
	SpamTimeout       time.Duration
}

// Deps are the collaborators a Pipeline drives. Sessions, Classifier and
// Dispatcher are required.
type Deps struct {
	Sessions   *sessions.Manager
	Limiter    *ratelimit.SlidingWindow // nil admits everything
	Spam       *spam.Gate               // nil skips screening
	Classifier classifier.Classifier
	Adjuster   *urgency.Adjuster // nil uses the default rule table
	Dispatcher *dispatch.Dispatcher
	Audit      audit.Sink         // nil drops records
	Events     bus.EventPublisher // nil publishes nothing
	Dedupe     *bus.DedupeCache   // nil disables retry suppression
}

// Pipeline is safe for concurrent use. Different actors proceed in parallel.
type Pipeline struct {
	Deps
	classifyTimeout time.Duration
	spamTimeout     time.Duration
}

func New(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("pipeline: sessions manager is required")
	case deps.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("pipeline: dispatcher is required")
	}
	if deps.Adjuster == nil {
		deps.Adjuster = urgency.New(urgency.DefaultRules(urgency.DefaultConfig()))
	}
	p := &Pipeline{
		Deps:            deps,
		classifyTimeout: cfg.ClassifierTimeout,
		spamTimeout:     cfg.SpamTimeout,
	}
	if p.classifyTimeout <= 0 {
		p.classifyTimeout = DefaultClassifierTimeout
	}
	if p.spamTimeout <= 0 {
		p.spamTimeout = DefaultSpamTimeout
	}
	return p, nil
}

// Process runs msg through the pipeline. Only validation (ErrInvalidContext),
// admission (*RateLimitError) and caller cancellation while waiting for the
// actor are returned as errors; every later failure degrades inside the turn.
func (p *Pipeline) Process(ctx context.Context, msg Message) (*Outcome, error) {
	snap, err := buildSnapshot(msg)
	if err != nil {
		return nil, err
	}
	actor := snap.ActorID

	// The key is claimed before waiting on the actor so concurrent deliveries
	// of one message run once; it is released if the message is refused.
	dedupeKey := ""
	if p.Dedupe != nil && msg.MessageID != "" {
		dedupeKey = actor + ":" + msg.MessageID
		if p.Dedupe.IsDuplicate(dedupeKey) {
			slog.Info("pipeline: duplicate message dropped", "actor", actor, "message_id", msg.MessageID)
			return &Outcome{ActorID: actor, Duplicate: true}, nil
		}
	}
	release := func() {
		if dedupeKey != "" {
			p.Dedupe.Forget(dedupeKey)
		}
	}

	ctx, span := tracing.Start(ctx, "pipeline.process", attribute.String("actor.id", actor))
	var spanErr error
	defer func() { tracing.End(span, spanErr) }()

	sess, err := p.Sessions.Acquire(ctx, actor)
	if err != nil {
		release()
		spanErr = fmt.Errorf("wait for actor %s: %w", actor, err)
		return nil, spanErr
	}
	defer sess.Release()

	if p.Limiter != nil {
		if ok, retry := p.Limiter.Check(actor); !ok {
			release()
			rlErr := &RateLimitError{ActorID: actor, RetryAfter: retry}
			slog.Warn("security.rate_limited", "actor", actor, "retry_after", retry)
			p.publish(protocol.EventTurnRejected, protocol.TurnRejectedPayload{
				ActorID:           actor,
				Reason:            protocol.RejectRateLimited,
				RetryAfterSeconds: retrySeconds(retry),
			})
			spanErr = rlErr
			return nil, rlErr
		}
	}

	if len(snap.History) == 0 {
		snap.History = sess.History()
	}
	t := turn.New(*snap, msg.Text)
	t.NormalizedMessage = preprocess.Normalize(msg.Text)
	span.SetAttributes(attribute.String("turn.id", t.ID))

	if p.screen(ctx, t) {
		return p.finish(ctx, sess, t, nil, false), nil
	}

	carried := sess.Pending()
	classified := p.classify(ctx, t, msg.ConversationState)
	for _, l := range append(carried, classified...) {
		t.Queue.Push(l)
	}
	if len(carried) > 0 {
		t.Note(fmt.Sprintf("carried over from previous turn: %s", strings.Join(labelNames(carried), ", ")))
	}
	if t.Queue.Empty() {
		t.Queue.Push(intent.GeneralInfo)
		t.Note("no intents, routed to GENERAL_INFO")
	}
	intents := t.Queue.Labels()

	p.Adjuster.Apply(t)

	if err := p.Dispatcher.Run(ctx, t); err != nil {
		// Ceiling trips are already logged and the turn is terminal.
		spanErr = err
	}
	return p.finish(ctx, sess, t, intents, true), nil
}

// Quota reports the actor's per-window limit and what is left of it.
func (p *Pipeline) Quota(actorID string) (limit, remaining int, ok bool) {
	if p.Limiter == nil {
		return 0, 0, false
	}
	return p.Limiter.Max(), p.Limiter.Remaining(actorID), true
}

// screen runs the spam gate and reports whether it ended the turn.
func (p *Pipeline) screen(ctx context.Context, t *turn.Turn) bool {
	if p.Spam == nil {
		return false
	}
	sctx, cancel := context.WithTimeout(ctx, p.spamTimeout)
	defer cancel()
	isSpam, v := p.Spam.IsSpam(sctx, t.NormalizedMessage)
	if !isSpam {
		return false
	}
	t.Note(fmt.Sprintf("spam gate: confidence %.2f above %.2f", v.Confidence, spam.Threshold))
	t.Terminate(turn.ReasonSpam)
	slog.Info("pipeline: spam dropped", "actor", t.ActorID, "turn", t.ID, "confidence", v.Confidence)
	return true
}

// classify calls the classifier under its own timeout and returns the labels
// to queue. Failures fall back to GENERAL_INFO at urgency 1.
func (p *Pipeline) classify(ctx context.Context, t *turn.Turn, state turn.ConversationState) []intent.Label {
	if state == "" {
		state = t.Context.ConversationState
	}
	if t.NormalizedMessage == "" {
		t.Note("empty message after normalization, classifier skipped")
		t.SetUrgency(int(turn.MinScore))
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, p.classifyTimeout)
	defer cancel()
	cctx, span := tracing.Start(cctx, "pipeline.classify")
	res, err := p.Classifier.Classify(cctx, classifier.Request{
		Context:           &t.Context,
		Message:           t.NormalizedMessage,
		ConversationState: state,
	})
	tracing.End(span, err)

	if err != nil {
		slog.Warn("pipeline: classifier failed, using fallback",
			"actor", t.ActorID, "turn", t.ID, "error", err)
		t.Note(fmt.Sprintf("classifier fallback: %v", err))
		t.SetUrgency(int(turn.MinScore))
		return []intent.Label{intent.GeneralInfo}
	}

	t.SetUrgency(int(res.Urgency))
	if res.Reasoning != "" {
		t.Note("classifier: " + res.Reasoning)
	}
	if len(res.Labels) == 0 {
		t.Note("classifier returned no intents, routed to GENERAL_INFO")
		t.SetUrgency(int(turn.MinScore))
		return []intent.Label{intent.GeneralInfo}
	}
	valid := make([]intent.Label, 0, len(res.Labels))
	for _, l := range res.Labels {
		if l.Valid() {
			valid = append(valid, l)
		}
	}
	if len(valid) == 0 {
		slog.Warn("pipeline: classifier output malformed, using fallback",
			"actor", t.ActorID, "turn", t.ID, "labels", len(res.Labels))
		t.Note("classifier output malformed (no valid intents), routed to GENERAL_INFO")
		t.SetUrgency(int(turn.MinScore))
		return []intent.Label{intent.GeneralInfo}
	}
	return valid
}

// finish persists actor state, hands the record to audit and publishes the
// completion event. Spam turns leave actor state untouched.
func (p *Pipeline) finish(ctx context.Context, sess *sessions.Session, t *turn.Turn, intents []intent.Label, commit bool) *Outcome {
	fragments := t.Fragments()
	response := strings.Join(fragments, ResponseSeparator)

	if commit {
		now := time.Now().UTC()
		entries := []turn.HistoryEntry{{Role: "user", Content: t.RawMessage, At: t.CreatedAt}}
		if response != "" {
			entries = append(entries, turn.HistoryEntry{Role: "assistant", Content: response, At: now})
		}
		// Persist even if the caller went away; the turn already ran.
		if err := sess.Commit(context.WithoutCancel(ctx), t.Queue.Labels(), entries...); err != nil {
			slog.Error("pipeline: actor state save failed", "actor", t.ActorID, "turn", t.ID, "error", err)
		}
	}

	rec := t.Record(intents)
	if p.Audit != nil {
		if err := p.Audit.Record(context.WithoutCancel(ctx), rec); err != nil {
			slog.Warn("pipeline: audit record failed", "turn", t.ID, "error", err)
		}
	}

	out := &Outcome{
		TurnID:         t.ID,
		ActorID:        t.ActorID,
		Intents:        rec.Intents,
		Pending:        rec.Pending,
		Urgency:        rec.Urgency,
		Fragments:      fragments,
		Response:       response,
		TerminalReason: rec.TerminalReason,
		Reasoning:      rec.Reasoning,
	}
	if out.Intents == nil {
		out.Intents = []intent.Label{}
	}
	if out.Fragments == nil {
		out.Fragments = []string{}
	}

	p.publish(protocol.EventTurnCompleted, protocol.TurnCompletedPayload{
		TurnID:         out.TurnID,
		ActorID:        out.ActorID,
		Intents:        labelNames(out.Intents),
		Pending:        labelNames(out.Pending),
		Urgency:        int(out.Urgency),
		TerminalReason: out.TerminalReason,
		Fragments:      len(out.Fragments),
	})

	slog.Info("pipeline: turn finished",
		"actor", t.ActorID,
		"turn", t.ID,
		"intents", labelNames(out.Intents),
		"urgency", int(out.Urgency),
		"reason", out.TerminalReason,
		"pending", len(out.Pending),
	)
	return out
}

func (p *Pipeline) publish(name string, payload any) {
	if p.Events == nil {
		return
	}
	p.Events.Broadcast(bus.Event{Name: name, Payload: payload})
}

// buildSnapshot resolves the turn context from msg and validates it.
func buildSnapshot(msg Message) (*turn.Snapshot, error) {
	var snap turn.Snapshot
	if msg.Context != nil {
		snap = msg.Context.Clone()
	}
	actor := strings.TrimSpace(msg.ActorID)
	switch {
	case snap.ActorID == "":
		snap.ActorID = actor
	case actor != "" && actor != snap.ActorID:
		return nil, fmt.Errorf("%w: actor_id %q does not match context actor %q", turn.ErrInvalidContext, actor, snap.ActorID)
	}
	if msg.ConversationState != "" {
		snap.ConversationState = msg.ConversationState
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func labelNames(ls []intent.Label) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.String()
	}
	return out
}

func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
