// Package audit receives the final record of every turn. Recording is
// fire-and-forget: a slow or failing sink never delays or fails a turn.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/intentrouter/internal/store"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

const (
	DefaultBuffer      = 1024
	DefaultSinkTimeout = 5 * time.Second
)

// Sink consumes finished turn records.
type Sink interface {
	Record(ctx context.Context, rec turn.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec turn.Record) error

func (f SinkFunc) Record(ctx context.Context, rec turn.Record) error { return f(ctx, rec) }

// LogSink writes one structured log line per turn.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(_ context.Context, rec turn.Record) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("audit.turn",
		"turn", rec.TurnID,
		"actor", rec.ActorID,
		"intents", labelNames(rec),
		"urgency", int(rec.Urgency),
		"dispatches", len(rec.Dispatches),
		"pending", len(rec.Pending),
		"reason", rec.TerminalReason,
	)
	return nil
}

func labelNames(rec turn.Record) []string {
	out := make([]string, len(rec.Intents))
	for i, l := range rec.Intents {
		out[i] = l.String()
	}
	return out
}

// StoreSink persists records through a store.AuditStore.
type StoreSink struct {
	Store store.AuditStore
}

func (s StoreSink) Record(ctx context.Context, rec turn.Record) error {
	return s.Store.SaveTurn(ctx, rec)
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, rec turn.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder buffers records and drains them to a Sink on a background worker.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	queue   chan turn.Record

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewRecorder starts the worker. buffer <= 0 uses DefaultBuffer.
func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		sink:    sink,
		timeout: DefaultSinkTimeout,
		queue:   make(chan turn.Record, buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues rec without blocking. It drops the record when the buffer
// is full or the recorder is closed.
func (r *Recorder) Record(_ context.Context, rec turn.Record) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		slog.Warn("audit: recorder closed, record dropped", "turn", rec.TurnID)
		return nil
	}
	select {
	case r.queue <- rec:
	default:
		n := r.dropped.Add(1)
		slog.Warn("audit: buffer full, record dropped", "turn", rec.TurnID, "actor", rec.ActorID, "dropped_total", n)
	}
	return nil
}

// Dropped returns how many records were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Record(ctx, rec); err != nil {
			slog.Error("audit: sink failed", "turn", rec.TurnID, "actor", rec.ActorID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting records and waits for the buffer to drain or ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
