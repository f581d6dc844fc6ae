package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/nextlevelbuilder/intentrouter/internal/bus"
	"github.com/nextlevelbuilder/intentrouter/internal/pipeline"
	"github.com/nextlevelbuilder/intentrouter/internal/sessions"
)

// rateLimitNotice is sent once per rejected message so the patient knows to wait.
const rateLimitNotice = "Recebemos muitas mensagens suas em pouco tempo. Por favor, aguarde %d segundos e tente novamente."

// messageProcessor is the slice of *pipeline.Pipeline the consumer uses.
type messageProcessor interface {
	Process(ctx context.Context, msg pipeline.Message) (*pipeline.Outcome, error)
}

// consumeInboundMessages reads channel messages from the bus, runs each one
// through the pipeline and publishes the reply. Messages from one chat are
// handed to the pipeline in arrival order; different chats run concurrently.
func consumeInboundMessages(ctx context.Context, msgBus bus.MessageRouter, proc messageProcessor) {
	slog.Info("inbound message consumer started")
	q := newChatQueues(func(msg bus.InboundMessage) { handleInbound(ctx, msgBus, proc, msg) })
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			q.wait()
			slog.Info("inbound message consumer stopped")
			return
		}
		q.push(sessions.BuildActorID(msg.Channel, msg.ChatID), msg)
	}
}

func handleInbound(ctx context.Context, msgBus bus.MessageRouter, proc messageProcessor, msg bus.InboundMessage) {
	actorID := sessions.BuildActorID(msg.Channel, msg.ChatID)
	out, err := proc.Process(ctx, pipeline.Message{
		ActorID:   actorID,
		MessageID: msg.MessageID,
		Text:      msg.Content,
	})

	var rl *pipeline.RateLimitError
	switch {
	case errors.As(err, &rl):
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: fmt.Sprintf(rateLimitNotice, retryAfterSeconds(rl)),
		})
		return
	case err != nil:
		slog.Warn("inbound message not processed", "actor", actorID, "error", err)
		return
	case out.Duplicate || out.Response == "":
		return
	}

	msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: out.Response,
		Metadata: map[string]string{
			"turn_id":         out.TurnID,
			"terminal_reason": out.TerminalReason,
		},
	})
}

func retryAfterSeconds(rl *pipeline.RateLimitError) int {
	return max(int(math.Ceil(rl.RetryAfter.Seconds())), 1)
}

// chatQueues runs fn for each pushed message, one worker per key, in push
// order. A worker exits once its queue drains.
type chatQueues struct {
	mu      sync.Mutex
	pending map[string][]bus.InboundMessage
	wg      sync.WaitGroup
	fn      func(bus.InboundMessage)
}

func newChatQueues(fn func(bus.InboundMessage)) *chatQueues {
	return &chatQueues{pending: make(map[string][]bus.InboundMessage), fn: fn}
}

func (q *chatQueues) push(key string, msg bus.InboundMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if backlog, running := q.pending[key]; running {
		q.pending[key] = append(backlog, msg)
		return
	}
	q.pending[key] = []bus.InboundMessage{}
	q.wg.Add(1)
	go q.drain(key, msg)
}

func (q *chatQueues) drain(key string, msg bus.InboundMessage) {
	defer q.wg.Done()
	for {
		q.fn(msg)

		q.mu.Lock()
		backlog := q.pending[key]
		if len(backlog) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		msg = backlog[0]
		q.pending[key] = backlog[1:]
		q.mu.Unlock()
	}
}

func (q *chatQueues) wait() { q.wg.Wait() }
