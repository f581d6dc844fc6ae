package cmd

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/intentrouter/internal/bus"
	"github.com/nextlevelbuilder/intentrouter/internal/config"
	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/handlers"
	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/pipeline"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Backend = "memory"
	cfg.Classifier.Mode = "keyword"
	cfg.Audit.Log = new(bool)
	cfg.Overrides.BusinessHours = dispatch.BusinessHours{} // always open
	return cfg
}

func TestBuildEngine_EndToEnd(t *testing.T) {
	eng, err := buildEngine(testConfig())
	require.NoError(t, err)
	defer eng.close()

	out, err := eng.pipeline.Process(context.Background(), pipeline.Message{
		ActorID: "telegram:42",
		Text:    "quero agendar uma consulta e saber o preço do pacote",
	})
	require.NoError(t, err)

	assert.Equal(t, []intent.Label{intent.Scheduling, intent.Sales}, out.Intents)
	assert.Equal(t, turn.ReasonCompleted, out.TerminalReason)
	require.Len(t, out.Fragments, 2)
	assert.Contains(t, out.Fragments[0], "[SCHEDULER AGENT]")
	assert.Contains(t, out.Fragments[1], "[CLOSER AGENT]")
	assert.Equal(t, strings.Join(out.Fragments, pipeline.ResponseSeparator), out.Response)
	assert.Len(t, eng.registry.Missing(), 0, "placeholders fill every target")
}

func TestBuildEngine_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.Handlers = map[string]handlers.WebhookConfig{"nope": {URL: "http://x"}}
	_, err := buildEngine(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Overrides.BusinessHours = dispatch.BusinessHours{Start: 8, End: 30}
	_, err = buildEngine(cfg)
	assert.Error(t, err)
}

func TestBuildEngine_RateLimitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.RateLimit.MaxRequests = -1
	eng, err := buildEngine(cfg)
	require.NoError(t, err)
	defer eng.close()
	assert.Nil(t, eng.limiter)
}

type fakeProc struct {
	mu    sync.Mutex
	seen  []string
	delay time.Duration
	err   error
	out   func(pipeline.Message) *pipeline.Outcome
}

func (f *fakeProc) Process(_ context.Context, msg pipeline.Message) (*pipeline.Outcome, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	f.seen = append(f.seen, msg.ActorID+"/"+msg.Text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.out(msg), nil
}

func (f *fakeProc) seenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func TestConsumeInbound_OrderAndReplies(t *testing.T) {
	b := bus.New()
	proc := &fakeProc{delay: time.Millisecond, out: func(m pipeline.Message) *pipeline.Outcome {
		if m.Text == "dup" {
			return &pipeline.Outcome{Duplicate: true}
		}
		return &pipeline.Outcome{TurnID: "t", Response: "re: " + m.Text, TerminalReason: turn.ReasonCompleted}
	}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumeInboundMessages(ctx, b, proc)
		close(done)
	}()

	for _, text := range []string{"1", "2", "dup", "3"} {
		b.PublishInbound(bus.InboundMessage{Channel: "telegram", ChatID: "42", MessageID: text, Content: text})
	}

	var replies []string
	for range 3 {
		octx, ocancel := context.WithTimeout(context.Background(), 2*time.Second)
		msg, ok := b.SubscribeOutbound(octx)
		ocancel()
		require.True(t, ok)
		assert.Equal(t, "telegram", msg.Channel)
		assert.Equal(t, "42", msg.ChatID)
		replies = append(replies, msg.Content)
	}
	assert.Equal(t, []string{"re: 1", "re: 2", "re: 3"}, replies)

	proc.mu.Lock()
	assert.Equal(t, []string{"telegram:42/1", "telegram:42/2", "telegram:42/dup", "telegram:42/3"}, proc.seen)
	proc.mu.Unlock()

	cancel()
	<-done
}

func TestHandleInbound_RateLimited(t *testing.T) {
	b := bus.New()
	proc := &fakeProc{err: &pipeline.RateLimitError{ActorID: "discord:c1", RetryAfter: 50200 * time.Millisecond}}

	handleInbound(context.Background(), b, proc, bus.InboundMessage{Channel: "discord", ChatID: "c1", Content: "oi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Contains(t, msg.Content, "51 segundos")
}

func TestHandleInbound_OtherErrorsStaySilent(t *testing.T) {
	b := bus.New()
	proc := &fakeProc{err: errors.New("boom")}
	handleInbound(context.Background(), b, proc, bus.InboundMessage{Channel: "discord", ChatID: "c1", Content: "oi"})
	assert.Equal(t, 1, proc.seenCount())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := b.SubscribeOutbound(ctx)
	assert.False(t, ok)
}

func TestChatQueues_PerKeyOrderAndParallelism(t *testing.T) {
	var (
		mu   sync.Mutex
		got  = map[string][]string{}
		gate = make(chan struct{})
	)
	q := newChatQueues(func(m bus.InboundMessage) {
		if m.ChatID == "slow" {
			<-gate
		}
		mu.Lock()
		got[m.ChatID] = append(got[m.ChatID], m.Content)
		mu.Unlock()
	})

	q.push("slow", bus.InboundMessage{ChatID: "slow", Content: "a"})
	q.push("slow", bus.InboundMessage{ChatID: "slow", Content: "b"})
	q.push("fast", bus.InboundMessage{ChatID: "fast", Content: "x"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["fast"]) == 1
	}, time.Second, time.Millisecond, "a blocked chat does not hold up others")

	close(gate)
	q.wait()
	assert.Equal(t, []string{"a", "b"}, got["slow"])
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "(not configured)", maskKey(""))
	assert.Equal(t, "*****", maskKey("short"))
	assert.Equal(t, "sk-a*****wxyz", maskKey("sk-abcdefwxyz"))
}
