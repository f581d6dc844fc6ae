package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

// WebhookConfig binds one target to an HTTP endpoint.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Token   string            `json:"-"` // from env, sent as a bearer token
}

// Webhook forwards the intent to an external flow and maps its reply back.
// The dispatcher's per-call timeout bounds each request through ctx.
type Webhook struct {
	target dispatch.Target
	cfg    WebhookConfig
	client *http.Client
}

func NewWebhook(target dispatch.Target, cfg WebhookConfig, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Webhook{target: target, cfg: cfg, client: client}
}

type webhookRequest struct {
	Intent  intent.Label   `json:"intent"`
	Target  string         `json:"target"`
	Context *turn.Snapshot `json:"context"`
	Message string         `json:"message"`
	TurnID  string         `json:"turn_id"`
	ActorID string         `json:"actor_id"`
	Urgency int            `json:"urgency"`
}

type webhookResponse struct {
	Fragment string         `json:"fragment"`
	Resolved *bool          `json:"resolved"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (w *Webhook) Handle(ctx context.Context, req dispatch.Request) (dispatch.Response, error) {
	body, err := json.Marshal(webhookRequest{
		Intent:  req.Label,
		Target:  string(w.target),
		Context: req.Context,
		Message: req.Message,
		TurnID:  req.TurnID,
		ActorID: req.ActorID,
		Urgency: int(req.Urgency),
	})
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if w.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("webhook %s: %w", w.target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("read webhook %s response: %w", w.target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return dispatch.Response{}, fmt.Errorf("webhook %s: status %d: %s", w.target, resp.StatusCode, truncate(raw, 200))
	}

	var out webhookResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return dispatch.Response{}, fmt.Errorf("decode webhook %s response: %w", w.target, err)
		}
	}
	// A 2xx without an explicit resolved flag counts as handled.
	resolved := out.Resolved == nil || *out.Resolved
	slog.Debug("webhook handled", "target", w.target, "turn", req.TurnID, "status", resp.StatusCode, "resolved", resolved)
	return dispatch.Response{Fragment: out.Fragment, Resolved: resolved, Metadata: out.Metadata}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Bind registers a Webhook for every configured target and placeholders for
// the rest. Unknown target names are an error.
func Bind(reg *dispatch.Registry, hooks map[string]WebhookConfig, client *http.Client) error {
	known := make(map[dispatch.Target]bool)
	for _, t := range dispatch.AllTargets() {
		known[t] = true
	}
	for name, cfg := range hooks {
		t := dispatch.Target(name)
		if !known[t] {
			return fmt.Errorf("handlers: unknown target %q", name)
		}
		if cfg.URL == "" {
			return fmt.Errorf("handlers: target %q has no url", name)
		}
		reg.Register(t, NewWebhook(t, cfg, client))
		slog.Info("handler bound to webhook", "target", t)
	}
	RegisterPlaceholders(reg)
	return nil
}
