package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

func TestPlaceholder(t *testing.T) {
	resp, err := Placeholder{Target: dispatch.TargetMedical}.Handle(context.Background(), dispatch.Request{})
	require.NoError(t, err)
	assert.True(t, resp.Resolved)
	assert.Equal(t, "[MEDICAL AGENT] Assessing medical concern...", resp.Fragment)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Placeholder{Target: dispatch.TargetFAQ}.Handle(ctx, dispatch.Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegisterPlaceholders_KeepsExisting(t *testing.T) {
	reg := dispatch.NewRegistry()
	custom := dispatch.HandlerFunc(func(context.Context, dispatch.Request) (dispatch.Response, error) {
		return dispatch.Response{Fragment: "custom", Resolved: true}, nil
	})
	reg.Register(dispatch.TargetScheduler, custom)
	RegisterPlaceholders(reg)

	assert.Empty(t, reg.Missing())
	h, _ := reg.Get(dispatch.TargetScheduler)
	resp, err := h.Handle(context.Background(), dispatch.Request{})
	require.NoError(t, err)
	assert.Equal(t, "custom", resp.Fragment)
}

func TestWebhook(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantErr      bool
		wantResolved bool
		wantFragment string
	}{
		{name: "resolved", status: 200, body: `{"fragment":"agendado","resolved":true,"metadata":{"slot":"10h"}}`, wantResolved: true, wantFragment: "agendado"},
		{name: "unresolved", status: 200, body: `{"fragment":"qual horário?","resolved":false}`, wantResolved: false, wantFragment: "qual horário?"},
		{name: "no resolved flag", status: 200, body: `{"fragment":"ok"}`, wantResolved: true, wantFragment: "ok"},
		{name: "empty body", status: 204, body: ``, wantResolved: true},
		{name: "server error", status: 502, body: `bad gateway`, wantErr: true},
		{name: "garbage", status: 200, body: `not json`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			var auth, custom string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				auth = r.Header.Get("Authorization")
				custom = r.Header.Get("X-Flow")
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			h := NewWebhook(dispatch.TargetScheduler, WebhookConfig{
				URL:     srv.URL,
				Headers: map[string]string{"X-Flow": "sched"},
				Token:   "s3cret",
			}, srv.Client())
			snap := &turn.Snapshot{ActorID: "a1"}
			resp, err := h.Handle(context.Background(), dispatch.Request{
				Target:  dispatch.TargetScheduler,
				Label:   intent.Scheduling,
				Context: snap,
				Message: "quero marcar",
				TurnID:  "t1",
				ActorID: "a1",
				Urgency: 2,
			})

			assert.Equal(t, "Bearer s3cret", auth)
			assert.Equal(t, "sched", custom)
			assert.Equal(t, "SCHEDULING", got["intent"])
			assert.Equal(t, "scheduler", got["target"])
			assert.NotNil(t, got["context"])

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantResolved, resp.Resolved)
			assert.Equal(t, tt.wantFragment, resp.Fragment)
		})
	}
}

func TestBind(t *testing.T) {
	reg := dispatch.NewRegistry()
	require.NoError(t, Bind(reg, map[string]WebhookConfig{"closer": {URL: "http://flows.local/closer"}}, nil))
	h, ok := reg.Get(dispatch.TargetCloser)
	require.True(t, ok)
	assert.IsType(t, &Webhook{}, h)
	assert.Empty(t, reg.Missing())

	require.Error(t, Bind(dispatch.NewRegistry(), map[string]WebhookConfig{"nope": {URL: "http://x"}}, nil))
	require.Error(t, Bind(dispatch.NewRegistry(), map[string]WebhookConfig{"faq": {}}, nil))
}
