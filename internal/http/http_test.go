package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/pipeline"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

type procFunc func(ctx context.Context, msg pipeline.Message) (*pipeline.Outcome, error)

func (f procFunc) Process(ctx context.Context, msg pipeline.Message) (*pipeline.Outcome, error) {
	return f(ctx, msg)
}

type auditStub struct {
	recs     []turn.Record
	err      error
	gotActor string
	gotLimit int
}

func (a *auditStub) SaveTurn(context.Context, turn.Record) error { return nil }

func (a *auditStub) ListTurns(_ context.Context, actorID string, limit int) ([]turn.Record, error) {
	a.gotActor, a.gotLimit = actorID, limit
	return a.recs, a.err
}

func newMux(h interface{ RegisterRoutes(*http.ServeMux) }) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

const testMaxChars = 20

func TestMessages(t *testing.T) {
	okProc := procFunc(func(_ context.Context, msg pipeline.Message) (*pipeline.Outcome, error) {
		return &pipeline.Outcome{
			ActorID:        msg.ActorID,
			Intents:        []intent.Label{intent.Scheduling},
			Response:       "[SCHEDULER AGENT] Processing appointment request...",
			TerminalReason: turn.ReasonCompleted,
		}, nil
	})
	errProc := func(err error) Processor {
		return procFunc(func(context.Context, pipeline.Message) (*pipeline.Outcome, error) { return nil, err })
	}

	tests := []struct {
		name       string
		proc       Processor
		token      string
		auth       string
		body       string
		wantStatus int
		wantBody   string
		wantRetry  string
	}{
		{
			name:       "ok",
			proc:       okProc,
			body:       `{"actor_id":"p1","message":"quero agendar"}`,
			wantStatus: http.StatusOK,
			wantBody:   `"intents":["SCHEDULING"]`,
		},
		{
			name:       "missing token",
			proc:       okProc,
			token:      "secret",
			body:       `{"actor_id":"p1","message":"oi"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			proc:       okProc,
			token:      "secret",
			auth:       "Bearer secret",
			body:       `{"actor_id":"p1","message":"oi"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "bad json",
			proc:       okProc,
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too long",
			proc:       okProc,
			body:       `{"actor_id":"p1","message":"` + strings.Repeat("a", testMaxChars+1) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "limit counts runes",
			proc:       okProc,
			body:       `{"actor_id":"p1","message":"` + strings.Repeat("é", testMaxChars) + `"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid context",
			proc:       errProc(turn.ErrInvalidContext),
			body:       `{"message":"oi"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "rate limited",
			proc:       errProc(&pipeline.RateLimitError{ActorID: "p1", RetryAfter: 50500 * time.Millisecond}),
			body:       `{"actor_id":"p1","message":"oi"}`,
			wantStatus: http.StatusTooManyRequests,
			wantBody:   `"retry_after_seconds":51`,
			wantRetry:  "51",
		},
		{
			name:       "cancelled",
			proc:       errProc(context.Canceled),
			body:       `{"actor_id":"p1","message":"oi"}`,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "internal",
			proc:       errProc(errors.New("boom")),
			body:       `{"actor_id":"p1","message":"oi"}`,
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMux(NewMessagesHandler(tt.proc, tt.token, testMaxChars))
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(tt.body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			assert.Equal(t, tt.wantRetry, rec.Header().Get("Retry-After"))
		})
	}
}

type quotaProc struct {
	procFunc
	remaining int
}

func (q quotaProc) Quota(string) (int, int, bool) { return 10, q.remaining, true }

func TestMessages_QuotaHeaders(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		remaining int
		wantCode  int
		wantLeft  string
	}{
		{"admitted", nil, 7, http.StatusOK, "7"},
		{"rejected", &pipeline.RateLimitError{ActorID: "p1", RetryAfter: 2 * time.Second}, 0, http.StatusTooManyRequests, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := quotaProc{remaining: tt.remaining, procFunc: func(_ context.Context, msg pipeline.Message) (*pipeline.Outcome, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return &pipeline.Outcome{ActorID: msg.ActorID}, nil
			}}
			mux := newMux(NewMessagesHandler(proc, "", 0))
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"actor_id":"p1","message":"oi"}`))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
			assert.Equal(t, tt.wantLeft, rec.Header().Get("X-RateLimit-Remaining"))
		})
	}
}

func TestMessages_IPRateLimiter(t *testing.T) {
	calls := 0
	h := NewMessagesHandler(procFunc(func(context.Context, pipeline.Message) (*pipeline.Outcome, error) {
		calls++
		return &pipeline.Outcome{}, nil
	}), "", 0)
	var keys []string
	h.SetRateLimiter(func(key string) bool {
		keys = append(keys, key)
		return len(keys) == 1
	})
	mux := newMux(h)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"actor_id":"p1","message":"oi"}`))
		req.RemoteAddr = "10.0.0.7:5123"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if len(keys) == 1 {
			assert.Equal(t, http.StatusOK, rec.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"10.0.0.7", "10.0.0.7"}, keys)
}

func TestTurns(t *testing.T) {
	audit := &auditStub{recs: []turn.Record{{TurnID: "t1", ActorID: "p1", TerminalReason: turn.ReasonCompleted}}}
	reg := dispatch.NewRegistry()
	reg.Register(dispatch.TargetScheduler, dispatch.HandlerFunc(func(context.Context, dispatch.Request) (dispatch.Response, error) {
		return dispatch.Response{}, nil
	}))
	mux := newMux(NewTurnsHandler(audit, reg, ""))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/v1/turns?actor_id=p1&limit=1000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"turn_id":"t1"`)
	assert.Equal(t, "p1", audit.gotActor)
	assert.Equal(t, maxTurnsLimit, audit.gotLimit)

	assert.Equal(t, http.StatusBadRequest, get("/v1/turns").Code)
	assert.Equal(t, http.StatusBadRequest, get("/v1/turns?actor_id=p1&limit=-1").Code)

	audit.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, get("/v1/turns?actor_id=p1").Code)

	rec = get("/v1/targets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"targets":["scheduler"]}`, rec.Body.String())

	disabled := newMux(NewTurnsHandler(nil, reg, ""))
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/turns?actor_id=p1", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		assert.Equal(t, tt.want, extractBearerToken(r), tt.header)
	}
}

func TestParseLimit(t *testing.T) {
	n, err := ParseLimit("")
	require.NoError(t, err)
	assert.Equal(t, defaultTurnsLimit, n)

	n, err = ParseLimit("10")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = ParseLimit("x")
	assert.Error(t, err)
}

func TestAuthorized(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=s3", nil)
	assert.True(t, Authorized(r, "s3"))
	assert.False(t, Authorized(r, "other"))
	assert.True(t, Authorized(r, ""))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer s3")
	assert.True(t, Authorized(r, "s3"))
}
