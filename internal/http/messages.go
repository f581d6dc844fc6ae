package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/intentrouter/internal/pipeline"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

// maxBodyBytes bounds a message request body, context snapshot included.
const maxBodyBytes = 1 << 20

// Processor runs one message through the pipeline.
type Processor interface {
	Process(ctx context.Context, msg pipeline.Message) (*pipeline.Outcome, error)
}

// QuotaReporter is implemented by processors that limit requests per actor.
type QuotaReporter interface {
	Quota(actorID string) (limit, remaining int, ok bool)
}

// MessagesHandler accepts patient messages and returns the turn outcome.
type MessagesHandler struct {
	proc     Processor
	token    string
	maxChars int
	allow    func(key string) bool
}

// NewMessagesHandler creates the message intake handler. maxChars <= 0
// disables the length check.
func NewMessagesHandler(proc Processor, token string, maxChars int) *MessagesHandler {
	return &MessagesHandler{proc: proc, token: token, maxChars: maxChars}
}

// SetRateLimiter installs a per-client-IP admission check that runs before
// the per-actor limiter.
func (h *MessagesHandler) SetRateLimiter(allow func(key string) bool) { h.allow = allow }

// RegisterRoutes registers the message routes on the given mux.
func (h *MessagesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/messages", requireToken(h.token, h.handleMessage))
}

func (h *MessagesHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if h.allow != nil && !h.allow(ClientIP(r)) {
		slog.Warn("security.rate_limited", "ip", ClientIP(r), "path", r.URL.Path)
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
		return
	}

	var msg pipeline.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if h.maxChars > 0 && utf8.RuneCountInString(msg.Text) > h.maxChars {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "message too long"})
		return
	}

	out, err := h.proc.Process(r.Context(), msg)
	var rl *pipeline.RateLimitError
	switch {
	case errors.As(err, &rl):
		h.setQuotaHeaders(w, rl.ActorID)
	case err == nil:
		h.setQuotaHeaders(w, out.ActorID)
	}
	if err != nil {
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *MessagesHandler) setQuotaHeaders(w http.ResponseWriter, actorID string) {
	q, ok := h.proc.(QuotaReporter)
	if !ok || actorID == "" {
		return
	}
	limit, remaining, ok := q.Quota(actorID)
	if !ok {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
}

func writeProcessError(w http.ResponseWriter, err error) {
	var rl *pipeline.RateLimitError
	switch {
	case errors.Is(err, turn.ErrInvalidContext):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &rl):
		secs := retryAfterSeconds(rl.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "rate_limited",
			"retry_after_seconds": secs,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "request cancelled"})
	default:
		slog.Error("messages.process", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
