package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

var ErrHandlerNotFound = errors.New("handler not found")

// Target names a handler.
type Target string

const (
	TargetMedical       Target = "medical"
	TargetScheduler     Target = "scheduler"
	TargetCloser        Target = "closer"
	TargetFAQ           Target = "faq"
	TargetGeneralInfo   Target = "general_info"
	TargetEscalation    Target = "escalation"
	TargetSeniorSales   Target = "senior_sales"
	TargetAfterHours    Target = "after_hours"
	TargetMedicalReview Target = "medical_review"
)

// AllTargets lists every target the dispatcher can select.
func AllTargets() []Target {
	return []Target{
		TargetMedical, TargetScheduler, TargetCloser, TargetFAQ, TargetGeneralInfo,
		TargetEscalation, TargetSeniorSales, TargetAfterHours, TargetMedicalReview,
	}
}

var labelTargets = map[intent.Label]Target{
	intent.MedicalAssessment: TargetMedical,
	intent.Scheduling:        TargetScheduler,
	intent.Sales:             TargetCloser,
	intent.TechFAQ:           TargetFAQ,
	intent.GeneralInfo:       TargetGeneralInfo,
}

// TargetFor maps a queued label to its handler.
func TargetFor(l intent.Label) Target {
	if t, ok := labelTargets[l]; ok {
		return t
	}
	return TargetGeneralInfo
}

// Request is what a handler sees. Context is shared and must be treated as read-only.
type Request struct {
	Target  Target         `json:"target"`
	Label   intent.Label   `json:"intent"`
	Context *turn.Snapshot `json:"context"`
	Message string         `json:"message"`
	TurnID  string         `json:"turn_id"`
	ActorID string         `json:"actor_id"`
	Urgency turn.Score     `json:"urgency"`
}

// Response is a handler's answer. Metadata is passed to audit untouched.
type Response struct {
	Fragment string         `json:"fragment"`
	Resolved bool           `json:"resolved"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Handler services one intent.
type Handler interface {
	Handle(ctx context.Context, req Request) (Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// Registry maps targets to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Target]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Target]Handler)}
}

// Register binds h to target, replacing any previous binding.
func (r *Registry) Register(target Target, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[target] = h
}

func (r *Registry) Get(target Target) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[target]
	return h, ok
}

// Targets returns the bound targets, sorted.
func (r *Registry) Targets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Target, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Missing returns the targets in AllTargets with no handler bound.
func (r *Registry) Missing() []Target {
	var out []Target
	for _, t := range AllTargets() {
		if _, ok := r.Get(t); !ok {
			out = append(out, t)
		}
	}
	return out
}
