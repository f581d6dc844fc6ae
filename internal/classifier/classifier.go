// Package classifier defines the intent classifier contract and its adapters.
// The classifier is an external capability; the pipeline owns timeouts and the
// generic-intent fallback.
package classifier

import (
	"context"
	"errors"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

// ErrClassifierUnavailable wraps every classifier failure the pipeline recovers from.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// MinMessageLength is the shortest message a classifier is expected to label.
// Shorter messages may legitimately come back with zero labels.
const MinMessageLength = 10

// Request is one classification call.
type Request struct {
	Context           *turn.Snapshot
	Message           string // normalized
	ConversationState turn.ConversationState
}

// Result is a classifier's answer. Urgency is the base score before adjustment.
type Result struct {
	Labels     []intent.Label `json:"intents"`
	Urgency    turn.Score     `json:"urgency"`
	Reasoning  string         `json:"reasoning"`
	Confidence float64        `json:"confidence,omitempty"`
}

// Classifier maps a message plus context to intent labels.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Classify(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }
