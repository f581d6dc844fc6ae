// Package spam is the binary pre-filter in front of classification.
package spam

import (
	"context"
	"log/slog"
)

// Threshold is the confidence a spam verdict must exceed to stop a turn.
// It is fixed; callers needing a different cut-off wrap Gate.
const Threshold = 0.8

// Verdict is a checker's answer.
type Verdict struct {
	IsSpam     bool    `json:"is_spam"`
	Confidence float64 `json:"confidence"`
}

// Checker scores one message.
type Checker interface {
	Check(ctx context.Context, message string) (Verdict, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, message string) (Verdict, error)

func (f CheckerFunc) Check(ctx context.Context, message string) (Verdict, error) {
	return f(ctx, message)
}

// Gate applies Threshold to a Checker. A nil checker lets everything through.
type Gate struct {
	checker Checker
}

func NewGate(c Checker) *Gate { return &Gate{checker: c} }

// IsSpam reports whether message should end the turn. Checker errors fail
// open: the message is treated as legitimate and the error is logged.
func (g *Gate) IsSpam(ctx context.Context, message string) (bool, Verdict) {
	if g == nil || g.checker == nil {
		return false, Verdict{}
	}
	v, err := g.checker.Check(ctx, message)
	if err != nil {
		slog.Warn("spam: checker failed, letting message through", "error", err)
		return false, Verdict{}
	}
	return v.IsSpam && v.Confidence > Threshold, v
}
