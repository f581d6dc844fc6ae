// Package urgency adjusts a classifier's base urgency with contextual rules.
//
// Rules are additive and order-independent: every matching rule contributes its
// delta, and the sum is clamped once at the end. New rules are new table rows.
package urgency

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

// Input is what a rule may look at.
type Input struct {
	Context *turn.Snapshot
	Message string // normalized
	Queue   *intent.Queue
	Now     time.Time
}

// Rule adds Delta when When matches.
type Rule struct {
	Name  string
	Delta int
	When  func(Input) bool
}

// Config holds the tunable thresholds behind the default rules.
type Config struct {
	RecentProcedureHours float64  `json:"recent_procedure_hours"`
	SymptomKeywords      []string `json:"symptom_keywords"`
	RecentProcedureDelta int      `json:"recent_procedure_delta"`
	PregnancyDelta       int      `json:"pregnancy_delta"`
	TopTierDelta         int      `json:"top_tier_delta"`
}

// DefaultSymptomKeywords covers pt-BR and English tokens for post-procedure complaints.
var DefaultSymptomKeywords = []string{
	"dor", "doendo", "inchaço", "inchado", "inchada", "vermelhidão", "vermelho", "vermelha",
	"alergia", "coceira", "sangramento", "roxo", "hematoma", "febre", "pus",
	"pain", "swelling", "swollen", "redness", "allergy", "itching", "bleeding", "bruise", "fever",
}

func DefaultConfig() Config {
	return Config{
		RecentProcedureHours: 72,
		SymptomKeywords:      DefaultSymptomKeywords,
		RecentProcedureDelta: 1,
		PregnancyDelta:       2,
		TopTierDelta:         1,
	}
}

// DefaultRules builds the recent-procedure, pregnancy and tier rules from cfg.
func DefaultRules(cfg Config) []Rule {
	keywords := make([]string, 0, len(cfg.SymptomKeywords))
	for _, k := range cfg.SymptomKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	return []Rule{
		{
			Name:  "recent_procedure",
			Delta: cfg.RecentProcedureDelta,
			When: func(in Input) bool {
				h, ok := in.Context.HoursSinceProcedure(in.Now)
				return ok && h >= 0 && h < cfg.RecentProcedureHours && containsAny(in.Message, keywords)
			},
		},
		{
			Name:  "pregnancy",
			Delta: cfg.PregnancyDelta,
			When: func(in Input) bool {
				return in.Context.IsPregnant() && in.Queue != nil && in.Queue.Contains(intent.MedicalAssessment)
			},
		},
		{
			Name:  "top_tier",
			Delta: cfg.TopTierDelta,
			When:  func(in Input) bool { return in.Context.IsTopTier() },
		},
	}
}

func containsAny(msg string, keywords []string) bool {
	for _, w := range strings.Fields(msg) {
		w = strings.Trim(w, ".,;:!?()\"'")
		for _, k := range keywords {
			if w == k {
				return true
			}
		}
	}
	return false
}

// Adjuster applies a rule table. Safe for concurrent use once built.
type Adjuster struct {
	rules []Rule
	now   func() time.Time
}

type Option func(*Adjuster)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Adjuster) { a.now = now }
}

func New(rules []Rule, opts ...Option) *Adjuster {
	a := &Adjuster{rules: rules, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Adjust returns base plus every matching delta, clamped, with one trace line per match.
// It never touches the queue.
func (a *Adjuster) Adjust(base turn.Score, snap *turn.Snapshot, message string, q *intent.Queue) (turn.Score, []string) {
	if snap == nil {
		snap = &turn.Snapshot{}
	}
	in := Input{Context: snap, Message: message, Queue: q, Now: a.now()}

	sum := int(base)
	var trace []string
	for _, r := range a.rules {
		if r.When == nil || r.Delta == 0 || !r.When(in) {
			continue
		}
		sum += r.Delta
		trace = append(trace, fmt.Sprintf("urgency rule %s: %+d", r.Name, r.Delta))
	}

	final := turn.Clamp(sum)
	if final != base {
		trace = append(trace, fmt.Sprintf("urgency %d -> %d", base, final))
	}
	return final, trace
}

// Apply adjusts t in place from its own context, message and queue.
func (a *Adjuster) Apply(t *turn.Turn) turn.Score {
	score, trace := a.Adjust(t.Urgency(), &t.Context, t.NormalizedMessage, t.Queue)
	t.Note(trace...)
	return t.SetUrgency(int(score))
}
