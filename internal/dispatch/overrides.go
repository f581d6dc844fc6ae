package dispatch

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

// BusinessHours is the local window in which the regular handlers answer.
// Start == End means always open.
type BusinessHours struct {
	Start    int    `json:"start"` // hour of day, inclusive
	End      int    `json:"end"`   // hour of day, exclusive
	Timezone string `json:"timezone,omitempty"`
}

// OverrideConfig holds the thresholds behind the default override rules.
type OverrideConfig struct {
	HighValueThreshold float64       `json:"high_value_threshold"`
	BusinessHours      BusinessHours `json:"business_hours"`
}

func DefaultOverrideConfig() OverrideConfig {
	return OverrideConfig{
		HighValueThreshold: 5000,
		BusinessHours:      BusinessHours{Start: 8, End: 20, Timezone: "America/Sao_Paulo"},
	}
}

// OverrideInput is what an override rule may look at.
type OverrideInput struct {
	Urgency turn.Score
	Context *turn.Snapshot
	Queue   *intent.Queue
	Now     time.Time
}

// Override routes the turn straight to Target when When matches, regardless of
// the queue. An override ends the turn and never mutates the queue.
type Override struct {
	Name   string
	Target Target
	When   func(OverrideInput) bool
}

// DefaultOverrides returns the override rules in evaluation order, highest first.
func DefaultOverrides(cfg OverrideConfig) ([]Override, error) {
	loc := time.Local
	if tz := cfg.BusinessHours.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("business hours timezone %q: %w", tz, err)
		}
		loc = l
	}
	bh := cfg.BusinessHours
	if bh.Start < 0 || bh.Start > 24 || bh.End < 0 || bh.End > 24 {
		return nil, fmt.Errorf("business hours out of range: %d-%d", bh.Start, bh.End)
	}

	return []Override{
		{
			Name:   "vip_critical",
			Target: TargetEscalation,
			When: func(in OverrideInput) bool {
				return in.Urgency >= turn.MaxScore && in.Context.IsTopTier()
			},
		},
		{
			Name:   "high_value_sale",
			Target: TargetSeniorSales,
			When: func(in OverrideInput) bool {
				return in.Context.ActiveItemsTotal() > cfg.HighValueThreshold && in.Queue.Contains(intent.Sales)
			},
		},
		{
			Name:   "after_hours",
			Target: TargetAfterHours,
			When: func(in OverrideInput) bool {
				return !bh.open(in.Now.In(loc))
			},
		},
		{
			Name:   "pregnant_tech_faq",
			Target: TargetMedicalReview,
			When: func(in OverrideInput) bool {
				return in.Context.IsPregnant() && in.Queue.Contains(intent.TechFAQ)
			},
		},
	}, nil
}

func (b BusinessHours) open(local time.Time) bool {
	if b.Start == b.End {
		return true
	}
	h := local.Hour()
	if b.Start < b.End {
		return h >= b.Start && h < b.End
	}
	// window wraps midnight, e.g. 22-6
	return h >= b.Start || h < b.End
}
