package turn

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidContext is returned when a message arrives without a usable actor identity.
var ErrInvalidContext = errors.New("invalid context: actor id is required")

// ConversationState is the caller's coarse view of where the conversation is.
type ConversationState string

const (
	StateInitialContact ConversationState = "initial_contact"
	StateNegotiating    ConversationState = "negotiating"
	StateScheduling     ConversationState = "scheduling"
	StatePostProcedure  ConversationState = "post_procedure"
	StateFollowUp       ConversationState = "follow_up"
)

// TopTier is the profile tier that unlocks VIP overrides and urgency bumps.
const TopTier = "vip"

// Profile describes the actor.
type Profile struct {
	Name string `json:"name,omitempty"`
	Tier string `json:"tier,omitempty"`
}

// ActiveItem is a service the actor has booked or is negotiating.
type ActiveItem struct {
	Service string  `json:"service"`
	Price   float64 `json:"price"`
	Status  string  `json:"status,omitempty"`
}

// HistoryEntry is one message of prior conversation.
type HistoryEntry struct {
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	At      time.Time `json:"at,omitempty"`
}

// Snapshot is the read-only conversation context supplied with each message.
// Nothing in the engine writes to it after the turn is created.
type Snapshot struct {
	ActorID           string            `json:"actor_id"`
	Profile           Profile           `json:"profile"`
	Flags             map[string]bool   `json:"flags,omitempty"`
	ActiveItems       []ActiveItem      `json:"active_items,omitempty"`
	LastProcedureAt   *time.Time        `json:"last_procedure_at,omitempty"`
	BehavioralProfile map[string]string `json:"behavioral_profile,omitempty"`
	History           []HistoryEntry    `json:"history,omitempty"`
	ConversationState ConversationState `json:"conversation_state,omitempty"`
}

// Validate checks the fields the engine cannot work without.
func (s *Snapshot) Validate() error {
	if s == nil || strings.TrimSpace(s.ActorID) == "" {
		return ErrInvalidContext
	}
	return nil
}

func (s *Snapshot) IsPregnant() bool { return s.Flags["pregnant"] }

func (s *Snapshot) IsTopTier() bool { return strings.EqualFold(s.Profile.Tier, TopTier) }

// ActiveItemsTotal sums the price of every active item.
func (s *Snapshot) ActiveItemsTotal() float64 {
	var total float64
	for _, it := range s.ActiveItems {
		total += it.Price
	}
	return total
}

// HoursSinceProcedure returns the hours elapsed since the last procedure,
// or false when none is recorded.
func (s *Snapshot) HoursSinceProcedure(now time.Time) (float64, bool) {
	if s.LastProcedureAt == nil || s.LastProcedureAt.IsZero() {
		return 0, false
	}
	return now.Sub(*s.LastProcedureAt).Hours(), true
}

// Clone returns a deep copy so callers can't mutate a turn's context after creation.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Flags != nil {
		out.Flags = make(map[string]bool, len(s.Flags))
		for k, v := range s.Flags {
			out.Flags[k] = v
		}
	}
	if s.BehavioralProfile != nil {
		out.BehavioralProfile = make(map[string]string, len(s.BehavioralProfile))
		for k, v := range s.BehavioralProfile {
			out.BehavioralProfile[k] = v
		}
	}
	out.ActiveItems = append([]ActiveItem(nil), s.ActiveItems...)
	out.History = append([]HistoryEntry(nil), s.History...)
	if s.LastProcedureAt != nil {
		t := *s.LastProcedureAt
		out.LastProcedureAt = &t
	}
	return out
}
