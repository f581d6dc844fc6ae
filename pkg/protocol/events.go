package protocol

// ProtocolVersion is bumped whenever an event payload changes incompatibly.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	EventTurnCompleted = "turn.completed"
	EventTurnRejected  = "turn.rejected"
	EventShutdown      = "shutdown"
)

// Rejection reasons (in TurnRejectedPayload.Reason).
const (
	RejectRateLimited = "rate_limited"
)

// EventFrame is the envelope written to WebSocket clients.
type EventFrame struct {
	Type    string `json:"type"` // always "event"
	Name    string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
}

func NewEvent(name string, payload any) *EventFrame {
	return &EventFrame{Type: "event", Name: name, Payload: payload}
}

// TurnCompletedPayload summarizes a finished turn without message content.
type TurnCompletedPayload struct {
	TurnID         string   `json:"turn_id"`
	ActorID        string   `json:"actor_id"`
	Intents        []string `json:"intents"`
	Pending        []string `json:"pending,omitempty"`
	Urgency        int      `json:"urgency"`
	TerminalReason string   `json:"terminal_reason"`
	Fragments      int      `json:"fragments"`
}

// TurnRejectedPayload is sent when a message is refused before a turn starts.
type TurnRejectedPayload struct {
	ActorID           string `json:"actor_id"`
	Reason            string `json:"reason"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}
