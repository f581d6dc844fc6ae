package bus

import "context"

// InboundMessage is a patient message received from a channel (Telegram, Discord, HTTP).
type InboundMessage struct {
	Channel           string            `json:"channel"`
	SenderID          string            `json:"sender_id"`
	ChatID            string            `json:"chat_id"`
	MessageID         string            `json:"message_id,omitempty"` // used for retry dedupe
	Content           string            `json:"content"`
	ConversationState string            `json:"conversation_state,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// DedupeKey identifies a delivery for retry suppression. Messages without an
// id are never deduplicated.
func (m InboundMessage) DedupeKey() string {
	if m.MessageID == "" {
		return ""
	}
	return m.Channel + ":" + m.ChatID + ":" + m.MessageID
}

// OutboundMessage is the reply assembled from a turn's fragments.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// Event is a server-side event broadcast to operator WebSocket clients.
type Event struct {
	Name    string `json:"name"` // e.g. "turn.completed"
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and the pipeline to decouple from concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between channels and the pipeline.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
