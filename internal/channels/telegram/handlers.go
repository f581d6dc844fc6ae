package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/intentrouter/internal/channels"
)

// inbound is the part of a Telegram message the pipeline needs.
type inbound struct {
	senderID  string
	chatID    string
	messageID string
	content   string
}

// handleMessage processes an incoming Telegram message.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	in, ok := toInbound(message)
	if !ok {
		slog.Debug("telegram message skipped",
			"chat_id", message.Chat.ID,
			"chat_type", message.Chat.Type,
		)
		return
	}

	slog.Debug("telegram message received",
		"chat_id", in.chatID,
		"sender", in.senderID,
		"text_preview", channels.Truncate(in.content, 60),
	)

	if c.handleBotCommand(ctx, message.Chat.ID, in.content) {
		return
	}
	if !c.HandleMessage(in.senderID, in.chatID, in.messageID, in.content, map[string]string{
		"username": message.From.Username,
	}) {
		slog.Debug("telegram message rejected by allowlist", "sender", in.senderID)
	}
}

// toInbound extracts a private text message. Group chats, service messages
// and media without a caption are skipped.
func toInbound(msg *telego.Message) (inbound, bool) {
	if msg == nil || msg.From == nil || msg.Chat.Type != "private" {
		return inbound{}, false
	}
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return inbound{}, false
	}

	senderID := fmt.Sprintf("%d", msg.From.ID)
	if msg.From.Username != "" {
		senderID = senderID + "|" + msg.From.Username
	}
	return inbound{
		senderID:  senderID,
		chatID:    strconv.FormatInt(msg.Chat.ID, 10),
		messageID: strconv.Itoa(msg.MessageID),
		content:   content,
	}, true
}
