package telegram

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const startReply = "Olá! Envie sua mensagem e um de nossos atendentes vai te ajudar."

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}
	if len(commands) == 0 {
		return nil
	}
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
	})
}

// DefaultMenuCommands returns the default bot menu commands.
func DefaultMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "start", Description: "Start a conversation"},
	}
}

// handleBotCommand answers commands locally. It reports whether text was a
// command; commands never reach the pipeline.
func (c *Channel) handleBotCommand(ctx context.Context, chatID int64, text string) bool {
	cmd, ok := commandName(text)
	if !ok {
		return false
	}
	switch cmd {
	case "/start":
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), startReply)); err != nil {
			slog.Warn("telegram start reply failed", "chat_id", chatID, "error", err)
		}
	default:
		slog.Debug("telegram command ignored", "command", cmd)
	}
	return true
}

// commandName extracts "/cmd" from "/cmd@botname args".
func commandName(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0]
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), true
}
