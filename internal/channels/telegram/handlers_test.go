package telegram

import (
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
)

func TestToInbound(t *testing.T) {
	from := &telego.User{ID: 386246614, Username: "maria"}
	tests := []struct {
		name string
		msg  *telego.Message
		want inbound
		ok   bool
	}{
		{
			name: "private text",
			msg:  &telego.Message{MessageID: 42, From: from, Chat: telego.Chat{ID: 386246614, Type: "private"}, Text: "quero marcar consulta"},
			want: inbound{senderID: "386246614|maria", chatID: "386246614", messageID: "42", content: "quero marcar consulta"},
			ok:   true,
		},
		{
			name: "caption fallback",
			msg:  &telego.Message{MessageID: 7, From: &telego.User{ID: 5}, Chat: telego.Chat{ID: 5, Type: "private"}, Caption: "exame"},
			want: inbound{senderID: "5", chatID: "5", messageID: "7", content: "exame"},
			ok:   true,
		},
		{
			name: "group skipped",
			msg:  &telego.Message{From: from, Chat: telego.Chat{ID: -100, Type: "supergroup"}, Text: "oi"},
		},
		{
			name: "service message skipped",
			msg:  &telego.Message{From: from, Chat: telego.Chat{ID: 1, Type: "private"}},
		},
		{
			name: "no sender",
			msg:  &telego.Message{Chat: telego.Chat{ID: 1, Type: "private"}, Text: "oi"},
		},
		{name: "nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toInbound(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"/start", "/start", true},
		{"/Start@clinic_bot hello", "/start", true},
		{"start", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := commandName(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("-1001234")
	assert.NoError(t, err)
	assert.Equal(t, int64(-1001234), id)

	_, err = parseChatID("abc")
	assert.Error(t, err)
}
