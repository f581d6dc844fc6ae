package llmjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict struct {
	IsSpam     bool    `json:"is_spam"`
	Confidence float64 `json:"confidence"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     verdict
		repaired bool
	}{
		{"plain", `{"is_spam": true, "confidence": 0.95}`, verdict{true, 0.95}, false},
		{"fenced", "```json\n{\"is_spam\": false, \"confidence\": 0.1}\n```", verdict{false, 0.1}, false},
		{"prose around", `Sure! Here it is: {"is_spam": true, "confidence": 0.9} hope it helps`, verdict{true, 0.9}, false},
		{"trailing comma", `{"is_spam": true, "confidence": 0.85,}`, verdict{true, 0.85}, true},
		{"single quotes", `{'is_spam': true, 'confidence': 0.99}`, verdict{true, 0.99}, true},
		{"reasoning block", "<think>maybe {not} spam</think>\n{\"is_spam\": false, \"confidence\": 0.2}", verdict{false, 0.2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got verdict
			repaired, err := Decode(tt.raw, &got)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.repaired, repaired)
		})
	}
}

func TestDecode_NoJSON(t *testing.T) {
	var v verdict
	_, err := Decode("I cannot help with that.", &v)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"none", `{"a":1}`, `{"a":1}`},
		{"think", "<think>\nhmm {x}\n</think>{\"a\":1}", `{"a":1}`},
		{"thinking mixed case", "<Thinking>a</Thinking> ok", "ok"},
		{"final unwrapped", "<final>{\"a\":1}</final>", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripReasoning(tt.in))
		})
	}
}
