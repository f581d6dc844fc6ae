package spam

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/intentrouter/internal/llmjson"
	"github.com/nextlevelbuilder/intentrouter/internal/providers"
)

var (
	linkRe      = regexp.MustCompile(`(?i)(https?://|www\.)\S+`)
	defaultBulk = []string{
		"ganhe dinheiro", "renda extra", "clique no link", "promoção imperdível", "pix premiado",
		"você foi sorteado", "investimento garantido", "free money", "click here", "you have won",
		"crypto giveaway", "limited offer",
	}
)

// HeuristicChecker flags link floods, character floods and bulk-message phrases.
// It needs no network and is the default when no spam model is configured.
type HeuristicChecker struct {
	MaxLinks    int      // more links than this is spam
	BulkPhrases []string // lowercase
}

func NewHeuristicChecker() *HeuristicChecker {
	return &HeuristicChecker{MaxLinks: 2, BulkPhrases: defaultBulk}
}

func (h *HeuristicChecker) Check(_ context.Context, message string) (Verdict, error) {
	msg := strings.ToLower(message)
	if msg == "" {
		return Verdict{}, nil
	}

	score := 0.0
	if n := len(linkRe.FindAllString(msg, -1)); n > h.MaxLinks {
		score += 0.6
	} else if n > 0 {
		score += 0.2
	}

	for _, p := range h.BulkPhrases {
		if strings.Contains(msg, p) {
			score += 0.5
			break
		}
	}

	if longestRun(msg) >= 12 {
		score += 0.4
	}

	if score > 1 {
		score = 1
	}
	return Verdict{IsSpam: score >= 0.5, Confidence: score}, nil
}

// longestRun is the length of the longest run of one repeated non-space rune.
func longestRun(s string) int {
	best, cur := 0, 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev && r != ' ' {
			cur++
		} else {
			cur = 1
		}
		if cur > best {
			best = cur
		}
		prev = r
	}
	return best
}

const llmSpamPrompt = `You screen inbound messages to a medical-aesthetics clinic's patient chat.
Decide whether the message is spam (bulk advertising, phishing, scams, bot floods).
Patients writing in any tone about treatments, prices, pain or appointments are NOT spam.
Reply with JSON only: {"is_spam": true|false, "confidence": 0.0-1.0}`

// LLMChecker asks a provider for a verdict.
type LLMChecker struct {
	provider providers.Provider
	model    string
}

func NewLLMChecker(p providers.Provider, model string) *LLMChecker {
	return &LLMChecker{provider: p, model: model}
}

func (c *LLMChecker) Check(ctx context.Context, message string) (Verdict, error) {
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: c.model,
		Messages: []providers.Message{
			{Role: "system", Content: llmSpamPrompt},
			{Role: "user", Content: message},
		},
		Options: map[string]any{providers.OptTemperature: 0.0, providers.OptMaxTokens: 50, providers.OptJSONMode: true},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("spam check: %w", err)
	}

	var v Verdict
	if _, err := llmjson.Decode(resp.Content, &v); err != nil {
		return Verdict{}, fmt.Errorf("spam check: %w", err)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	} else if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v, nil
}
