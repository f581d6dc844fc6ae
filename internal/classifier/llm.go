package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/llmjson"
	"github.com/nextlevelbuilder/intentrouter/internal/providers"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

const DefaultInputLanguage = "Brazilian Portuguese"

// LLMConfig tunes the model call.
type LLMConfig struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	InputLanguage string
}

// LLMClassifier asks an OpenAI-compatible model for labels, urgency and reasoning.
type LLMClassifier struct {
	provider providers.Provider
	cfg      LLMConfig
}

func NewLLMClassifier(p providers.Provider, cfg LLMConfig) *LLMClassifier {
	if cfg.InputLanguage == "" {
		cfg.InputLanguage = DefaultInputLanguage
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	return &LLMClassifier{provider: p, cfg: cfg}
}

const systemPrompt = `You route patient messages for a high-end aesthetic clinic's chat.
Patients write in %s. Identify EVERY intent present in the latest message; a single
message often carries several. Use the history and context only to disambiguate.

Valid intents:
- MEDICAL_ASSESSMENT: symptoms, side effects, safety or clinical questions, reactions after a procedure, photos of a problem.
- SCHEDULING: booking, rescheduling or cancelling an appointment, or discussing dates and times.
- SALES: prices, offers, packages, ads or promotions, willingness to buy.
- TECH_FAQ: how a specific procedure works, recovery time, preparation, contraindications in general.
- GENERAL_INFO: greetings, goodbyes, address, opening hours, anything else.

Urgency is an integer 1-5: 5 = possible emergency, 4 = symptoms needing same-day attention,
3 = time-sensitive, 2 = normal, 1 = small talk.

Reply with JSON only:
{"intents": ["..."], "urgency": 1, "reasoning": "max 300 chars", "confidence": 0.0}`

func (c *LLMClassifier) Classify(ctx context.Context, req Request) (Result, error) {
	user, err := c.userPrompt(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: c.cfg.Model,
		Messages: []providers.Message{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, c.cfg.InputLanguage)},
			{Role: "user", Content: user},
		},
		Options: map[string]any{
			providers.OptTemperature: c.cfg.Temperature,
			providers.OptMaxTokens:   c.cfg.MaxTokens,
			providers.OptJSONMode:    true,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}

	res, err := ParseOutput(resp.Content)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	return res, nil
}

func (c *LLMClassifier) userPrompt(req Request) (string, error) {
	snap := turn.Snapshot{}
	if req.Context != nil {
		snap = *req.Context
	}
	history := snap.History
	snap.History = nil
	ctxJSON, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Patient context: %s\n", ctxJSON)
	if req.ConversationState != "" {
		fmt.Fprintf(&b, "Conversation state: %s\n", req.ConversationState)
	}
	if len(history) > 0 {
		b.WriteString("History:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Content)
		}
	}
	fmt.Fprintf(&b, "Latest message: %s", req.Message)
	return b.String(), nil
}

// rawOutput accepts intents as a JSON list or as one bracketed string.
type rawOutput struct {
	Intents    json.RawMessage `json:"intents"`
	Urgency    float64         `json:"urgency"`
	Reasoning  string          `json:"reasoning"`
	Confidence float64         `json:"confidence"`
}

// ParseOutput turns model text into a Result. Unknown labels become GENERAL_INFO;
// an empty intent list is returned as-is for the caller's fallback to handle.
func ParseOutput(content string) (Result, error) {
	var raw rawOutput
	repaired, err := llmjson.Decode(content, &raw)
	if err != nil {
		return Result{}, err
	}
	if repaired {
		slog.Debug("classifier: repaired model JSON")
	}

	var labels []string
	if len(raw.Intents) > 0 {
		if err := json.Unmarshal(raw.Intents, &labels); err != nil {
			var single string
			if err := json.Unmarshal(raw.Intents, &single); err != nil {
				return Result{}, fmt.Errorf("intents field: %w", err)
			}
			labels = []string{single}
		}
	}

	return Result{
		Labels:     intent.ParseList(labels),
		Urgency:    turn.Clamp(int(raw.Urgency + 0.5)),
		Reasoning:  strings.TrimSpace(raw.Reasoning),
		Confidence: raw.Confidence,
	}, nil
}
