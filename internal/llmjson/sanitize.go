package llmjson

import (
	"regexp"
	"strings"
)

// Reasoning models emit their scratchpad inline. It may contain braces, so it
// must go before the JSON object is located.
// Go regexp has no backreferences, hence one pattern per tag.
var reasoningTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
	regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`),
}

var finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

// StripReasoning removes reasoning blocks and unwraps <final> tags.
func StripReasoning(content string) string {
	lower := strings.ToLower(content)
	if strings.Contains(lower, "<think") || strings.Contains(lower, "<thought") || strings.Contains(lower, "<reasoning") {
		for _, pat := range reasoningTagPatterns {
			content = pat.ReplaceAllString(content, "")
		}
	}
	if strings.Contains(lower, "final") {
		content = finalTagPattern.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}
