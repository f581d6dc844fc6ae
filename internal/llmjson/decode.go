// Package llmjson decodes JSON objects out of model replies, which tend to
// arrive wrapped in code fences, surrounded by prose, or slightly malformed.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when the reply holds no JSON object at all.
var ErrNoJSON = errors.New("no JSON object in model output")

// Decode extracts the first JSON object from raw and unmarshals it into v,
// repairing it when strict parsing fails. repaired reports whether the
// repair path was needed.
func Decode(raw string, v any) (repaired bool, err error) {
	body := Extract(raw)
	if body == "" {
		return false, ErrNoJSON
	}

	if err := json.Unmarshal([]byte(body), v); err == nil {
		return false, nil
	}

	fixed, rerr := jsonrepair.JSONRepair(body)
	if rerr != nil {
		return true, fmt.Errorf("repair model JSON: %w", rerr)
	}
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return true, fmt.Errorf("decode repaired model JSON: %w", err)
	}
	return true, nil
}

// Extract strips reasoning blocks and code fences and returns the text from
// the first '{' to the last '}'. If there is no closing brace the tail is
// returned as-is so the repair step can complete it.
func Extract(raw string) string {
	s := StripReasoning(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(s, '}')
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}
