package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the JSON payload of a model response. Code fences are
// removed; when the rest does not start with an object or array the outermost
// {...} span is used.
func ExtractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "\ufeff")

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```JSON")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return text, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("%w: no json object in response", ErrMalformedOutput)
	}

	return text[start : end+1], nil
}

// ParseObject extracts and decodes a JSON object from a model response.
func ParseObject(raw string) (map[string]any, error) {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: response is not an object", ErrMalformedOutput)
	}

	return out, nil
}
