package llm

import "encoding/json"

// FirstJSONObject returns the first balanced top-level JSON object embedded in
// s, honouring string literals and escape sequences. Models frequently wrap
// structured output in prose or markdown fences; this scanner tolerates both.
// The second return value is false when no balanced object exists.
func FirstJSONObject(s string) (string, bool) {
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case inString:
				if c == '\\' {
					escaped = true
				} else if c == '"' {
					inString = false
				}
			case c == '"':
				inString = true
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
		// Unbalanced from this start position; a later '{' cannot balance
		// either, so stop scanning.
		break
	}
	return "", false
}

// ParseStructured parses the first JSON object found in raw model output.
// When no parseable object exists, a marker map with "error" and "raw" keys is
// returned instead of an error, so that callers can degrade gracefully.
func ParseStructured(raw string) map[string]any {
	obj, ok := FirstJSONObject(raw)
	if !ok {
		return map[string]any{"error": "no JSON object in model output", "raw": raw}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return map[string]any{"error": "invalid JSON in model output: " + err.Error(), "raw": raw}
	}
	return m
}
