package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// minReplyLength is the floor below which a scrubbed reply is replaced by a
// fallback.
const minReplyLength = 5

// apologyReply is spoken when a turn produced nothing usable.
const apologyReply = "I'm sorry, I didn't come up with a good answer to that."

var (
	// toolMentionRe strips literal references to the tool machinery that
	// small models tend to leak into their replies.
	toolMentionRe = regexp.MustCompile(`(?i)\b(tool_call|according to the tool|based on the tool|the tool (says|returned|result)|using the tool)\b:?`)

	// hedgeRe strips hedging fillers that read badly when spoken aloud.
	hedgeRe = regexp.MustCompile(`(?i)\b(let me check|i'll check|i found that|checking)\b[,.]?\s*`)

	// spaceRe collapses runs of whitespace.
	spaceRe = regexp.MustCompile(`\s+`)

	// straypunctRe collapses punctuation left dangling after removals, such
	// as " ," or "..".
	strayPunctRe = regexp.MustCompile(`\s+([,.!?;:])`)
	dupPunctRe   = regexp.MustCompile(`([,.!?;:])[,.;:]+`)
)

// scrub applies the response cleaning transformation: embedded JSON-like
// substrings, tool mentions, and hedging fillers are removed, and whitespace
// and punctuation are normalised. It is a pure function and the orchestrator
// applies it exactly once per turn.
func scrub(text string) string {
	out := stripBalanced(text, '{', '}')
	out = stripBalanced(out, '[', ']')
	out = toolMentionRe.ReplaceAllString(out, "")
	out = hedgeRe.ReplaceAllString(out, "")
	out = spaceRe.ReplaceAllString(out, " ")
	out = strayPunctRe.ReplaceAllString(out, "$1")
	out = dupPunctRe.ReplaceAllString(out, "$1")
	out = strings.TrimSpace(out)
	out = strings.TrimLeft(out, ",.;:!? ")
	return strings.TrimSpace(out)
}

// fallbackReply chooses the reply when scrubbing left too little text. Time
// and date tools get a live-computed fallback; everything else gets the
// fixed apology.
func fallbackReply(toolName string, now time.Time) string {
	switch toolName {
	case "get_time":
		return now.Format("The current time is 15:04.")
	case "get_date":
		return now.Format("The current date is Monday, January 2, 2006.")
	default:
		return apologyReply
	}
}

// scrubOrFallback cleans text and substitutes a fallback when the remainder
// is shorter than the minimum speakable length.
func scrubOrFallback(text, toolName string, now time.Time) string {
	out := scrub(text)
	if len([]rune(out)) < minReplyLength {
		return fallbackReply(toolName, now)
	}
	return out
}

// stripBalanced removes every balanced opener..closer region from s,
// honouring nesting. Unbalanced openers are kept as-is so ordinary prose
// with a stray brace survives.
func stripBalanced(s string, opener, closer byte) string {
	var sb strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != opener {
			sb.WriteByte(s[i])
			i++
			continue
		}
		depth := 0
		end := -1
		inString := false
		escaped := false
		for j := i; j < len(s); j++ {
			c := s[j]
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
			case c == opener:
				depth++
			case c == closer:
				depth--
				if depth == 0 {
					end = j
				}
			}
			if end >= 0 {
				break
			}
		}
		if end < 0 {
			sb.WriteString(s[i:])
			break
		}
		i = end + 1
	}
	return sb.String()
}

// preview truncates s for event payloads and log lines.
func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return fmt.Sprintf("%s…", string(runes[:max]))
}
