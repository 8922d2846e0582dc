package orchestrator

import (
	"strings"
	"testing"
	"time"
)

func TestScrub(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain prose untouched",
			in:   "The weather is sunny today.",
			want: "The weather is sunny today.",
		},
		{
			name: "embedded json removed",
			in:   `Sure. {"tool_call":{"name":"get_time","args":{}}} The time is noon.`,
			want: "Sure. The time is noon.",
		},
		{
			name: "nested json removed",
			in:   `Before {"a":{"b":{"c":1}}} after.`,
			want: "Before after.",
		},
		{
			name: "bracketed list removed",
			in:   "Your options are [1, 2, 3] as follows.",
			want: "Your options are as follows.",
		},
		{
			name: "tool mention stripped",
			in:   "According to the tool: it is 3pm.",
			want: "it is 3pm.",
		},
		{
			name: "hedge stripped",
			in:   "Let me check, the answer is four.",
			want: "the answer is four.",
		},
		{
			name: "whitespace collapsed",
			in:   "too   many\n\nspaces here",
			want: "too many spaces here",
		},
		{
			name: "unbalanced brace survives",
			in:   "an { odd brace in prose",
			want: "an { odd brace in prose",
		},
		{
			name: "braces inside string literal",
			in:   `done {"note":"has a } inside"} fine`,
			want: "done fine",
		},
		{
			name: "dangling punctuation collapsed",
			in:   `I saw {"x":1} , and left.`,
			want: "I saw, and left.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := scrub(tc.in); got != tc.want {
				t.Errorf("scrub(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestFallbackReply(t *testing.T) {
	now := time.Date(2026, time.March, 9, 14, 30, 0, 0, time.UTC)

	if got := fallbackReply("get_time", now); got != "The current time is 14:30." {
		t.Errorf("get_time fallback = %q", got)
	}
	if got := fallbackReply("get_date", now); got != "The current date is Monday, March 9, 2026." {
		t.Errorf("get_date fallback = %q", got)
	}
	if got := fallbackReply("tell_joke", now); got != apologyReply {
		t.Errorf("default fallback = %q, want apology", got)
	}
}

func TestScrubOrFallback_ShortRemainderFallsBack(t *testing.T) {
	now := time.Now()

	if got := scrubOrFallback(`{"tool_call":{"name":"x","args":{}}}`, "", now); got != apologyReply {
		t.Errorf("empty remainder = %q, want apology", got)
	}
	if got := scrubOrFallback("ok.", "", now); got != apologyReply {
		t.Errorf("tiny remainder = %q, want apology", got)
	}
	if got := scrubOrFallback("The sky is blue.", "", now); got != "The sky is blue." {
		t.Errorf("long remainder = %q, want preserved", got)
	}
}

func TestPreview_RuneSafe(t *testing.T) {
	if got := preview("short", 10); got != "short" {
		t.Errorf("preview(short) = %q", got)
	}
	got := preview("héllo wörld exceeds", 8)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated preview %q missing ellipsis", got)
	}
	if want := "héllo wö…"; got != want {
		t.Errorf("preview = %q, want %q", got, want)
	}
}
