package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func describeRouter(t *testing.T) *Router {
	t.Helper()
	r := NewRouter()
	mustRegister := func(tool Tool) {
		if err := r.Register(tool); err != nil {
			t.Fatalf("Register %s: %v", tool.Name, err)
		}
	}
	mustRegister(Tool{
		Name:        "get_time",
		Category:    "utility",
		Description: "Tell the current time",
		Example:     "What time is it?",
		Fn:          func(context.Context, map[string]any) (string, error) { return "", nil },
	})
	mustRegister(Tool{
		Name:        "recall_memory",
		Category:    "memory",
		Description: "Search long-term memory",
		Aliases:     []string{"recall"},
		Fn:          func(context.Context, map[string]any) (string, error) { return "", nil },
	})
	return r
}

func TestDescribe_TextFormat(t *testing.T) {
	r := describeRouter(t)

	got := r.Describe("", FormatText)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), got)
	}
	if lines[0] != `- get_time: Tell the current time (e.g. "What time is it?")` {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "- recall_memory: ") {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestDescribe_CategoryFilter(t *testing.T) {
	r := describeRouter(t)

	got := r.Describe("memory", FormatText)
	if strings.Contains(got, "get_time") {
		t.Errorf("memory filter leaked utility tools:\n%s", got)
	}
	if !strings.Contains(got, "recall_memory") {
		t.Errorf("memory filter dropped recall_memory:\n%s", got)
	}
}

func TestDescribe_MarkdownFormat(t *testing.T) {
	r := describeRouter(t)

	got := r.Describe("", FormatMarkdown)
	if !strings.Contains(got, "### get_time") {
		t.Errorf("markdown missing heading:\n%s", got)
	}
	if !strings.Contains(got, "Aliases: recall") {
		t.Errorf("markdown missing aliases:\n%s", got)
	}
}

func TestDescribe_JSONFormat(t *testing.T) {
	r := describeRouter(t)

	var docs []map[string]any
	if err := json.Unmarshal([]byte(r.Describe("", FormatJSON)), &docs); err != nil {
		t.Fatalf("unmarshal describe output: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	if docs[0]["name"] != "get_time" {
		t.Errorf("docs[0].name = %v, want get_time (sorted)", docs[0]["name"])
	}
	if _, ok := docs[0]["aliases"]; ok {
		t.Error("empty aliases serialised instead of omitted")
	}
}
