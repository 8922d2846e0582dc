package shortterm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/codavoice/coda/pkg/memory"
)

func TestAdd_AssignsDenseIndices(t *testing.T) {
	l := New(0)

	for i, content := range []string{"one", "two", "three"} {
		turn := l.Add(memory.RoleUser, content)
		if turn.Index != i {
			t.Errorf("turn %q index = %d, want %d", content, turn.Index, i)
		}
	}
	if l.TurnCount() != 3 {
		t.Errorf("TurnCount = %d, want 3", l.TurnCount())
	}
}

func TestEviction_PreservesSystemTurn(t *testing.T) {
	l := New(4)
	l.Add(memory.RoleSystem, "you are a helpful assistant")
	l.Add(memory.RoleUser, "a")
	l.Add(memory.RoleAssistant, "b")
	l.Add(memory.RoleUser, "c")

	// Exceed capacity; the oldest non-system turn must go.
	l.Add(memory.RoleAssistant, "d")

	turns := l.Context(0)
	if len(turns) != 4 {
		t.Fatalf("stored %d turns, want 4", len(turns))
	}
	if turns[0].Role != memory.RoleSystem {
		t.Errorf("first turn role = %q, want system", turns[0].Role)
	}
	if turns[1].Content != "b" {
		t.Errorf("oldest surviving turn = %q, want %q", turns[1].Content, "b")
	}
}

func TestEviction_IndicesSurvive(t *testing.T) {
	l := New(2)
	l.Add(memory.RoleUser, "a")
	l.Add(memory.RoleAssistant, "b")
	turn := l.Add(memory.RoleUser, "c")

	if turn.Index != 2 {
		t.Errorf("index after eviction = %d, want 2", turn.Index)
	}
	turns := l.Context(0)
	if turns[0].Index != 1 || turns[1].Index != 2 {
		t.Errorf("surviving indices = [%d %d], want [1 2]", turns[0].Index, turns[1].Index)
	}
}

func TestContext_RespectsTokenBudget(t *testing.T) {
	l := New(0)
	l.Add(memory.RoleSystem, strings.Repeat("s", 40))    // 10 tokens
	l.Add(memory.RoleUser, strings.Repeat("a", 80))      // 20 tokens
	l.Add(memory.RoleAssistant, strings.Repeat("b", 40)) // 10 tokens
	l.Add(memory.RoleUser, strings.Repeat("c", 40))      // 10 tokens

	// Budget fits the system turn plus the newest two turns only.
	turns := l.Context(31)
	if len(turns) != 3 {
		t.Fatalf("context has %d turns, want 3", len(turns))
	}
	if turns[0].Role != memory.RoleSystem {
		t.Errorf("first context turn role = %q, want system", turns[0].Role)
	}
	if turns[1].Content[0] != 'b' || turns[2].Content[0] != 'c' {
		t.Errorf("context order = [%c %c], want chronological [b c]", turns[1].Content[0], turns[2].Content[0])
	}
}

func TestContext_UnlimitedReturnsAll(t *testing.T) {
	l := New(0)
	l.Add(memory.RoleUser, "a")
	l.Add(memory.RoleAssistant, "b")

	if got := l.Context(0); len(got) != 2 {
		t.Errorf("Context(0) = %d turns, want 2", len(got))
	}
	if got := l.Context(-1); len(got) != 2 {
		t.Errorf("Context(-1) = %d turns, want 2", len(got))
	}
}

func TestContext_EmptyLog(t *testing.T) {
	l := New(0)
	if got := l.Context(100); got != nil {
		t.Errorf("Context on empty log = %v, want nil", got)
	}
}

func TestReset_ClearsTurnsAndCounter(t *testing.T) {
	l := New(0)
	l.Add(memory.RoleUser, "a")
	started := l.SessionStart()

	l.Reset()

	if l.TurnCount() != 0 {
		t.Errorf("TurnCount after Reset = %d, want 0", l.TurnCount())
	}
	if turn := l.Add(memory.RoleUser, "b"); turn.Index != 0 {
		t.Errorf("first index after Reset = %d, want 0", turn.Index)
	}
	if l.SessionStart().Before(started) {
		t.Error("session start moved backwards on Reset")
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	l := New(0)
	l.Add(memory.RoleSystem, "instructions")
	l.Add(memory.RoleUser, "hello")
	l.Add(memory.RoleAssistant, "hi there")

	path, err := l.Export(t.TempDir())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasSuffix(path, ".json") {
		t.Errorf("export path = %q, want .json file", path)
	}

	restored := New(0)
	if err := restored.Import(path); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if restored.TurnCount() != 3 {
		t.Fatalf("restored %d turns, want 3", restored.TurnCount())
	}
	turns := restored.Context(0)
	if turns[2].Content != "hi there" {
		t.Errorf("restored turn = %q", turns[2].Content)
	}

	// The counter resumes past the imported indices.
	if turn := restored.Add(memory.RoleUser, "next"); turn.Index != 3 {
		t.Errorf("index after import = %d, want 3", turn.Index)
	}
}

func TestExportJSON_DocumentShape(t *testing.T) {
	l := New(0)
	l.Add(memory.RoleUser, "hello")

	data, err := l.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	for _, key := range []string{"session_start", "turn_count", "export_time", "turns"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("export document missing %q", key)
		}
	}
	if doc["turn_count"] != 1.0 {
		t.Errorf("turn_count = %v, want 1", doc["turn_count"])
	}
}

func TestImportJSON_RejectsGarbageWithoutClobbering(t *testing.T) {
	l := New(0)
	l.Add(memory.RoleUser, "keep me")

	if err := l.ImportJSON([]byte("{not json")); err == nil {
		t.Fatal("garbage import succeeded")
	}
	if l.TurnCount() != 1 {
		t.Errorf("TurnCount after failed import = %d, want 1", l.TurnCount())
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"ab", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 40), 10},
	}
	for _, tc := range tests {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
