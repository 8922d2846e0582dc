package longterm

import (
	"slices"
	"strings"
	"testing"

	"github.com/codavoice/coda/pkg/memory"
)

func userTurn(content string) memory.Turn {
	return memory.Turn{Role: memory.RoleUser, Content: content}
}

func assistantTurn(content string) memory.Turn {
	return memory.Turn{Role: memory.RoleAssistant, Content: content}
}

func TestEncode_SmallTalkYieldsBaseImportance(t *testing.T) {
	e := NewEncoder(0, 0)

	out := e.Encode([]memory.Turn{
		userTurn("hello there"),
		assistantTurn("hi, how can I help"),
	})
	if len(out) != 1 {
		t.Fatalf("got %d candidates, want 1", len(out))
	}
	c := out[0]
	if c.SourceType != memory.SourceConversation {
		t.Errorf("source = %q, want conversation", c.SourceType)
	}
	if c.Importance != 0.4 {
		t.Errorf("importance = %v, want base 0.4", c.Importance)
	}
	if len(c.Topics) != 0 {
		t.Errorf("topics = %v, want none", c.Topics)
	}
}

func TestEncode_NameCueBoostsAndTagsFact(t *testing.T) {
	e := NewEncoder(0, 0)

	out := e.Encode([]memory.Turn{
		userTurn("my name is Nadia and I live in Lisbon"),
		assistantTurn("nice to meet you, Nadia"),
	})
	if len(out) != 1 {
		t.Fatalf("got %d candidates, want 1", len(out))
	}
	c := out[0]
	if c.SourceType != memory.SourceFact {
		t.Errorf("source = %q, want fact", c.SourceType)
	}
	if c.Importance <= 0.4 {
		t.Errorf("importance = %v, want boosted above base", c.Importance)
	}
	if !slices.Contains(c.Topics, "name") || !slices.Contains(c.Topics, "location") {
		t.Errorf("topics = %v, want name and location", c.Topics)
	}
	if !strings.Contains(c.Content, "User: my name is Nadia") {
		t.Errorf("content = %q, want role-prefixed transcript", c.Content)
	}
}

func TestEncode_PreferenceCue(t *testing.T) {
	e := NewEncoder(0, 0)

	out := e.Encode([]memory.Turn{
		userTurn("i prefer tea over coffee"),
	})
	if len(out) != 1 {
		t.Fatalf("got %d candidates, want 1", len(out))
	}
	if out[0].SourceType != memory.SourcePreference {
		t.Errorf("source = %q, want preference", out[0].SourceType)
	}
	if !slices.Contains(out[0].Topics, "preferences") {
		t.Errorf("topics = %v, want preferences", out[0].Topics)
	}
}

func TestEncode_ImportanceCappedAtOne(t *testing.T) {
	e := NewEncoder(0, 0)

	out := e.Encode([]memory.Turn{
		userTurn("remember that my name is Ada, my birthday is in May, I live in Oslo, and this is important"),
	})
	if len(out) != 1 {
		t.Fatalf("got %d candidates, want 1", len(out))
	}
	if out[0].Importance != 1.0 {
		t.Errorf("importance = %v, want capped at 1", out[0].Importance)
	}
}

func TestEncode_SkipsWindowsWithoutUserContent(t *testing.T) {
	e := NewEncoder(0, 0)

	out := e.Encode([]memory.Turn{
		{Role: memory.RoleSystem, Content: "instructions"},
		assistantTurn("I am ready"),
	})
	if len(out) != 0 {
		t.Errorf("got %d candidates from assistant-only window, want 0", len(out))
	}
}

func TestEncode_OverlappingWindows(t *testing.T) {
	e := NewEncoder(4, 1)

	turns := []memory.Turn{
		userTurn("a"), assistantTurn("b"),
		userTurn("c"), assistantTurn("d"),
		userTurn("e"), assistantTurn("f"),
		userTurn("g"),
	}
	out := e.Encode(turns)

	// Step 3: windows [0:4], [3:7]. Both contain user turns.
	if len(out) != 2 {
		t.Fatalf("got %d candidates, want 2", len(out))
	}
	if !strings.Contains(out[1].Content, "User: e") {
		t.Errorf("second window content = %q", out[1].Content)
	}
}

func TestCandidateMetadata(t *testing.T) {
	c := Candidate{Topics: []string{"pets"}}
	m := c.Metadata()
	if m["origin"] != "encoder" {
		t.Errorf("origin = %v, want encoder", m["origin"])
	}
	if got, ok := m[MetaTopics].([]string); !ok || len(got) != 1 || got[0] != "pets" {
		t.Errorf("topics metadata = %v", m[MetaTopics])
	}

	empty := Candidate{}
	if _, ok := empty.Metadata()[MetaTopics]; ok {
		t.Error("empty candidate carries a topics key")
	}
}
