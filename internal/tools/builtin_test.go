package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codavoice/coda/pkg/memory/longterm"
	"github.com/codavoice/coda/pkg/memory/shortterm"
	embmock "github.com/codavoice/coda/pkg/provider/embeddings/mock"
)

func newBuiltinRouter(t *testing.T, deps BuiltinDeps) *Router {
	t.Helper()
	r := NewRouter()
	if err := RegisterBuiltins(r, deps); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return r
}

func fixedNow() time.Time {
	return time.Date(2026, time.March, 9, 14, 30, 0, 0, time.UTC) // a Monday
}

func TestGetTime_SpokenFormat(t *testing.T) {
	r := newBuiltinRouter(t, BuiltinDeps{Now: fixedNow})

	got := r.Execute(context.Background(), "get_time", nil)
	if got != "It's 14:30." {
		t.Errorf("get_time = %q, want %q", got, "It's 14:30.")
	}
}

func TestGetDate_SpokenFormat(t *testing.T) {
	r := newBuiltinRouter(t, BuiltinDeps{Now: fixedNow})

	got := r.Execute(context.Background(), "get_date", nil)
	if got != "Today is Monday, March 9, 2026." {
		t.Errorf("get_date = %q, want %q", got, "Today is Monday, March 9, 2026.")
	}
}

func TestTellJoke_ReturnsKnownJoke(t *testing.T) {
	r := newBuiltinRouter(t, BuiltinDeps{})

	got := r.Execute(context.Background(), "tell_joke", nil)
	found := false
	for _, j := range jokes {
		if got == j {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("tell_joke returned unknown text %q", got)
	}
}

func TestListTools_MentionsEveryBuiltin(t *testing.T) {
	r := newBuiltinRouter(t, BuiltinDeps{})

	got := r.Execute(context.Background(), "list_tools", nil)
	for _, name := range []string{"get_time", "get_date", "tell_joke", "remember_fact", "recall_memory"} {
		if !strings.Contains(got, name) {
			t.Errorf("list_tools output missing %q", name)
		}
	}

	// The alias produces the same answer.
	if alias := r.Execute(context.Background(), "help", nil); alias != got {
		t.Error("help alias output differs from list_tools")
	}
}

func TestShowCapabilities_GroupsByCategory(t *testing.T) {
	r := newBuiltinRouter(t, BuiltinDeps{})

	got := r.Execute(context.Background(), "what_can_you_do", nil)
	if !strings.Contains(got, "utility:") || !strings.Contains(got, "memory:") {
		t.Errorf("capabilities output missing categories:\n%s", got)
	}
}

func TestCountConversationTurns(t *testing.T) {
	log := shortterm.New(0)
	log.Add("user", "hello")
	log.Add("assistant", "hi there")
	r := newBuiltinRouter(t, BuiltinDeps{ShortTerm: log})

	got := r.Execute(context.Background(), "count_conversation_turns", nil)
	if got != "The current conversation has 2 turns." {
		t.Errorf("count_conversation_turns = %q", got)
	}
}

func TestListMemoryFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"session_a.json", "session_b.json", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	r := newBuiltinRouter(t, BuiltinDeps{ExportDir: dir})

	got := r.Execute(context.Background(), "list_memory_files", nil)
	if !strings.Contains(got, "Saved files (2):") {
		t.Errorf("list_memory_files = %q, want 2 json files", got)
	}
	if strings.Contains(got, "notes.txt") {
		t.Errorf("list_memory_files listed a non-json file: %q", got)
	}
}

func TestListMemoryFiles_MissingDir(t *testing.T) {
	r := newBuiltinRouter(t, BuiltinDeps{ExportDir: filepath.Join(t.TempDir(), "nope")})

	got := r.Execute(context.Background(), "list_memory_files", nil)
	if got != "No saved conversations yet." {
		t.Errorf("list_memory_files = %q", got)
	}
}

func TestMemoryTools_WithoutStore(t *testing.T) {
	r := newBuiltinRouter(t, BuiltinDeps{})

	for _, tool := range []string{"remember_fact", "recall_memory", "memory_stats"} {
		got := r.Execute(context.Background(), tool, map[string]any{"fact": "x", "query": "x"})
		if got != "Long-term memory is not configured." {
			t.Errorf("%s without store = %q", tool, got)
		}
	}
}

func TestRememberAndRecall_RoundTrip(t *testing.T) {
	store, err := longterm.NewFileStore(&embmock.Provider{}, longterm.WithDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	r := newBuiltinRouter(t, BuiltinDeps{LongTerm: store})

	got := r.Execute(context.Background(), "remember_fact", map[string]any{"fact": "the cat is called Miso"})
	if !strings.Contains(got, "Miso") {
		t.Errorf("remember_fact = %q", got)
	}

	got = r.Execute(context.Background(), "recall_memory", map[string]any{"query": "the cat is called Miso"})
	if !strings.Contains(got, "Miso") {
		t.Errorf("recall_memory = %q", got)
	}

	got = r.Execute(context.Background(), "memory_stats", nil)
	if !strings.Contains(got, "1 memories") {
		t.Errorf("memory_stats = %q", got)
	}
}

func TestRememberFact_MissingArgument(t *testing.T) {
	store, err := longterm.NewFileStore(&embmock.Provider{}, longterm.WithDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	r := newBuiltinRouter(t, BuiltinDeps{LongTerm: store})

	got := r.Execute(context.Background(), "remember_fact", nil)
	want := "Error executing tool 'remember_fact': missing 'fact' argument"
	if got != want {
		t.Errorf("remember_fact = %q, want %q", got, want)
	}
}
