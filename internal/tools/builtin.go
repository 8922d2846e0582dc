package tools

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codavoice/coda/pkg/memory"
	"github.com/codavoice/coda/pkg/memory/longterm"
	"github.com/codavoice/coda/pkg/memory/shortterm"
)

// BuiltinDeps carries everything the built-in tools need. LongTerm may be
// nil; the memory tools then answer that no long-term memory is configured.
type BuiltinDeps struct {
	ShortTerm *shortterm.Log
	LongTerm  longterm.Store

	// ExportDir is where conversation exports and snapshots live.
	ExportDir string

	// Now is the clock; nil selects time.Now.
	Now func() time.Time
}

var jokes = []string{
	"Why don't scientists trust atoms? Because they make up everything.",
	"I told my computer I needed a break, and it said no problem, it would go to sleep.",
	"Why did the scarecrow win an award? He was outstanding in his field.",
	"What do you call a fish with no eyes? A fsh.",
	"I would tell you a UDP joke, but you might not get it.",
}

// RegisterBuiltins registers the standard tool set on r. Fails fast on any
// name or alias collision.
func RegisterBuiltins(r *Router, deps BuiltinDeps) error {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	builtins := []Tool{
		{
			Name:        "get_time",
			Category:    "utility",
			Description: "Tell the current time",
			Example:     "What time is it?",
			Fn: func(context.Context, map[string]any) (string, error) {
				return now().Format("It's 15:04."), nil
			},
		},
		{
			Name:        "get_date",
			Category:    "utility",
			Description: "Tell today's date",
			Example:     "What's the date today?",
			Fn: func(context.Context, map[string]any) (string, error) {
				return now().Format("Today is Monday, January 2, 2006."), nil
			},
		},
		{
			Name:        "tell_joke",
			Category:    "utility",
			Description: "Tell a short joke",
			Example:     "Tell me a joke",
			Fn: func(context.Context, map[string]any) (string, error) {
				return jokes[rand.Intn(len(jokes))], nil
			},
		},
		{
			Name:        "list_memory_files",
			Category:    "memory",
			Description: "List saved conversation exports and snapshots",
			Example:     "What conversations have you saved?",
			Fn: func(context.Context, map[string]any) (string, error) {
				return listMemoryFiles(deps.ExportDir)
			},
		},
		{
			Name:        "count_conversation_turns",
			Category:    "memory",
			Description: "Count the turns in the current conversation",
			Example:     "How long have we been talking?",
			Fn: func(context.Context, map[string]any) (string, error) {
				if deps.ShortTerm == nil {
					return "No conversation in progress.", nil
				}
				n := deps.ShortTerm.TurnCount()
				return fmt.Sprintf("The current conversation has %d turns.", n), nil
			},
		},
		{
			Name:        "list_tools",
			Aliases:     []string{"help"},
			Category:    "utility",
			Description: "List every available tool",
			Example:     "What tools do you have?",
			Fn: func(context.Context, map[string]any) (string, error) {
				return "Available tools:\n" + r.Describe("", FormatText), nil
			},
		},
		{
			Name:        "show_capabilities",
			Aliases:     []string{"what_can_you_do"},
			Category:    "utility",
			Description: "Summarize what the assistant can do",
			Example:     "What can you do?",
			Fn: func(context.Context, map[string]any) (string, error) {
				return capabilitiesSummary(r), nil
			},
		},
		{
			Name:        "remember_fact",
			Category:    "memory",
			Description: "Store a fact in long-term memory",
			Example:     "Remember that my cat is called Miso",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fact": map[string]any{"type": "string", "description": "The fact to remember"},
				},
				"required": []string{"fact"},
			},
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				return rememberFact(ctx, deps.LongTerm, args)
			},
		},
		{
			Name:        "recall_memory",
			Category:    "memory",
			Description: "Search long-term memory",
			Example:     "What do you remember about my cat?",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "What to search for"},
				},
				"required": []string{"query"},
			},
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				return recallMemory(ctx, deps.LongTerm, args)
			},
		},
		{
			Name:        "memory_stats",
			Category:    "memory",
			Description: "Report long-term memory statistics",
			Example:     "How many memories do you have?",
			Fn: func(ctx context.Context, _ map[string]any) (string, error) {
				return memoryStats(ctx, deps.LongTerm)
			},
		},
	}

	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func listMemoryFiles(dir string) (string, error) {
	if dir == "" {
		return "No export directory is configured.", nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "No saved conversations yet.", nil
	}
	if err != nil {
		return "", err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return "No saved conversations yet.", nil
	}
	sort.Strings(names)
	return fmt.Sprintf("Saved files (%d):\n%s", len(names), strings.Join(names, "\n")), nil
}

func capabilitiesSummary(r *Router) string {
	byCategory := make(map[string][]string)
	for _, name := range r.Names() {
		t, _ := r.Get(name)
		byCategory[t.Category] = append(byCategory[t.Category], t.Description)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var sb strings.Builder
	sb.WriteString("I can hold a voice conversation, remember things across sessions, and use these tools:\n")
	for _, c := range categories {
		fmt.Fprintf(&sb, "%s: %s\n", c, strings.Join(byCategory[c], "; "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func rememberFact(ctx context.Context, store longterm.Store, args map[string]any) (string, error) {
	if store == nil {
		return "Long-term memory is not configured.", nil
	}
	fact, _ := args["fact"].(string)
	if strings.TrimSpace(fact) == "" {
		return "", fmt.Errorf("missing 'fact' argument")
	}
	if _, err := store.Add(ctx, fact, memory.SourceFact, 0.8, map[string]any{"origin": "tool"}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Okay, I'll remember that: %s", fact), nil
}

func recallMemory(ctx context.Context, store longterm.Store, args map[string]any) (string, error) {
	if store == nil {
		return "Long-term memory is not configured.", nil
	}
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("missing 'query' argument")
	}
	results, err := store.Search(ctx, query, longterm.SearchOptions{Limit: 3, MinSimilarity: 0.3})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "I don't remember anything about that.", nil
	}
	var sb strings.Builder
	sb.WriteString("Here's what I remember:\n")
	for _, res := range results {
		fmt.Fprintf(&sb, "- %s\n", res.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func memoryStats(ctx context.Context, store longterm.Store) (string, error) {
	if store == nil {
		return "Long-term memory is not configured.", nil
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("I hold %d memories across %d topics (average importance %.2f).",
		stats.MemoryCount, stats.TopicCount, stats.AvgImportance), nil
}
