// Package shortterm implements the bounded, ordered conversation log and the
// token-budgeted context assembly for the LLM.
//
// The log holds at most Capacity turns (default 20). When full, the oldest
// non-system turn is evicted; the first system turn, if any, is preserved so
// the assistant never loses its instructions. Turn indices are dense and
// strictly increasing within a session, surviving eviction.
//
// The log is mutated only by the orchestrator; reads may come from any
// goroutine.
package shortterm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codavoice/coda/pkg/memory"
)

const (
	// DefaultCapacity is the default maximum number of stored turns.
	DefaultCapacity = 20

	// charsPerToken is the approximation used for token budgeting.
	charsPerToken = 4
)

// Log is the short-term conversation memory. Safe for concurrent use.
type Log struct {
	mu           sync.RWMutex
	capacity     int
	turns        []memory.Turn
	nextIndex    int
	sessionStart time.Time

	// now is the clock; replaceable in tests.
	now func() time.Time
}

// New creates an empty Log. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity:     capacity,
		sessionStart: time.Now(),
		now:          time.Now,
	}
}

// Add appends a turn with the next monotonic index and returns it.
// When capacity is reached the oldest non-system turn is evicted; the first
// system turn is preserved before any non-system turn.
func (l *Log) Add(role, content string) memory.Turn {
	return l.AddTurn(role, content, "", nil)
}

// AddTurn appends a turn carrying an optional function name (for
// function-result turns) and function-call payload (for assistant turns that
// invoked a tool).
func (l *Log) AddTurn(role, content, name string, fc *memory.FunctionCall) memory.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := memory.Turn{
		Index:        l.nextIndex,
		Role:         role,
		Content:      content,
		Timestamp:    l.now(),
		Name:         name,
		FunctionCall: fc,
	}
	l.nextIndex++
	l.turns = append(l.turns, t)

	if len(l.turns) > l.capacity {
		l.evictLocked()
	}
	return t
}

// evictLocked removes the oldest non-system turn. The earliest system turn is
// only evicted when every stored turn is a system turn.
func (l *Log) evictLocked() {
	victim := -1
	for i, t := range l.turns {
		if t.Role != memory.RoleSystem {
			victim = i
			break
		}
	}
	if victim == -1 {
		victim = 0
	}
	l.turns = append(l.turns[:victim], l.turns[victim+1:]...)
}

// Context returns turns in chronological order fitting within maxTokens using
// the ~4 chars per token approximation. The first system turn, if present, is
// always included; remaining turns are taken newest-first until the budget is
// exhausted, then re-ordered chronologically. maxTokens <= 0 returns every
// stored turn.
func (l *Log) Context(maxTokens int) []memory.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.turns) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		out := make([]memory.Turn, len(l.turns))
		copy(out, l.turns)
		return out
	}

	budget := maxTokens

	var system *memory.Turn
	for i := range l.turns {
		if l.turns[i].Role == memory.RoleSystem {
			system = &l.turns[i]
			break
		}
	}
	if system != nil {
		budget -= EstimateTokens(system.Content)
	}

	// Newest backward, skipping the pinned system turn.
	var picked []memory.Turn
	for i := len(l.turns) - 1; i >= 0; i-- {
		t := l.turns[i]
		if system != nil && t.Index == system.Index {
			continue
		}
		cost := EstimateTokens(t.Content)
		if cost > budget {
			break
		}
		budget -= cost
		picked = append(picked, t)
	}

	// picked is newest-first; reverse into chronological order.
	out := make([]memory.Turn, 0, len(picked)+1)
	if system != nil {
		out = append(out, *system)
	}
	for i := len(picked) - 1; i >= 0; i-- {
		out = append(out, picked[i])
	}
	return out
}

// TurnCount returns the number of stored turns.
func (l *Log) TurnCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Reset clears the log, the turn counter, and restarts the session clock.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
	l.nextIndex = 0
	l.sessionStart = l.now()
}

// SessionStart returns the session start timestamp.
func (l *Log) SessionStart() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionStart
}

// exportDoc is the JSON session export document.
type exportDoc struct {
	SessionStart time.Time     `json:"session_start"`
	TurnCount    int           `json:"turn_count"`
	ExportTime   time.Time     `json:"export_time"`
	Turns        []memory.Turn `json:"turns"`
}

// Export serialises the full log plus session metadata to
// <dir>/session_<timestamp>.json and returns the written path. The directory
// is created if needed.
func (l *Log) Export(dir string) (string, error) {
	data, err := l.ExportJSON()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("shortterm: create export dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("session_%s.json", l.now().Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("shortterm: write export: %w", err)
	}
	return path, nil
}

// ExportJSON returns the session export document as JSON.
func (l *Log) ExportJSON() ([]byte, error) {
	l.mu.RLock()
	doc := exportDoc{
		SessionStart: l.sessionStart,
		TurnCount:    len(l.turns),
		ExportTime:   l.now(),
		Turns:        append([]memory.Turn(nil), l.turns...),
	}
	l.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("shortterm: marshal export: %w", err)
	}
	return data, nil
}

// Import replaces the log with the contents of an export file at path.
func (l *Log) Import(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("shortterm: read import: %w", err)
	}
	return l.ImportJSON(data)
}

// ImportJSON replaces the log with a previously exported document. The stored
// state is only replaced when the whole document parses.
func (l *Log) ImportJSON(data []byte) error {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("shortterm: parse import: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = doc.Turns
	l.sessionStart = doc.SessionStart
	l.nextIndex = 0
	for _, t := range doc.Turns {
		if t.Index >= l.nextIndex {
			l.nextIndex = t.Index + 1
		}
	}
	return nil
}

// EstimateTokens approximates the token count of text as len/4, with a floor
// of one token for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + charsPerToken - 1) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}
