// Package tools implements the tool router: a flat registry of named tools
// with aliases, extraction of tool-call JSON embedded in LLM free text, safe
// dispatch that never raises to the caller, and description generation for
// system prompt injection.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// Func is a tool implementation. It returns a textual result; a non-nil
// error is folded into the dispatch error string by Execute.
type Func func(ctx context.Context, args map[string]any) (string, error)

// Tool describes one registered tool.
type Tool struct {
	// Name is the canonical tool name.
	Name string

	// Fn is the implementation.
	Fn Func

	// Aliases are alternative names sharing the canonical namespace.
	Aliases []string

	// Category groups tools for description generation.
	Category string

	// Description is the one-line summary shown to the LLM.
	Description string

	// Example shows a natural phrasing that should trigger the tool.
	Example string

	// Parameters is an optional JSON-schema-shaped argument description.
	Parameters map[string]any
}

// Router is the process-wide tool registry. Registration happens at startup;
// dispatch is safe for concurrent use.
type Router struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	resolve map[string]string
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		tools:   make(map[string]*Tool),
		resolve: make(map[string]string),
	}
}

// Register adds a tool. Canonical names and aliases share one flat namespace;
// any collision fails the registration so duplicate aliases surface at
// startup instead of shadowing each other at dispatch time.
func (r *Router) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tools: tool must have a name")
	}
	if t.Fn == nil {
		return fmt.Errorf("tools: tool %q must have an implementation", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := append([]string{t.Name}, t.Aliases...)
	for _, n := range names {
		if existing, ok := r.resolve[n]; ok {
			return fmt.Errorf("tools: name %q already registered (canonical %q)", n, existing)
		}
	}
	for _, n := range names {
		r.resolve[n] = t.Name
	}
	r.tools[t.Name] = &t
	return nil
}

// Execute resolves name through the alias table, invokes the tool, and
// returns the textual result. Failures are returned as strings, never as
// errors: an unknown tool yields "Error: Unknown tool '<name>'" and a tool
// failure yields "Error executing tool '<name>': <message>".
func (r *Router) Execute(ctx context.Context, name string, args map[string]any) string {
	r.mu.RLock()
	canonical, ok := r.resolve[name]
	var tool *Tool
	if ok {
		tool = r.tools[canonical]
	}
	r.mu.RUnlock()

	if tool == nil {
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}

	result, err := safeCall(ctx, tool.Fn, args)
	if err != nil {
		return fmt.Sprintf("Error executing tool '%s': %s", name, err.Error())
	}
	return result
}

// safeCall invokes fn and converts a panic into an error so a misbehaving
// tool cannot take down the turn pipeline.
func safeCall(ctx context.Context, fn Func, args map[string]any) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return fn(ctx, args)
}

// Known reports whether name resolves to a registered tool.
func (r *Router) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.resolve[name]
	return ok
}

// Names returns the canonical tool names, sorted.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the tool registered under name (canonical or alias).
func (r *Router) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.resolve[name]
	if !ok {
		return nil, false
	}
	return r.tools[canonical], true
}

// Suggest returns the closest registered name to the given unknown name, for
// "did you mean" log lines. Returns the empty string when nothing is within
// edit distance 3.
func (r *Router) Suggest(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	const maxDistance = 3
	best := ""
	bestDist := maxDistance + 1
	lower := strings.ToLower(name)
	for candidate := range r.resolve {
		d := matchr.DamerauLevenshtein(lower, strings.ToLower(candidate))
		if d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	return best
}
