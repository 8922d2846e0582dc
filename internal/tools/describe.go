package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Format selects the rendering of tool descriptions.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// toolDoc is the JSON rendering of one tool description.
type toolDoc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category,omitempty"`
	Aliases     []string       `json:"aliases,omitempty"`
	Example     string         `json:"example,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Describe renders documentation for the registered tools, for injection
// into the system prompt or for debug surfaces. An empty category selects
// every tool. Unknown formats fall back to text.
func (r *Router) Describe(category string, format Format) string {
	r.mu.RLock()
	selected := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if category != "" && t.Category != category {
			continue
		}
		selected = append(selected, t)
	}
	r.mu.RUnlock()

	sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })

	switch format {
	case FormatJSON:
		docs := make([]toolDoc, 0, len(selected))
		for _, t := range selected {
			docs = append(docs, toolDoc{
				Name:        t.Name,
				Description: t.Description,
				Category:    t.Category,
				Aliases:     t.Aliases,
				Example:     t.Example,
				Parameters:  t.Parameters,
			})
		}
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return "[]"
		}
		return string(data)

	case FormatMarkdown:
		var sb strings.Builder
		for _, t := range selected {
			fmt.Fprintf(&sb, "### %s\n\n%s\n", t.Name, t.Description)
			if len(t.Aliases) > 0 {
				fmt.Fprintf(&sb, "\nAliases: %s\n", strings.Join(t.Aliases, ", "))
			}
			if t.Example != "" {
				fmt.Fprintf(&sb, "\nExample: %q\n", t.Example)
			}
			sb.WriteString("\n")
		}
		return strings.TrimRight(sb.String(), "\n")

	default:
		var sb strings.Builder
		for _, t := range selected {
			fmt.Fprintf(&sb, "- %s: %s", t.Name, t.Description)
			if t.Example != "" {
				fmt.Fprintf(&sb, " (e.g. %q)", t.Example)
			}
			sb.WriteString("\n")
		}
		return strings.TrimRight(sb.String(), "\n")
	}
}
