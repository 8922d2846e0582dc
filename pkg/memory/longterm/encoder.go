package longterm

import (
	"strings"

	"github.com/codavoice/coda/pkg/memory"
)

const (
	// DefaultWindowSize is the number of turns per encoding window.
	DefaultWindowSize = 4

	// DefaultWindowOverlap is the number of turns shared between consecutive
	// windows so that facts straddling a boundary are not lost.
	DefaultWindowOverlap = 1

	baseImportance = 0.4
)

// Candidate is a memory record proposed by the Encoder, ready to be passed to
// Store.Add.
type Candidate struct {
	Content    string
	SourceType memory.SourceType
	Importance float64
	Topics     []string
}

// Metadata assembles the Add metadata map for the candidate.
func (c Candidate) Metadata() map[string]any {
	m := map[string]any{"origin": "encoder"}
	if len(c.Topics) > 0 {
		m[MetaTopics] = c.Topics
	}
	return m
}

// Encoder distils conversation windows into candidate memory records using
// lightweight text heuristics: self-referential statements boost importance
// and contribute topics, preference phrasing marks preference records, and so
// on. No model call is involved.
type Encoder struct {
	windowSize    int
	windowOverlap int
}

// NewEncoder creates an Encoder. Non-positive arguments select the defaults.
func NewEncoder(windowSize, windowOverlap int) *Encoder {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if windowOverlap < 0 || windowOverlap >= windowSize {
		windowOverlap = DefaultWindowOverlap
	}
	return &Encoder{windowSize: windowSize, windowOverlap: windowOverlap}
}

// importanceCue maps a lowercase substring to an importance boost and topics.
type importanceCue struct {
	phrase     string
	boost      float64
	topics     []string
	sourceType memory.SourceType
}

var cues = []importanceCue{
	{phrase: "my name is", boost: 0.5, topics: []string{"name"}, sourceType: memory.SourceFact},
	{phrase: "call me", boost: 0.4, topics: []string{"name"}, sourceType: memory.SourceFact},
	{phrase: "i live in", boost: 0.4, topics: []string{"location"}, sourceType: memory.SourceFact},
	{phrase: "i work", boost: 0.3, topics: []string{"work"}, sourceType: memory.SourceFact},
	{phrase: "my birthday", boost: 0.4, topics: []string{"dates"}, sourceType: memory.SourceFact},
	{phrase: "i prefer", boost: 0.3, topics: []string{"preferences"}, sourceType: memory.SourcePreference},
	{phrase: "my favorite", boost: 0.3, topics: []string{"preferences"}, sourceType: memory.SourcePreference},
	{phrase: "my favourite", boost: 0.3, topics: []string{"preferences"}, sourceType: memory.SourcePreference},
	{phrase: "i like", boost: 0.2, topics: []string{"preferences"}, sourceType: memory.SourcePreference},
	{phrase: "i hate", boost: 0.2, topics: []string{"preferences"}, sourceType: memory.SourcePreference},
	{phrase: "remember that", boost: 0.4, topics: nil, sourceType: memory.SourceFact},
	{phrase: "important", boost: 0.2, topics: nil, sourceType: ""},
}

// Encode splits turns into overlapping windows and produces one candidate per
// window that contains user content. Windows of pure small talk yield
// low-importance conversation records; windows carrying cue phrases yield
// boosted fact or preference records.
func (e *Encoder) Encode(turns []memory.Turn) []Candidate {
	var out []Candidate
	step := e.windowSize - e.windowOverlap
	for start := 0; start < len(turns); start += step {
		end := start + e.windowSize
		if end > len(turns) {
			end = len(turns)
		}
		if c, ok := e.encodeWindow(turns[start:end]); ok {
			out = append(out, c)
		}
		if end == len(turns) {
			break
		}
	}
	return out
}

// encodeWindow builds one candidate from a window. Windows without any user
// or assistant content are skipped.
func (e *Encoder) encodeWindow(window []memory.Turn) (Candidate, bool) {
	var parts []string
	hasUser := false
	for _, t := range window {
		switch t.Role {
		case memory.RoleUser:
			hasUser = true
			parts = append(parts, "User: "+t.Content)
		case memory.RoleAssistant:
			parts = append(parts, "Assistant: "+t.Content)
		}
	}
	if !hasUser || len(parts) == 0 {
		return Candidate{}, false
	}

	content := strings.Join(parts, "\n")
	lower := strings.ToLower(content)

	c := Candidate{
		Content:    content,
		SourceType: memory.SourceConversation,
		Importance: baseImportance,
	}

	seen := make(map[string]struct{})
	for _, cue := range cues {
		if !strings.Contains(lower, cue.phrase) {
			continue
		}
		c.Importance += cue.boost
		if cue.sourceType != "" && c.SourceType == memory.SourceConversation {
			c.SourceType = cue.sourceType
		}
		for _, t := range cue.topics {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				c.Topics = append(c.Topics, t)
			}
		}
	}
	if c.Importance > 1 {
		c.Importance = 1
	}
	return c, true
}
