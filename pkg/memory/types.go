// Package memory defines the shared data model for Coda's two memory layers.
//
// The short-term layer ([shortterm.Log]) is a bounded, ordered log of
// conversation turns that derives the token-budgeted context window handed to
// the LLM. The long-term layer ([longterm.Store]) persists discrete knowledge
// records with vector retrieval, topic clustering, reinforcement, and
// forgetting. The two layers are deliberately independent; the orchestrator
// forwards writes to both and reads from either.
//
// Every implementation must be safe for concurrent use.
package memory

import "time"

// Role values for conversation turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// FunctionCall is the tool-invocation payload attached to an assistant turn
// that triggered a tool.
type FunctionCall struct {
	// Name is the canonical tool name that was invoked.
	Name string `json:"name"`

	// Arguments is the JSON argument map passed to the tool.
	Arguments map[string]any `json:"arguments"`
}

// Turn is one conversation utterance. Turns are immutable once appended and
// carry a dense, strictly increasing index within a session.
type Turn struct {
	// Index is the monotonic position of this turn in the session.
	Index int `json:"index"`

	// Role is one of RoleSystem, RoleUser, RoleAssistant, RoleFunction.
	Role string `json:"role"`

	// Content is the turn's text.
	Content string `json:"content"`

	// Timestamp is the wall-clock creation time.
	Timestamp time.Time `json:"timestamp"`

	// Name identifies the tool for function-result turns. Empty otherwise.
	Name string `json:"name,omitempty"`

	// FunctionCall is set on assistant turns that invoked a tool.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// SourceType classifies where a long-term memory record came from.
type SourceType string

const (
	// SourceConversation marks records distilled from conversation windows.
	SourceConversation SourceType = "conversation"

	// SourceFact marks explicitly asserted facts ("remember that ...").
	SourceFact SourceType = "fact"

	// SourcePreference marks user preferences.
	SourcePreference SourceType = "preference"

	// SourceSystem marks records created by the system itself.
	SourceSystem SourceType = "system"
)

// Record is a persistent unit of long-term knowledge.
//
// Importance is clamped to [0,1]; AccessCount never decreases. Records are
// mutated only by reinforcement, importance updates, or forgetting, and
// destroyed only by explicit deletion or capacity-driven eviction.
type Record struct {
	// ID is the stable opaque identifier.
	ID string `json:"id"`

	// Content is the knowledge text.
	Content string `json:"content"`

	// SourceType classifies the record's origin.
	SourceType SourceType `json:"source_type"`

	// Importance in [0,1] weights retrieval and forgetting.
	Importance float64 `json:"importance"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`

	// LastAccess is bumped by retrieval hits and reinforcement.
	LastAccess time.Time `json:"last_access"`

	// AccessCount is the number of times the record has been retrieved or
	// reinforced. Non-decreasing.
	AccessCount int `json:"access_count"`

	// Topics is the unordered topic set assigned by the encoder.
	Topics []string `json:"topics,omitempty"`

	// Metadata carries free-form attributes.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Embedding is the record's vector, when computed. Omitted from metadata
	// JSON by backends that keep vectors in a separate index.
	Embedding []float32 `json:"-"`
}

// SearchResult pairs a retrieved record with its similarity to the query and
// the adjusted score used for ranking (similarity combined with time decay).
type SearchResult struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
	Score      float64        `json:"score"`
}

// Stats summarises a long-term store's contents.
type Stats struct {
	// MemoryCount is the number of stored records.
	MemoryCount int `json:"memory_count"`

	// BySourceType counts records per source type.
	BySourceType map[SourceType]int `json:"by_source_type"`

	// TopicCount is the number of distinct topics.
	TopicCount int `json:"topic_count"`

	// AvgImportance is the mean importance across all records, 0 when empty.
	AvgImportance float64 `json:"avg_importance"`

	// OldestRecord and NewestRecord are creation timestamps; zero when empty.
	OldestRecord time.Time `json:"oldest_record,omitzero"`
	NewestRecord time.Time `json:"newest_record,omitzero"`
}
