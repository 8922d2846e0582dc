package llm

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "function".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant or function name. Set when Role is
	// "function" to identify which tool produced the content.
	Name string
}
