package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/codavoice/coda/pkg/provider/llm"
)

// DefaultPersonality is used when no personality text is configured.
const DefaultPersonality = "You are Coda, a friendly and concise voice assistant. " +
	"Your replies are spoken aloud, so keep them short and conversational."

// toolInstruction teaches the pass-1 tool-call format. Pass 2 uses a
// different prompt that forbids JSON entirely; see summaryMessages.
const toolInstruction = `You have access to the tools listed below. When the user's request needs a tool, respond with ONLY a JSON object of this exact shape and nothing else:
{"tool_call": {"name": "<tool_name>", "args": {}}}
When no tool is needed, answer naturally in plain text and never output JSON.`

// summarySystemPrompt is the pass-2 instruction. It deliberately never
// mentions the JSON format so the model cannot echo it back.
const summarySystemPrompt = "You are Coda, a friendly voice assistant. " +
	"Answer the user's question in one or two short spoken sentences using the information provided. " +
	"Do not mention tools, functions, or JSON. Plain conversational text only."

// buildSystemPrompt assembles the pass-1 system prompt from the personality
// text, the tool documentation, and the session start time.
func buildSystemPrompt(personality, toolDocs string, now time.Time) string {
	if personality == "" {
		personality = DefaultPersonality
	}

	var sb strings.Builder
	sb.WriteString(personality)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "The conversation started on %s.\n\n", now.Format("Monday, January 2, 2006 at 15:04"))
	sb.WriteString(toolInstruction)
	sb.WriteString("\n\nAvailable tools:\n")
	sb.WriteString(toolDocs)
	return sb.String()
}

// summaryMessages builds the minimal pass-2 context: the summarization
// system prompt, the tool result as a system message, and the original user
// query. Keeping the context this small is what lets small models produce a
// clean natural-language answer.
func summaryMessages(toolName, toolResult, userQuery string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "system", Content: fmt.Sprintf("Result from %s: %s", toolName, toolResult)},
		{Role: "user", Content: userQuery},
	}
}

// retrievalMessage renders retrieved long-term memories as a context block
// for pass 1.
func retrievalMessage(memories []string) string {
	var sb strings.Builder
	sb.WriteString("Relevant things you remember about the user:\n")
	for _, m := range memories {
		fmt.Fprintf(&sb, "- %s\n", m)
	}
	return strings.TrimRight(sb.String(), "\n")
}
