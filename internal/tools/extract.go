package tools

import (
	"encoding/json"

	"github.com/codavoice/coda/pkg/provider/llm"
)

// Call is a tool invocation intent extracted from LLM output.
type Call struct {
	Name string
	Args map[string]any
}

// toolCallEnvelope is the agreed wire shape emitted by the LLM:
//
//	{"tool_call": {"name": "<tool>", "args": { … }}}
type toolCallEnvelope struct {
	ToolCall *struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"tool_call"`
}

// Extract finds a tool-call object embedded anywhere in the model's free
// text. It locates the first balanced JSON object, parses it, and accepts it
// only when it carries a tool_call key with a non-empty name. The second
// return value is false when the text contains no tool call.
func Extract(text string) (Call, bool) {
	obj, ok := llm.FirstJSONObject(text)
	if !ok {
		return Call{}, false
	}

	var env toolCallEnvelope
	if err := json.Unmarshal([]byte(obj), &env); err != nil {
		return Call{}, false
	}
	if env.ToolCall == nil || env.ToolCall.Name == "" {
		return Call{}, false
	}

	args := env.ToolCall.Args
	if args == nil {
		args = map[string]any{}
	}
	return Call{Name: env.ToolCall.Name, Args: args}, true
}
