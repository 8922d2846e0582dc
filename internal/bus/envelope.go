// Package bus implements the event broadcast fabric: a thread-safe event bus
// with a single dispatcher goroutine, per-observer bounded queues, a replay
// buffer for high-priority events, and a WebSocket fan-out server that
// streams the event feed to connected observers.
package bus

import "time"

// ProtocolVersion is the wire protocol version stamped on every envelope.
const ProtocolVersion = "1.0"

// Priority marks whether an event is retained in the replay buffer.
type Priority int

const (
	// Normal events are broadcast to connected observers only.
	Normal Priority = iota

	// High events are additionally kept in the replay buffer and delivered
	// to newly connected observers.
	High
)

// Event type tags. The tag strings are part of the external contract.
const (
	// Lifecycle.
	TypeConversationStart = "conversation_start"
	TypeConversationEnd   = "conversation_end"
	TypeConversationTurn  = "conversation_turn"
	TypeSystemInfo        = "system_info"
	TypeSystemError       = "system_error"

	// STT.
	TypeSTTStart   = "stt_start"
	TypeSTTInterim = "stt_interim"
	TypeSTTResult  = "stt_result"
	TypeSTTError   = "stt_error"

	// LLM.
	TypeLLMStart  = "llm_start"
	TypeLLMToken  = "llm_token"
	TypeLLMResult = "llm_result"
	TypeLLMError  = "llm_error"

	// TTS.
	TypeTTSStart    = "tts_start"
	TypeTTSProgress = "tts_progress"
	TypeTTSResult   = "tts_result"
	TypeTTSError    = "tts_error"
	TypeTTSStop     = "tts_stop"
	TypeTTSStatus   = "tts_status"

	// Memory.
	TypeMemoryStore    = "memory_store"
	TypeMemoryRetrieve = "memory_retrieve"
	TypeMemoryUpdate   = "memory_update"
	TypeMemoryDebug    = "memory_debug"
	TypeMemorySummary  = "memory_summary"

	// Tools.
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeToolError  = "tool_error"

	// Telemetry.
	TypeSystemMetrics   = "system_metrics"
	TypeComponentTiming = "component_timing"
	TypeComponentStats  = "component_stats"
	TypeLatencyTrace    = "latency_trace"

	// Inbound client traffic re-emitted by the server.
	TypeClientMessage = "client_message"

	// Replay batch sent to a newly connected observer.
	TypeReplay = "replay"
)

// Envelope is the wire framing of one broadcast event.
type Envelope struct {
	Version   string         `json:"version"`
	Seq       uint64         `json:"seq"`
	Timestamp float64        `json:"timestamp"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
}

// timestampSeconds converts a wall-clock instant to the envelope's
// seconds-since-epoch representation.
func timestampSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
