package bus

// Typed submission helpers. Field names in the data maps are part of the
// external contract; see the event feed documentation before renaming any.
// Helpers that mark milestones observers must never miss submit at High
// priority so they enter the replay buffer.

// ConversationStart announces a new session.
func (b *Bus) ConversationStart(sessionStart float64) {
	b.Submit(TypeConversationStart, map[string]any{
		"session_start": sessionStart,
	}, High)
}

// ConversationEnd announces session teardown.
func (b *Bus) ConversationEnd(turnCount int) {
	b.Submit(TypeConversationEnd, map[string]any{
		"turn_count": turnCount,
	}, High)
}

// ConversationTurn announces a committed turn.
func (b *Bus) ConversationTurn(role, content string, turnIndex int) {
	b.Submit(TypeConversationTurn, map[string]any{
		"role":       role,
		"content":    content,
		"turn_index": turnIndex,
	}, High)
}

// SystemInfo broadcasts an informational notice.
func (b *Bus) SystemInfo(message string) {
	b.Submit(TypeSystemInfo, map[string]any{
		"message": message,
	}, Normal)
}

// SystemError broadcasts a non-fatal system failure.
func (b *Bus) SystemError(component, message string) {
	b.Submit(TypeSystemError, map[string]any{
		"component": component,
		"message":   message,
	}, High)
}

// STTStart announces that audio capture began.
func (b *Bus) STTStart(mode string) {
	b.Submit(TypeSTTStart, map[string]any{
		"mode": mode,
	}, Normal)
}

// STTInterim broadcasts a provisional transcript.
func (b *Bus) STTInterim(text string, confidence float64) {
	b.Submit(TypeSTTInterim, map[string]any{
		"text":       text,
		"confidence": confidence,
	}, Normal)
}

// STTResult broadcasts a final transcript.
func (b *Bus) STTResult(text string, confidence, durationSeconds float64, language string) {
	data := map[string]any{
		"text":             text,
		"confidence":       confidence,
		"duration_seconds": durationSeconds,
	}
	if language != "" {
		data["language"] = language
	}
	b.Submit(TypeSTTResult, data, High)
}

// STTError broadcasts a transcription failure.
func (b *Bus) STTError(message string) {
	b.Submit(TypeSTTError, map[string]any{
		"message": message,
	}, High)
}

// LLMStart announces the beginning of an inference round.
func (b *Bus) LLMStart(model string, promptTokens int, systemPromptPreview string) {
	data := map[string]any{
		"model":         model,
		"prompt_tokens": promptTokens,
	}
	if systemPromptPreview != "" {
		data["system_prompt_preview"] = systemPromptPreview
	}
	b.Submit(TypeLLMStart, data, Normal)
}

// LLMToken broadcasts one streamed token.
func (b *Bus) LLMToken(token string, tokenIndex int) {
	b.Submit(TypeLLMToken, map[string]any{
		"token":       token,
		"token_index": tokenIndex,
	}, Normal)
}

// LLMResult broadcasts the completed inference round.
func (b *Bus) LLMResult(text string, totalTokens int, durationSeconds float64, hasToolCalls bool) {
	b.Submit(TypeLLMResult, map[string]any{
		"text":             text,
		"total_tokens":     totalTokens,
		"duration_seconds": durationSeconds,
		"has_tool_calls":   hasToolCalls,
	}, High)
}

// LLMError broadcasts an inference failure.
func (b *Bus) LLMError(message string) {
	b.Submit(TypeLLMError, map[string]any{
		"message": message,
	}, High)
}

// TTSStart announces that synthesis began for one utterance.
func (b *Bus) TTSStart(text, voice, provider string) {
	b.Submit(TypeTTSStart, map[string]any{
		"text":     text,
		"voice":    voice,
		"provider": provider,
	}, Normal)
}

// TTSProgress broadcasts synthesis progress in percent.
func (b *Bus) TTSProgress(percentComplete float64) {
	b.Submit(TypeTTSProgress, map[string]any{
		"percent_complete": percentComplete,
	}, Normal)
}

// TTSResult broadcasts a completed synthesis.
func (b *Bus) TTSResult(durationSeconds, audioDurationSeconds float64, charCount int) {
	b.Submit(TypeTTSResult, map[string]any{
		"duration_seconds":       durationSeconds,
		"audio_duration_seconds": audioDurationSeconds,
		"char_count":             charCount,
	}, High)
}

// TTSError broadcasts a synthesis failure.
func (b *Bus) TTSError(message string) {
	b.Submit(TypeTTSError, map[string]any{
		"message": message,
	}, High)
}

// TTSStop broadcasts a playback interrupt.
func (b *Bus) TTSStop(reason string) {
	b.Submit(TypeTTSStop, map[string]any{
		"reason": reason,
	}, High)
}

// TTSStatus broadcasts speak-queue state.
func (b *Bus) TTSStatus(status string, queueDepth int) {
	b.Submit(TypeTTSStatus, map[string]any{
		"status":      status,
		"queue_depth": queueDepth,
	}, Normal)
}

// MemoryStore broadcasts a long-term memory write.
func (b *Bus) MemoryStore(contentPreview, memoryType string, importance float64, memoryID string) {
	b.Submit(TypeMemoryStore, map[string]any{
		"content_preview": contentPreview,
		"memory_type":     memoryType,
		"importance":      importance,
		"memory_id":       memoryID,
	}, Normal)
}

// MemoryRetrieve broadcasts a long-term memory search.
func (b *Bus) MemoryRetrieve(query string, resultsCount int, topResultPreview string) {
	data := map[string]any{
		"query":         query,
		"results_count": resultsCount,
	}
	if topResultPreview != "" {
		data["top_result_preview"] = topResultPreview
	}
	b.Submit(TypeMemoryRetrieve, data, Normal)
}

// MemoryUpdate broadcasts a reinforcement or metadata update.
func (b *Bus) MemoryUpdate(memoryID string, importance float64) {
	b.Submit(TypeMemoryUpdate, map[string]any{
		"memory_id":  memoryID,
		"importance": importance,
	}, Normal)
}

// MemorySummary broadcasts topic-cluster summaries.
func (b *Bus) MemorySummary(summaries []string) {
	b.Submit(TypeMemorySummary, map[string]any{
		"summaries": summaries,
	}, Normal)
}

// ToolCall broadcasts a tool invocation.
func (b *Bus) ToolCall(toolName string, parameters map[string]any) {
	b.Submit(TypeToolCall, map[string]any{
		"tool_name":  toolName,
		"parameters": parameters,
	}, High)
}

// ToolResult broadcasts a completed tool invocation.
func (b *Bus) ToolResult(toolName, resultPreview string, durationSeconds float64) {
	b.Submit(TypeToolResult, map[string]any{
		"tool_name":        toolName,
		"result_preview":   resultPreview,
		"duration_seconds": durationSeconds,
	}, High)
}

// ToolError broadcasts a failed tool invocation.
func (b *Bus) ToolError(toolName, message string) {
	b.Submit(TypeToolError, map[string]any{
		"tool_name": toolName,
		"message":   message,
	}, High)
}

// SystemMetricsEvent broadcasts a resource usage sample.
func (b *Bus) SystemMetricsEvent(memoryMB, cpuPercent, gpuVRAMMB, uptimeSeconds float64) {
	data := map[string]any{
		"memory_mb":      memoryMB,
		"cpu_percent":    cpuPercent,
		"uptime_seconds": uptimeSeconds,
	}
	if gpuVRAMMB > 0 {
		data["gpu_vram_mb"] = gpuVRAMMB
	}
	b.Submit(TypeSystemMetrics, data, Normal)
}

// ComponentTiming broadcasts one measured component operation.
func (b *Bus) ComponentTiming(component, operation string, durationSeconds float64) {
	b.Submit(TypeComponentTiming, map[string]any{
		"component":        component,
		"operation":        operation,
		"duration_seconds": durationSeconds,
	}, Normal)
}

// ComponentStats broadcasts aggregate per-operation statistics.
func (b *Bus) ComponentStats(stats map[string]any) {
	b.Submit(TypeComponentStats, stats, Normal)
}

// LatencyTraceEvent broadcasts the end-to-end trace of the last turn.
func (b *Bus) LatencyTraceEvent(trace map[string]any) {
	b.Submit(TypeLatencyTrace, trace, Normal)
}

// ClientMessage re-emits an inbound observer message.
func (b *Bus) ClientMessage(msgType string, data map[string]any) {
	b.Submit(TypeClientMessage, map[string]any{
		"client_type": msgType,
		"data":        data,
	}, Normal)
}
