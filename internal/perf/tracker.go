// Package perf implements the performance tracking fabric: named time
// markers, per-operation duration samples, end-to-end latency traces that
// separate processing time from audio time, and periodic resource sampling.
package perf

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Publisher is the slice of the event bus the tracker needs. Satisfied by
// *bus.Bus.
type Publisher interface {
	ComponentTiming(component, operation string, durationSeconds float64)
	ComponentStats(stats map[string]any)
	SystemMetricsEvent(memoryMB, cpuPercent, gpuVRAMMB, uptimeSeconds float64)
}

// Stage names used in latency traces.
const (
	StageSTT  = "stt"
	StageLLM  = "llm"
	StageTTS  = "tts"
	StageTool = "tool"
)

// LatencyTrace is the end-to-end timing snapshot of the most recent turn.
// Processing fields measure computation only; the audio fields measure
// captured and generated audio length.
type LatencyTrace struct {
	STTSeconds             float64 `json:"stt_seconds"`
	LLMSeconds             float64 `json:"llm_seconds"`
	TTSSeconds             float64 `json:"tts_seconds"`
	ToolSeconds            float64 `json:"tool_seconds"`
	TotalProcessingSeconds float64 `json:"total_processing_seconds"`
	STTAudioDuration       float64 `json:"stt_audio_duration"`
	TTSAudioDuration       float64 `json:"tts_audio_duration"`
	TotalInteractionSeconds float64 `json:"total_interaction_seconds"`
}

// Map renders the trace as an event payload. Field names are part of the
// external contract.
func (t LatencyTrace) Map() map[string]any {
	return map[string]any{
		"stt_seconds":               t.STTSeconds,
		"llm_seconds":               t.LLMSeconds,
		"tts_seconds":               t.TTSSeconds,
		"tool_seconds":              t.ToolSeconds,
		"total_processing_seconds":  t.TotalProcessingSeconds,
		"stt_audio_duration":        t.STTAudioDuration,
		"tts_audio_duration":        t.TTSAudioDuration,
		"total_interaction_seconds": t.TotalInteractionSeconds,
	}
}

// OperationStats aggregates the samples recorded for one
// component.operation pair.
type OperationStats struct {
	Count      int     `json:"count"`
	TotalSecs  float64 `json:"total_seconds"`
	MinSecs    float64 `json:"min_seconds"`
	MaxSecs    float64 `json:"max_seconds"`
	AvgSecs    float64 `json:"avg_seconds"`
	LastSecs   float64 `json:"last_seconds"`
}

// Tracker records markers and durations. All methods are safe for concurrent
// use. The zero value is not usable; construct with New.
type Tracker struct {
	mu           sync.Mutex
	markers      map[string]time.Time
	samples      map[string][]float64
	counters     map[string]int
	stages       map[string]float64
	audio        map[string]float64
	sessionStart time.Time

	publisher Publisher
	now       func() time.Time
}

// New creates a Tracker. publisher may be nil; component timing events are
// then skipped.
func New(publisher Publisher) *Tracker {
	t := &Tracker{
		publisher: publisher,
		now:       time.Now,
	}
	t.resetLocked()
	return t
}

func (t *Tracker) resetLocked() {
	t.markers = make(map[string]time.Time)
	t.samples = make(map[string][]float64)
	t.counters = make(map[string]int)
	t.stages = make(map[string]float64)
	t.audio = make(map[string]float64)
	t.sessionStart = t.now()
}

// Reset clears all markers and samples and restarts the session clock.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// SessionStart returns when the tracker was created or last reset.
func (t *Tracker) SessionStart() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionStart
}

// Mark records the current time against name, overwriting any previous mark.
func (t *Tracker) Mark(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markers[name] = t.now()
}

// Duration returns the elapsed time from marker a to marker b in seconds.
// Missing markers yield zero, never an error.
func (t *Tracker) Duration(a, b string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ta, okA := t.markers[a]
	tb, okB := t.markers[b]
	if !okA || !okB {
		return 0
	}
	return tb.Sub(ta).Seconds()
}

// MarkComponent marks <component>.<operation>.start or .end. On end it
// computes the elapsed duration, appends it to the operation's sample list,
// increments the operation counter, and emits a component_timing event. An
// end without a matching start is ignored.
func (t *Tracker) MarkComponent(component, operation string, start bool) {
	key := component + "." + operation

	t.mu.Lock()
	if start {
		t.markers[key+".start"] = t.now()
		t.mu.Unlock()
		return
	}

	began, ok := t.markers[key+".start"]
	if !ok {
		t.mu.Unlock()
		return
	}
	end := t.now()
	t.markers[key+".end"] = end
	secs := end.Sub(began).Seconds()
	t.samples[key] = append(t.samples[key], secs)
	t.counters[key]++
	pub := t.publisher
	t.mu.Unlock()

	if pub != nil {
		pub.ComponentTiming(component, operation, secs)
	}
}

// RecordStage stores the processing duration of one pipeline stage for the
// next latency trace.
func (t *Tracker) RecordStage(stage string, seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stages[stage] = seconds
}

// RecordAudio stores the audio duration associated with one pipeline stage
// (microphone capture for STT, generated audio for TTS).
func (t *Tracker) RecordAudio(stage string, seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio[stage] = seconds
}

// ClearTurn drops the per-turn stage durations so a partial turn does not
// leak into the next trace.
func (t *Tracker) ClearTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stages = make(map[string]float64)
	t.audio = make(map[string]float64)
}

// Trace snapshots the most recent stage durations into a LatencyTrace.
func (t *Tracker) Trace() LatencyTrace {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr := LatencyTrace{
		STTSeconds:       t.stages[StageSTT],
		LLMSeconds:       t.stages[StageLLM],
		TTSSeconds:       t.stages[StageTTS],
		ToolSeconds:      t.stages[StageTool],
		STTAudioDuration: t.audio[StageSTT],
		TTSAudioDuration: t.audio[StageTTS],
	}
	tr.TotalProcessingSeconds = tr.STTSeconds + tr.LLMSeconds + tr.TTSSeconds + tr.ToolSeconds
	tr.TotalInteractionSeconds = tr.TotalProcessingSeconds + tr.STTAudioDuration + tr.TTSAudioDuration
	return tr
}

// Stats aggregates every operation's samples.
func (t *Tracker) Stats() map[string]OperationStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]OperationStats, len(t.samples))
	for key, samples := range t.samples {
		if len(samples) == 0 {
			continue
		}
		s := OperationStats{
			Count:    t.counters[key],
			MinSecs:  samples[0],
			MaxSecs:  samples[0],
			LastSecs: samples[len(samples)-1],
		}
		for _, v := range samples {
			s.TotalSecs += v
			if v < s.MinSecs {
				s.MinSecs = v
			}
			if v > s.MaxSecs {
				s.MaxSecs = v
			}
		}
		s.AvgSecs = s.TotalSecs / float64(len(samples))
		out[key] = s
	}
	return out
}

// PublishStats emits a component_stats event with the current aggregates.
func (t *Tracker) PublishStats() {
	t.mu.Lock()
	pub := t.publisher
	t.mu.Unlock()
	if pub == nil {
		return
	}

	stats := t.Stats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := make(map[string]any, len(stats))
	for _, k := range keys {
		s := stats[k]
		payload[k] = map[string]any{
			"count":       s.Count,
			"avg_seconds": s.AvgSecs,
			"min_seconds": s.MinSecs,
			"max_seconds": s.MaxSecs,
		}
	}
	pub.ComponentStats(payload)
}

// Uptime returns seconds since session start.
func (t *Tracker) Uptime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.sessionStart).Seconds()
}

// String renders a short human-readable summary, useful for log lines.
func (t *Tracker) String() string {
	tr := t.Trace()
	return fmt.Sprintf("stt=%.3fs llm=%.3fs tts=%.3fs total=%.3fs",
		tr.STTSeconds, tr.LLMSeconds, tr.TTSSeconds, tr.TotalProcessingSeconds)
}

// defaultTracker is the lazily-initialised process-wide instance.
var (
	defaultTracker     *Tracker
	defaultTrackerOnce sync.Once
)

// Default returns the process-wide Tracker, created without a publisher on
// first use. Callers that need event emission should construct their own
// Tracker with New.
func Default() *Tracker {
	defaultTrackerOnce.Do(func() {
		defaultTracker = New(nil)
	})
	return defaultTracker
}
