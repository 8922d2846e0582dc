package perf

import (
	"math"
	"testing"
	"time"
)

// fakeClock yields a strictly advancing time under test control.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// stubPublisher records the events a Tracker emits.
type stubPublisher struct {
	timings []string
	stats   []map[string]any
	metrics int
}

func (p *stubPublisher) ComponentTiming(component, operation string, _ float64) {
	p.timings = append(p.timings, component+"."+operation)
}

func (p *stubPublisher) ComponentStats(stats map[string]any) {
	p.stats = append(p.stats, stats)
}

func (p *stubPublisher) SystemMetricsEvent(_, _, _, _ float64) {
	p.metrics++
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDuration_MissingMarkersYieldZero(t *testing.T) {
	tr := New(nil)

	if got := tr.Duration("absent_a", "absent_b"); got != 0 {
		t.Errorf("Duration(absent, absent) = %v, want 0", got)
	}

	tr.Mark("only_start")
	if got := tr.Duration("only_start", "absent_end"); got != 0 {
		t.Errorf("Duration with missing end = %v, want 0", got)
	}
	if got := tr.Duration("absent_start", "only_start"); got != 0 {
		t.Errorf("Duration with missing start = %v, want 0", got)
	}
}

func TestDuration_MeasuresBetweenMarkers(t *testing.T) {
	clock := newFakeClock()
	tr := New(nil)
	tr.now = clock.now

	tr.Mark("a")
	clock.advance(250 * time.Millisecond)
	tr.Mark("b")

	if got := tr.Duration("a", "b"); !almostEqual(got, 0.25) {
		t.Errorf("Duration = %v, want 0.25", got)
	}
}

func TestMark_OverwritesPrevious(t *testing.T) {
	clock := newFakeClock()
	tr := New(nil)
	tr.now = clock.now

	tr.Mark("a")
	clock.advance(time.Second)
	tr.Mark("a")
	tr.Mark("b")

	if got := tr.Duration("a", "b"); !almostEqual(got, 0) {
		t.Errorf("Duration after re-mark = %v, want 0", got)
	}
}

func TestMarkComponent_RecordsSampleAndEmits(t *testing.T) {
	clock := newFakeClock()
	pub := &stubPublisher{}
	tr := New(pub)
	tr.now = clock.now

	tr.MarkComponent("llm", "chat", true)
	clock.advance(100 * time.Millisecond)
	tr.MarkComponent("llm", "chat", false)

	stats := tr.Stats()
	s, ok := stats["llm.chat"]
	if !ok {
		t.Fatal("no stats recorded for llm.chat")
	}
	if s.Count != 1 {
		t.Errorf("count = %d, want 1", s.Count)
	}
	if !almostEqual(s.LastSecs, 0.1) {
		t.Errorf("last = %v, want 0.1", s.LastSecs)
	}
	if len(pub.timings) != 1 || pub.timings[0] != "llm.chat" {
		t.Errorf("emitted timings = %v, want [llm.chat]", pub.timings)
	}
}

func TestMarkComponent_EndWithoutStartIgnored(t *testing.T) {
	pub := &stubPublisher{}
	tr := New(pub)

	tr.MarkComponent("tts", "speak", false)

	if len(tr.Stats()) != 0 {
		t.Errorf("stats = %v, want empty", tr.Stats())
	}
	if len(pub.timings) != 0 {
		t.Errorf("timings = %v, want none", pub.timings)
	}
}

func TestStats_Aggregates(t *testing.T) {
	clock := newFakeClock()
	tr := New(nil)
	tr.now = clock.now

	for _, d := range []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 200 * time.Millisecond} {
		tr.MarkComponent("stt", "transcribe", true)
		clock.advance(d)
		tr.MarkComponent("stt", "transcribe", false)
	}

	s := tr.Stats()["stt.transcribe"]
	if s.Count != 3 {
		t.Errorf("count = %d, want 3", s.Count)
	}
	if !almostEqual(s.MinSecs, 0.1) {
		t.Errorf("min = %v, want 0.1", s.MinSecs)
	}
	if !almostEqual(s.MaxSecs, 0.3) {
		t.Errorf("max = %v, want 0.3", s.MaxSecs)
	}
	if !almostEqual(s.AvgSecs, 0.2) {
		t.Errorf("avg = %v, want 0.2", s.AvgSecs)
	}
	if !almostEqual(s.LastSecs, 0.2) {
		t.Errorf("last = %v, want 0.2", s.LastSecs)
	}
}

func TestTrace_SeparatesProcessingFromAudio(t *testing.T) {
	tr := New(nil)

	tr.RecordStage(StageSTT, 0.5)
	tr.RecordStage(StageLLM, 1.5)
	tr.RecordStage(StageTTS, 0.7)
	tr.RecordAudio(StageSTT, 3.0)
	tr.RecordAudio(StageTTS, 4.0)

	trace := tr.Trace()
	if !almostEqual(trace.TotalProcessingSeconds, 2.7) {
		t.Errorf("total processing = %v, want 2.7", trace.TotalProcessingSeconds)
	}
	if !almostEqual(trace.TotalInteractionSeconds, 9.7) {
		t.Errorf("total interaction = %v, want 9.7", trace.TotalInteractionSeconds)
	}

	m := trace.Map()
	for _, key := range []string{
		"stt_seconds", "llm_seconds", "tts_seconds", "tool_seconds",
		"total_processing_seconds", "stt_audio_duration",
		"tts_audio_duration", "total_interaction_seconds",
	} {
		if _, ok := m[key]; !ok {
			t.Errorf("trace map missing key %q", key)
		}
	}
}

func TestClearTurn_DropsStagesKeepsSamples(t *testing.T) {
	tr := New(nil)

	tr.RecordStage(StageLLM, 2.0)
	tr.MarkComponent("llm", "chat", true)
	tr.MarkComponent("llm", "chat", false)

	tr.ClearTurn()

	if got := tr.Trace().LLMSeconds; got != 0 {
		t.Errorf("llm stage after ClearTurn = %v, want 0", got)
	}
	if _, ok := tr.Stats()["llm.chat"]; !ok {
		t.Error("operation samples lost on ClearTurn")
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	clock := newFakeClock()
	tr := New(nil)
	tr.now = clock.now

	tr.Mark("a")
	tr.MarkComponent("llm", "chat", true)
	clock.advance(time.Millisecond)
	tr.MarkComponent("llm", "chat", false)
	tr.RecordStage(StageSTT, 1)

	clock.advance(time.Hour)
	tr.Reset()

	if len(tr.Stats()) != 0 {
		t.Errorf("stats after Reset = %v, want empty", tr.Stats())
	}
	if got := tr.Uptime(); got != 0 {
		t.Errorf("uptime after Reset = %v, want 0", got)
	}
}

func TestPublishStats_EmitsAggregatePayload(t *testing.T) {
	clock := newFakeClock()
	pub := &stubPublisher{}
	tr := New(pub)
	tr.now = clock.now

	tr.MarkComponent("tool", "get_time", true)
	clock.advance(50 * time.Millisecond)
	tr.MarkComponent("tool", "get_time", false)

	tr.PublishStats()

	if len(pub.stats) != 1 {
		t.Fatalf("published %d stats events, want 1", len(pub.stats))
	}
	entry, ok := pub.stats[0]["tool.get_time"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing tool.get_time: %v", pub.stats[0])
	}
	if entry["count"] != 1 {
		t.Errorf("count = %v, want 1", entry["count"])
	}
}

func TestDefault_ReturnsSameInstance(t *testing.T) {
	if Default() != Default() {
		t.Error("Default returned distinct instances")
	}
}
