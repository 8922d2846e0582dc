package bus

import (
	"fmt"
	"testing"
	"time"
)

// recv reads one envelope or fails the test after a timeout.
func recv(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Envelope{}
}

func TestSubmit_AssignsGaplessSequence(t *testing.T) {
	b := New()
	defer b.Stop()

	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.SystemInfo(fmt.Sprintf("msg %d", i))
	}

	var prev uint64
	for i := 0; i < 5; i++ {
		env := recv(t, sub)
		if env.Version != ProtocolVersion {
			t.Errorf("version = %q, want %q", env.Version, ProtocolVersion)
		}
		if env.Seq != prev+1 {
			t.Errorf("seq = %d, want %d", env.Seq, prev+1)
		}
		prev = env.Seq
		if env.Type != TypeSystemInfo {
			t.Errorf("type = %q, want %q", env.Type, TypeSystemInfo)
		}
		if env.Timestamp <= 0 {
			t.Errorf("timestamp = %v, want > 0", env.Timestamp)
		}
	}
}

func TestSubscribe_ReplaysHighPriorityOnly(t *testing.T) {
	b := New()
	defer b.Stop()

	// Watcher guarantees the dispatcher has processed everything before the
	// late joiner attaches.
	watcher := b.Subscribe()
	defer watcher.Close()

	b.ConversationStart(1700000000)
	b.SystemInfo("normal priority, must not replay")
	b.LLMError("inference exploded")
	b.ConversationTurn("user", "hello", 0)
	b.TTSResult(0.5, 1.2, 40)
	b.ToolError("get_time", "Error executing tool 'get_time': boom")
	for i := 0; i < 6; i++ {
		recv(t, watcher)
	}

	late := b.Subscribe()
	defer late.Close()

	replay := late.Replay()
	if len(replay) != 5 {
		t.Fatalf("replay length = %d, want 5", len(replay))
	}
	wantTypes := []string{
		TypeConversationStart, TypeLLMError, TypeConversationTurn,
		TypeTTSResult, TypeToolError,
	}
	for i, env := range replay {
		if env.Type != wantTypes[i] {
			t.Errorf("replay[%d].Type = %q, want %q", i, env.Type, wantTypes[i])
		}
	}
	// Replay preserves the original sequence numbers.
	for i := 1; i < len(replay); i++ {
		if replay[i].Seq <= replay[i-1].Seq {
			t.Errorf("replay out of order: seq %d after %d", replay[i].Seq, replay[i-1].Seq)
		}
	}
}

func TestReplay_TrimsToCapacity(t *testing.T) {
	b := New(WithReplayCapacity(3))
	defer b.Stop()

	watcher := b.Subscribe()
	defer watcher.Close()

	for i := 0; i < 10; i++ {
		b.ConversationTurn("user", fmt.Sprintf("turn %d", i), i)
		recv(t, watcher)
	}

	late := b.Subscribe()
	defer late.Close()

	replay := late.Replay()
	if len(replay) != 3 {
		t.Fatalf("replay length = %d, want 3", len(replay))
	}
	if got := replay[2].Data["turn_index"]; got != 9 {
		t.Errorf("newest replayed turn_index = %v, want 9", got)
	}
	if got := replay[0].Data["turn_index"]; got != 7 {
		t.Errorf("oldest replayed turn_index = %v, want 7", got)
	}
}

func TestSlowObserver_DropsOldestKeepsNewest(t *testing.T) {
	b := New()
	defer b.Stop()

	watcher := b.Subscribe()
	defer watcher.Close()

	slow := b.Subscribe()
	defer slow.Close()

	// Overflow the slow observer's queue without reading from it.
	total := observerQueueSize + 10
	for i := 0; i < total; i++ {
		b.SystemInfo(fmt.Sprintf("msg %d", i))
		recv(t, watcher)
	}

	// The newest event must have landed; the oldest were dropped.
	var last Envelope
	count := 0
	for {
		select {
		case env := <-slow.events:
			last = env
			count++
			continue
		default:
		}
		break
	}
	if count != observerQueueSize {
		t.Errorf("slow observer delivered %d events, want %d", count, observerQueueSize)
	}
	if got := last.Data["message"]; got != fmt.Sprintf("msg %d", total-1) {
		t.Errorf("newest delivered message = %v, want msg %d", got, total-1)
	}
}

func TestSlowObserver_DoesNotAffectOthers(t *testing.T) {
	b := New()
	defer b.Stop()

	slow := b.Subscribe()
	defer slow.Close()
	healthy := b.Subscribe()
	defer healthy.Close()

	total := observerQueueSize * 2
	for i := 0; i < total; i++ {
		b.SystemInfo(fmt.Sprintf("msg %d", i))
		env := recv(t, healthy)
		if got := env.Data["message"]; got != fmt.Sprintf("msg %d", i) {
			t.Fatalf("healthy observer message = %v, want msg %d", got, i)
		}
	}
}

func TestSubscriptionClose_DetachesObserver(t *testing.T) {
	b := New()
	defer b.Stop()

	sub := b.Subscribe()
	sub.Close()

	// Channel closes once the dispatcher processes the detach.
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected closed channel after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	// Closing twice is fine.
	sub.Close()
}

func TestStop_DrainsQueuedEvents(t *testing.T) {
	b := New()

	sub := b.Subscribe()
	for i := 0; i < 10; i++ {
		b.SystemInfo(fmt.Sprintf("msg %d", i))
	}
	b.Stop()

	// All ten must arrive before the channel closes.
	count := 0
	for range sub.Events() {
		count++
	}
	if count != 10 {
		t.Errorf("delivered %d events before close, want 10", count)
	}
}

func TestSubmitAfterStop_IsDiscarded(t *testing.T) {
	b := New()
	b.Stop()

	// Must not block or panic.
	b.SystemInfo("into the void")

	sub := b.Subscribe()
	if _, ok := <-sub.Events(); ok {
		t.Error("subscription on stopped bus should have a closed channel")
	}
	if len(sub.Replay()) != 0 {
		t.Errorf("replay on stopped bus = %d events, want 0", len(sub.Replay()))
	}
}

func TestEnvelope_OptionalFieldsOmitted(t *testing.T) {
	b := New()
	defer b.Stop()

	sub := b.Subscribe()
	defer sub.Close()

	b.STTResult("hello", 0.9, 0.3, "")
	env := recv(t, sub)
	if _, ok := env.Data["language"]; ok {
		t.Error("language key present for empty language")
	}

	b.SystemMetricsEvent(120, 3.5, 0, 60)
	env = recv(t, sub)
	if _, ok := env.Data["gpu_vram_mb"]; ok {
		t.Error("gpu_vram_mb key present for zero VRAM")
	}
	if env.Data["memory_mb"] != 120.0 {
		t.Errorf("memory_mb = %v, want 120", env.Data["memory_mb"])
	}
}
