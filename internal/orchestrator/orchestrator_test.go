package orchestrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/codavoice/coda/internal/bus"
	"github.com/codavoice/coda/internal/perf"
	"github.com/codavoice/coda/internal/tools"
	"github.com/codavoice/coda/pkg/memory"
	"github.com/codavoice/coda/pkg/memory/shortterm"
	"github.com/codavoice/coda/pkg/provider/llm"
	llmmock "github.com/codavoice/coda/pkg/provider/llm/mock"
	"github.com/codavoice/coda/pkg/provider/stt"
	sttmock "github.com/codavoice/coda/pkg/provider/stt/mock"
	ttsmock "github.com/codavoice/coda/pkg/provider/tts/mock"
)

// pipeline bundles the orchestrator under test with its collaborators.
type pipeline struct {
	orch   *Orchestrator
	events *bus.Bus
	sub    *bus.Subscription
	llm    *llmmock.Provider
	stt    *sttmock.Provider
	tts    *ttsmock.Provider
	router *tools.Router
}

func newPipeline(t *testing.T, llmProv *llmmock.Provider, opts ...Option) *pipeline {
	t.Helper()

	p := &pipeline{
		events: bus.New(),
		llm:    llmProv,
		stt:    &sttmock.Provider{},
		tts:    &ttsmock.Provider{},
		router: tools.NewRouter(),
	}
	p.sub = p.events.Subscribe()

	orch, err := New(Deps{
		LLM:       p.llm,
		STT:       p.stt,
		TTS:       p.tts,
		Events:    p.events,
		Tracker:   perf.New(nil),
		ShortTerm: shortterm.New(0),
		Router:    p.router,
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.orch = orch

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Close(ctx)
		p.sub.Close()
		p.events.Stop()
	})
	return p
}

func (p *pipeline) start(t *testing.T) *sttmock.Session {
	t.Helper()
	if err := p.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p.stt.Sessions[0]
}

// next reads events from the subscription until one of the wanted type
// arrives, skipping everything else.
func (p *pipeline) next(t *testing.T, eventType string) bus.Envelope {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-p.sub.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %q", eventType)
			}
			if env.Type == eventType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", eventType)
		}
	}
}

func chunksOf(texts ...string) []llm.Chunk {
	out := make([]llm.Chunk, len(texts))
	for i, s := range texts {
		out[i] = llm.Chunk{Text: s}
	}
	return out
}

func TestNew_RequiresCoreDeps(t *testing.T) {
	_, err := New(Deps{})
	if err == nil {
		t.Fatal("New with empty deps succeeded")
	}
}

func TestStart_SeedsSystemPromptAndAnnouncesSession(t *testing.T) {
	p := newPipeline(t, &llmmock.Provider{StreamChunks: chunksOf("hi")})
	p.start(t)

	p.next(t, bus.TypeConversationStart)
	env := p.next(t, bus.TypeSTTStart)
	if env.Data["mode"] != string(stt.ModeContinuous) {
		t.Errorf("stt mode = %v, want continuous", env.Data["mode"])
	}

	turns := p.orch.deps.ShortTerm.Context(0)
	if len(turns) != 1 || turns[0].Role != memory.RoleSystem {
		t.Fatalf("short-term after Start = %v, want one system turn", turns)
	}
	if turns[0].Content == "" {
		t.Error("seeded system prompt is empty")
	}
}

func TestInterimTranscript_ForwardedNotCommitted(t *testing.T) {
	p := newPipeline(t, &llmmock.Provider{StreamChunks: chunksOf("hi")})
	session := p.start(t)

	session.EmitInterim(stt.Transcript{Text: "hel", Confidence: 0.4})

	env := p.next(t, bus.TypeSTTInterim)
	if env.Data["text"] != "hel" {
		t.Errorf("stt_interim text = %v", env.Data["text"])
	}

	for _, turn := range p.orch.deps.ShortTerm.Context(0) {
		if turn.Role == memory.RoleUser {
			t.Error("interim transcript entered the conversation log")
		}
	}
}

func TestTurn_PlainReplyFlowsToSpeech(t *testing.T) {
	p := newPipeline(t, &llmmock.Provider{StreamChunks: chunksOf("The sky ", "is blue.")})
	session := p.start(t)

	session.EmitFinal(stt.Transcript{Text: "what colour is the sky", Confidence: 0.9})

	env := p.next(t, bus.TypeSTTResult)
	if env.Data["text"] != "what colour is the sky" {
		t.Errorf("stt_result text = %v", env.Data["text"])
	}

	env = p.next(t, bus.TypeConversationTurn)
	if env.Data["role"] != memory.RoleUser {
		t.Errorf("first turn role = %v, want user", env.Data["role"])
	}

	p.next(t, bus.TypeLLMStart)
	tok := p.next(t, bus.TypeLLMToken)
	if tok.Data["token"] != "The sky " {
		t.Errorf("first token = %v", tok.Data["token"])
	}

	env = p.next(t, bus.TypeLLMResult)
	if env.Data["has_tool_calls"] != false {
		t.Error("plain reply flagged as tool call")
	}

	env = p.next(t, bus.TypeConversationTurn)
	if env.Data["role"] != memory.RoleAssistant || env.Data["content"] != "The sky is blue." {
		t.Errorf("assistant turn = %v", env.Data)
	}

	p.next(t, bus.TypeTTSStart)
	p.next(t, bus.TypeTTSResult)
	p.next(t, bus.TypeLatencyTrace)

	if len(p.tts.SpeakCalls) != 1 || p.tts.SpeakCalls[0].Text != "The sky is blue." {
		t.Errorf("spoken = %+v, want the committed reply", p.tts.SpeakCalls)
	}
}

func TestTurn_TwoPassToolCall(t *testing.T) {
	llmProv := &llmmock.Provider{
		StreamResponses: [][]llm.Chunk{
			chunksOf(`{"tool_call":{"name":"get_time","args":{}}}`),
			chunksOf("It is half ", "past two."),
		},
	}
	p := newPipeline(t, llmProv)
	p.router.Register(tools.Tool{
		Name:        "get_time",
		Description: "current time",
		Fn: func(context.Context, map[string]any) (string, error) {
			return "It's 14:30.", nil
		},
	})
	session := p.start(t)

	session.EmitFinal(stt.Transcript{Text: "what time is it"})

	env := p.next(t, bus.TypeLLMResult)
	if env.Data["has_tool_calls"] != true {
		t.Error("pass 1 not flagged as tool call")
	}

	env = p.next(t, bus.TypeToolCall)
	if env.Data["tool_name"] != "get_time" {
		t.Errorf("tool_call name = %v", env.Data["tool_name"])
	}

	env = p.next(t, bus.TypeToolResult)
	if env.Data["tool_name"] != "get_time" {
		t.Errorf("tool_result name = %v", env.Data["tool_name"])
	}

	env = p.next(t, bus.TypeConversationTurn)
	for env.Data["role"] != memory.RoleAssistant {
		env = p.next(t, bus.TypeConversationTurn)
	}
	if env.Data["content"] != "It is half past two." {
		t.Errorf("assistant turn = %v", env.Data["content"])
	}

	if len(llmProv.StreamCalls) != 2 {
		t.Fatalf("LLM called %d times, want 2", len(llmProv.StreamCalls))
	}
	pass2 := llmProv.StreamCalls[1].Req.Messages
	joined := ""
	for _, m := range pass2 {
		joined += m.Content + "\n"
	}
	if !strings.Contains(joined, "It's 14:30.") {
		t.Error("pass-2 prompt does not carry the tool result")
	}
	if !strings.Contains(joined, "what time is it") {
		t.Error("pass-2 prompt does not carry the user query")
	}
}

func TestTurn_UnknownToolFallsBackToRawText(t *testing.T) {
	raw := `Sure thing. {"tool_call":{"name":"frobnicate","args":{}}}`
	p := newPipeline(t, &llmmock.Provider{StreamChunks: chunksOf(raw)})
	session := p.start(t)

	session.EmitFinal(stt.Transcript{Text: "frobnicate please"})

	env := p.next(t, bus.TypeToolError)
	if env.Data["message"] != "Error: Unknown tool 'frobnicate'" {
		t.Errorf("tool_error message = %v", env.Data["message"])
	}

	env = p.next(t, bus.TypeConversationTurn)
	for env.Data["role"] != memory.RoleAssistant {
		env = p.next(t, bus.TypeConversationTurn)
	}
	if env.Data["content"] != "Sure thing." {
		t.Errorf("assistant turn = %v, want scrubbed raw text", env.Data["content"])
	}
}

func TestTurn_ToolFailureFallsBackToRawText(t *testing.T) {
	raw := `One moment. {"tool_call":{"name":"flaky","args":{}}}`
	p := newPipeline(t, &llmmock.Provider{StreamChunks: chunksOf(raw)})
	p.router.Register(tools.Tool{
		Name: "flaky",
		Fn: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("backend down")
		},
	})
	session := p.start(t)

	session.EmitFinal(stt.Transcript{Text: "do the thing"})

	env := p.next(t, bus.TypeToolError)
	if env.Data["message"] != "Error executing tool 'flaky': backend down" {
		t.Errorf("tool_error message = %v", env.Data["message"])
	}

	env = p.next(t, bus.TypeConversationTurn)
	for env.Data["role"] != memory.RoleAssistant {
		env = p.next(t, bus.TypeConversationTurn)
	}
	if env.Data["content"] != "One moment." {
		t.Errorf("assistant turn = %v", env.Data["content"])
	}
}

func TestTurn_LLMFailureSpeaksApology(t *testing.T) {
	p := newPipeline(t, &llmmock.Provider{StreamErr: errors.New("connection refused")})
	session := p.start(t)

	session.EmitFinal(stt.Transcript{Text: "hello"})

	env := p.next(t, bus.TypeLLMError)
	if !strings.Contains(env.Data["message"].(string), "connection refused") {
		t.Errorf("llm_error message = %v", env.Data["message"])
	}

	env = p.next(t, bus.TypeConversationTurn)
	for env.Data["role"] != memory.RoleAssistant {
		env = p.next(t, bus.TypeConversationTurn)
	}
	if env.Data["content"] != llmApology {
		t.Errorf("assistant turn = %v, want apology", env.Data["content"])
	}
}

func TestTurn_EmptyTranscriptIgnored(t *testing.T) {
	llmProv := &llmmock.Provider{StreamChunks: chunksOf("unused")}
	p := newPipeline(t, llmProv)
	session := p.start(t)

	session.EmitFinal(stt.Transcript{Text: "   "})
	session.EmitFinal(stt.Transcript{Text: "real input"})

	p.next(t, bus.TypeLLMResult)
	if got := len(llmProv.StreamCalls); got != 1 {
		t.Errorf("LLM called %d times, want 1 (blank transcript must be dropped)", got)
	}
}

func TestTurn_ConcurrentFinalIsDropped(t *testing.T) {
	release := make(chan struct{})
	p := newPipeline(t, &llmmock.Provider{
		StreamResponses: [][]llm.Chunk{
			chunksOf(`{"tool_call":{"name":"slow","args":{}}}`),
			chunksOf("done waiting."),
		},
	})
	p.router.Register(tools.Tool{
		Name: "slow",
		Fn: func(context.Context, map[string]any) (string, error) {
			<-release
			return "finally", nil
		},
	})
	session := p.start(t)

	session.EmitFinal(stt.Transcript{Text: "first"})
	p.next(t, bus.TypeToolCall)

	if !p.orch.Processing() {
		t.Error("Processing() = false while a turn is in flight")
	}
	session.EmitFinal(stt.Transcript{Text: "second"})
	time.Sleep(50 * time.Millisecond)
	close(release)

	p.next(t, bus.TypeToolResult)
	env := p.next(t, bus.TypeConversationTurn)
	for env.Data["role"] != memory.RoleAssistant {
		env = p.next(t, bus.TypeConversationTurn)
	}

	userTurns := 0
	for _, turn := range p.orch.deps.ShortTerm.Context(0) {
		if turn.Role == memory.RoleUser {
			userTurns++
			if turn.Content == "second" {
				t.Error("concurrent transcript entered the conversation log")
			}
		}
	}
	if userTurns != 1 {
		t.Errorf("user turns = %d, want 1", userTurns)
	}
}

func TestStopSpeaking_InterruptsSynthesis(t *testing.T) {
	p := newPipeline(t, &llmmock.Provider{StreamChunks: chunksOf("hi")})
	p.start(t)

	p.orch.StopSpeaking("user interrupt")

	env := p.next(t, bus.TypeTTSStop)
	if env.Data["reason"] != "user interrupt" {
		t.Errorf("tts_stop reason = %v", env.Data["reason"])
	}
	if p.tts.StopCount == 0 {
		t.Error("provider Stop was never called")
	}
}

func TestClose_FlushesExportAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := newPipeline(t, &llmmock.Provider{StreamChunks: chunksOf("goodbye now.")}, WithExportDir(dir))
	session := p.start(t)

	session.EmitFinal(stt.Transcript{Text: "bye"})
	p.next(t, bus.TypeTTSResult)

	ctx := context.Background()
	if err := p.orch.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.orch.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}

	p.next(t, bus.TypeConversationEnd)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".json") {
		t.Errorf("export dir entries = %v, want one json file", entries)
	}

	if p.tts.CloseCount != 1 {
		t.Errorf("tts Close called %d times, want 1", p.tts.CloseCount)
	}
	if err := session.SendAudio([]byte{0}); err == nil {
		t.Error("stt session still accepts audio after Close")
	}
}

func TestSendAudio_ForwardsToSession(t *testing.T) {
	p := newPipeline(t, &llmmock.Provider{StreamChunks: chunksOf("hi")})

	if err := p.orch.SendAudio([]byte{1, 2}); err == nil {
		t.Error("SendAudio before Start succeeded")
	}

	session := p.start(t)
	if err := p.orch.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if len(session.AudioChunks) != 1 || len(session.AudioChunks[0]) != 3 {
		t.Errorf("forwarded chunks = %v", session.AudioChunks)
	}
}
