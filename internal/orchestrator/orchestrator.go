// Package orchestrator owns the per-turn voice pipeline: it ingests final
// transcripts, assembles LLM context from short- and long-term memory, drives
// the two-pass tool-call protocol, scrubs the reply, commits it to memory,
// and queues it for the TTS worker. Every milestone is published on the
// event bus.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codavoice/coda/internal/bus"
	"github.com/codavoice/coda/internal/observe"
	"github.com/codavoice/coda/internal/perf"
	"github.com/codavoice/coda/internal/tools"
	"github.com/codavoice/coda/pkg/memory"
	"github.com/codavoice/coda/pkg/memory/longterm"
	"github.com/codavoice/coda/pkg/memory/shortterm"
	"github.com/codavoice/coda/pkg/provider/llm"
	"github.com/codavoice/coda/pkg/provider/stt"
	"github.com/codavoice/coda/pkg/provider/tts"
)

const (
	// defaultMaxContextTokens budgets the short-term context window.
	defaultMaxContextTokens = 2048

	// llmApology is committed and spoken when the LLM adapter fails.
	llmApology = "I'm sorry, I'm having trouble thinking right now."

	// retrievalLimit and retrievalMinSimilarity bound pass-1 memory lookup.
	retrievalLimit         = 3
	retrievalMinSimilarity = 0.35

	// encodeEvery is how many assistant turns pass between long-term
	// encoding runs; it matches the encoder's window step.
	encodeEvery = 3
)

// Deps are the collaborators the orchestrator wires together. LLM, STT, TTS,
// Events, Tracker, ShortTerm, and Router are required; LongTerm (with
// Encoder and Clusterer) is optional.
type Deps struct {
	LLM       llm.Provider
	STT       stt.Provider
	TTS       tts.Provider
	Events    *bus.Bus
	Tracker   *perf.Tracker
	ShortTerm *shortterm.Log
	LongTerm  longterm.Store
	Encoder   *longterm.Encoder
	Clusterer *longterm.Clusterer
	Router    *tools.Router
}

// Option is a functional option for New.
type Option func(*Orchestrator)

// WithPersonality sets the personality text of the system prompt.
func WithPersonality(p string) Option {
	return func(o *Orchestrator) {
		o.personality = p
	}
}

// WithVoice selects the TTS voice.
func WithVoice(v tts.VoiceProfile) Option {
	return func(o *Orchestrator) {
		o.voice = v
	}
}

// WithMaxContextTokens overrides the short-term context token budget.
func WithMaxContextTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxContextTokens = n
		}
	}
}

// WithSTTMode selects the capture mode.
func WithSTTMode(m stt.Mode) Option {
	return func(o *Orchestrator) {
		o.sttMode = m
	}
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) {
		o.language = lang
	}
}

// WithExportDir enables conversation export on shutdown.
func WithExportDir(dir string) Option {
	return func(o *Orchestrator) {
		o.exportDir = dir
	}
}

// WithLogger overrides the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithMetrics attaches metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator drives the voice pipeline. Construct with New, call Start
// once, and Close on shutdown.
type Orchestrator struct {
	deps Deps

	personality      string
	voice            tts.VoiceProfile
	maxContextTokens int
	sttMode          stt.Mode
	language         string
	exportDir        string
	log              *slog.Logger
	metrics          *observe.Metrics
	now              func() time.Time

	// processing gates the per-turn pipeline: transcripts arriving while a
	// turn is in flight are dropped.
	processing atomic.Bool
	running    atomic.Bool

	session stt.SessionHandle
	speak   *speaker
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// turnsSinceEncode is touched only inside runTurn, which the processing
	// gate serialises.
	turnsSinceEncode int
}

// New validates deps and creates an Orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.LLM == nil:
		return nil, fmt.Errorf("orchestrator: LLM provider is required")
	case deps.STT == nil:
		return nil, fmt.Errorf("orchestrator: STT provider is required")
	case deps.TTS == nil:
		return nil, fmt.Errorf("orchestrator: TTS provider is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("orchestrator: event bus is required")
	case deps.Tracker == nil:
		return nil, fmt.Errorf("orchestrator: performance tracker is required")
	case deps.ShortTerm == nil:
		return nil, fmt.Errorf("orchestrator: short-term memory is required")
	case deps.Router == nil:
		return nil, fmt.Errorf("orchestrator: tool router is required")
	}

	o := &Orchestrator{
		deps:             deps,
		maxContextTokens: defaultMaxContextTokens,
		sttMode:          stt.ModeContinuous,
		log:              slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.speak = newSpeaker(deps.TTS, o.voice, deps.Events, deps.Tracker, o.metrics, o.log)
	return o, nil
}

// Start seeds the system prompt, starts the TTS worker, opens the STT
// stream, and enters the transcript loop. It returns once the pipeline is
// live.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		o.log.Warn("orchestrator already started")
		return nil
	}

	toolDocs := o.deps.Router.Describe("", tools.FormatText)
	systemPrompt := buildSystemPrompt(o.personality, toolDocs, o.now())
	if o.deps.ShortTerm.TurnCount() == 0 {
		o.deps.ShortTerm.Add(memory.RoleSystem, systemPrompt)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel

	o.speak.start(runCtx)

	session, err := o.deps.STT.StartStream(runCtx, stt.StreamConfig{
		Mode:     o.sttMode,
		Language: o.language,
	})
	if err != nil {
		cancel()
		o.speak.stop()
		o.running.Store(false)
		return fmt.Errorf("orchestrator: start stt stream: %w", err)
	}
	o.session = session

	o.deps.Events.ConversationStart(float64(o.deps.ShortTerm.SessionStart().Unix()))
	o.deps.Events.STTStart(string(o.sttMode))

	o.wg.Add(1)
	go o.transcriptLoop(runCtx)

	o.log.Info("orchestrator started",
		"model", o.deps.LLM.Model(),
		"stt_mode", string(o.sttMode),
		"tts", o.deps.TTS.Name())
	return nil
}

// SendAudio forwards captured audio into the STT session.
func (o *Orchestrator) SendAudio(chunk []byte) error {
	if !o.running.Load() || o.session == nil {
		return fmt.Errorf("orchestrator: not running")
	}
	return o.session.SendAudio(chunk)
}

// StopSpeaking interrupts the utterance currently being spoken. The TTS
// worker proceeds to the next queued reply.
func (o *Orchestrator) StopSpeaking(reason string) {
	o.speak.interrupt(reason)
}

// Processing reports whether a turn is currently in flight.
func (o *Orchestrator) Processing() bool {
	return o.processing.Load()
}

// Close shuts the pipeline down: no new transcripts are accepted, the STT
// session closes, the TTS adapter unloads, memory metadata is flushed, and
// the worker is joined within its timeout. Queued unspoken replies are
// discarded.
func (o *Orchestrator) Close(ctx context.Context) error {
	if !o.running.CompareAndSwap(true, false) {
		return nil
	}

	if o.session != nil {
		if err := o.session.Close(); err != nil {
			o.log.Warn("stt session close failed", "error", err)
		}
	}

	o.deps.TTS.Stop()
	if err := o.deps.TTS.Close(); err != nil {
		o.log.Warn("tts close failed", "error", err)
	}

	o.flushMemory(ctx)

	o.speak.stop()

	o.deps.Events.ConversationEnd(o.deps.ShortTerm.TurnCount())

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	return nil
}

// flushMemory persists both memory layers. Failures are logged, never
// propagated; the store itself falls back to a secondary metadata path.
func (o *Orchestrator) flushMemory(ctx context.Context) {
	if o.deps.LongTerm != nil {
		if err := o.deps.LongTerm.SaveMetadata(ctx); err != nil {
			o.log.Error("long-term metadata flush failed", "error", err)
		}
	}
	if o.exportDir != "" {
		path, err := o.deps.ShortTerm.Export(o.exportDir)
		if err != nil {
			o.log.Error("conversation export failed", "error", err)
		} else {
			o.log.Info("conversation exported", "path", path)
		}
	}
}

// transcriptLoop forwards interims and dispatches finals until the session
// channels close or the context is cancelled.
func (o *Orchestrator) transcriptLoop(ctx context.Context) {
	defer o.wg.Done()

	interims := o.session.Interims()
	finals := o.session.Finals()

	for interims != nil || finals != nil {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-interims:
			if !ok {
				interims = nil
				continue
			}
			o.deps.Events.STTInterim(t.Text, t.Confidence)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			o.handleFinal(ctx, t)
		}
	}
}

// handleFinal applies the processing gate and launches the per-turn task.
// Transcripts arriving while a turn is in flight are dropped.
func (o *Orchestrator) handleFinal(ctx context.Context, t stt.Transcript) {
	if !o.running.Load() || strings.TrimSpace(t.Text) == "" {
		return
	}
	if !o.processing.CompareAndSwap(false, true) {
		o.log.Debug("dropping transcript, turn already in flight", "text", preview(t.Text, 40))
		return
	}

	o.wg.Add(1)
	go o.runTurn(ctx, t)
}

// runTurn executes one full turn. The processing gate is cleared on every
// path, and no panic escapes into the transcript loop.
func (o *Orchestrator) runTurn(ctx context.Context, t stt.Transcript) {
	defer o.wg.Done()
	defer o.processing.Store(false)
	defer func() {
		if rec := recover(); rec != nil {
			o.log.Error("turn pipeline panicked", "panic", rec)
			o.deps.Events.SystemError("orchestrator", fmt.Sprintf("turn pipeline panic: %v", rec))
		}
	}()

	tracker := o.deps.Tracker
	events := o.deps.Events

	tracker.ClearTurn()
	sttSecs := t.ProcessingDuration.Seconds()
	tracker.RecordStage(perf.StageSTT, sttSecs)
	tracker.RecordAudio(perf.StageSTT, t.AudioDuration.Seconds())
	if o.metrics != nil && sttSecs > 0 {
		o.metrics.STTDuration.Record(ctx, sttSecs)
	}
	events.STTResult(t.Text, t.Confidence, sttSecs, t.Language)

	// INGEST.
	userTurn := o.deps.ShortTerm.Add(memory.RoleUser, t.Text)
	events.ConversationTurn(memory.RoleUser, t.Text, userTurn.Index)
	if o.metrics != nil {
		o.metrics.RecordTurn(ctx, memory.RoleUser)
	}

	// CONTEXT.
	msgs := o.contextMessages(ctx, t.Text)

	// LLM pass 1: tool detection.
	var llmSecs float64
	raw, tokens, dur, err := o.chat(ctx, msgs)
	llmSecs += dur
	if err != nil {
		events.LLMError(err.Error())
		if o.metrics != nil {
			o.metrics.RecordProviderError(ctx, o.deps.LLM.Model(), "llm")
		}
		tracker.RecordStage(perf.StageLLM, llmSecs)
		o.commitReply(ctx, llmApology)
		return
	}

	call, hasCall := tools.Extract(raw)
	events.LLMResult(raw, tokens, dur, hasCall)

	reply := raw
	toolName := ""
	if hasCall {
		reply, toolName = o.runToolRound(ctx, call, t.Text, raw, &llmSecs)
		if reply == "" {
			// Pass-2 adapter failure already handled inside runToolRound.
			tracker.RecordStage(perf.StageLLM, llmSecs)
			return
		}
	}
	tracker.RecordStage(perf.StageLLM, llmSecs)
	if o.metrics != nil {
		o.metrics.LLMDuration.Record(ctx, llmSecs)
	}

	// CLEAN, applied exactly once per turn.
	final := scrubOrFallback(reply, toolName, o.now())

	o.commitReply(ctx, final)
}

// runToolRound executes the tool and pass 2 of the protocol. It returns the
// pass-2 reply and the tool name, or the raw pass-1 text on tool failure.
// An empty reply means the pass-2 adapter failed and the apology was already
// committed.
func (o *Orchestrator) runToolRound(ctx context.Context, call tools.Call, userQuery, raw string, llmSecs *float64) (reply, toolName string) {
	events := o.deps.Events
	tracker := o.deps.Tracker

	if !o.deps.Router.Known(call.Name) {
		msg := fmt.Sprintf("Error: Unknown tool '%s'", call.Name)
		if hint := o.deps.Router.Suggest(call.Name); hint != "" {
			o.log.Warn("unknown tool requested", "tool", call.Name, "closest", hint)
		}
		events.ToolError(call.Name, msg)
		if o.metrics != nil {
			o.metrics.RecordToolCall(ctx, call.Name, "unknown")
		}
		// Fall back to the raw pass-1 text as the reply.
		return raw, ""
	}

	events.ToolCall(call.Name, call.Args)
	tracker.MarkComponent("tool", call.Name, true)
	start := o.now()
	result := o.deps.Router.Execute(ctx, call.Name, call.Args)
	toolSecs := o.now().Sub(start).Seconds()
	tracker.MarkComponent("tool", call.Name, false)
	tracker.RecordStage(perf.StageTool, toolSecs)
	if o.metrics != nil {
		o.metrics.ToolExecutionDuration.Record(ctx, toolSecs)
	}

	if strings.HasPrefix(result, "Error executing tool") || strings.HasPrefix(result, "Error: Unknown tool") {
		events.ToolError(call.Name, result)
		if o.metrics != nil {
			o.metrics.RecordToolCall(ctx, call.Name, "error")
		}
		return raw, ""
	}

	events.ToolResult(call.Name, preview(result, 120), toolSecs)
	if o.metrics != nil {
		o.metrics.RecordToolCall(ctx, call.Name, "ok")
	}

	// Pass 2: summarise the tool result into a natural reply.
	msgs := summaryMessages(call.Name, result, userQuery)
	text, tokens, dur, err := o.chat(ctx, msgs)
	*llmSecs += dur
	if err != nil {
		events.LLMError(err.Error())
		if o.metrics != nil {
			o.metrics.RecordProviderError(ctx, o.deps.LLM.Model(), "llm")
		}
		o.commitReply(ctx, llmApology)
		return "", call.Name
	}
	events.LLMResult(text, tokens, dur, false)
	return text, call.Name
}

// chat runs one streaming completion round, emitting llm_start and llm_token
// events. The caller emits llm_result once tool detection has run.
func (o *Orchestrator) chat(ctx context.Context, msgs []llm.Message) (text string, totalTokens int, seconds float64, err error) {
	promptTokens, err := o.deps.LLM.CountTokens(msgs)
	if err != nil {
		promptTokens = 0
	}

	sysPreview := ""
	if len(msgs) > 0 && msgs[0].Role == memory.RoleSystem {
		sysPreview = preview(msgs[0].Content, 80)
	}
	o.deps.Events.LLMStart(o.deps.LLM.Model(), promptTokens, sysPreview)
	o.deps.Tracker.MarkComponent("llm", "chat", true)
	start := o.now()
	defer func() {
		o.deps.Tracker.MarkComponent("llm", "chat", false)
	}()

	stream, err := o.deps.LLM.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:    msgs,
		Temperature: 0.7,
	})
	if err != nil {
		return "", 0, o.now().Sub(start).Seconds(), err
	}

	var sb strings.Builder
	idx := 0
	for chunk := range stream {
		if chunk.FinishReason == "error" {
			return "", 0, o.now().Sub(start).Seconds(), fmt.Errorf("llm stream: %s", chunk.Text)
		}
		if chunk.Text != "" {
			o.deps.Events.LLMToken(chunk.Text, idx)
			idx++
			sb.WriteString(chunk.Text)
		}
	}

	text = sb.String()
	seconds = o.now().Sub(start).Seconds()
	totalTokens = promptTokens + (len(text)+3)/4
	if strings.TrimSpace(text) == "" {
		return "", totalTokens, seconds, fmt.Errorf("llm stream: empty response")
	}
	return text, totalTokens, seconds, nil
}

// contextMessages assembles the pass-1 message list: the token-budgeted
// short-term window plus an optional retrieval block from long-term memory.
// Retrieval failures degrade to an empty block rather than aborting the
// turn.
func (o *Orchestrator) contextMessages(ctx context.Context, query string) []llm.Message {
	turns := o.deps.ShortTerm.Context(o.maxContextTokens)
	msgs := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content, Name: t.Name})
	}

	if o.deps.LongTerm == nil {
		return msgs
	}
	results, err := o.deps.LongTerm.Search(ctx, query, longterm.SearchOptions{
		Limit:         retrievalLimit,
		MinSimilarity: retrievalMinSimilarity,
	})
	if err != nil {
		o.log.Warn("memory retrieval failed, continuing without", "error", err)
		return msgs
	}
	top := ""
	if len(results) > 0 {
		top = preview(results[0].Content, 80)
	}
	o.deps.Events.MemoryRetrieve(query, len(results), top)
	if len(results) == 0 {
		return msgs
	}

	contents := make([]string, 0, len(results))
	for _, r := range results {
		contents = append(contents, r.Content)
	}
	block := llm.Message{Role: memory.RoleSystem, Content: retrievalMessage(contents)}

	// Insert after the leading system prompt so role ordering stays sane.
	if len(msgs) > 0 && msgs[0].Role == memory.RoleSystem {
		out := make([]llm.Message, 0, len(msgs)+1)
		out = append(out, msgs[0], block)
		out = append(out, msgs[1:]...)
		return out
	}
	return append([]llm.Message{block}, msgs...)
}

// commitReply appends the assistant turn, emits conversation_turn, runs the
// periodic long-term encoding pass, and queues the reply for synthesis.
func (o *Orchestrator) commitReply(ctx context.Context, text string) {
	turn := o.deps.ShortTerm.Add(memory.RoleAssistant, text)
	o.deps.Events.ConversationTurn(memory.RoleAssistant, text, turn.Index)
	if o.metrics != nil {
		o.metrics.RecordTurn(ctx, memory.RoleAssistant)
	}

	o.encodeRecent(ctx)

	o.speak.enqueue(text)
}

// encodeRecent distils the most recent conversation window into long-term
// candidates every encodeEvery assistant turns.
func (o *Orchestrator) encodeRecent(ctx context.Context) {
	if o.deps.LongTerm == nil || o.deps.Encoder == nil {
		return
	}
	o.turnsSinceEncode++
	if o.turnsSinceEncode < encodeEvery {
		return
	}
	o.turnsSinceEncode = 0

	turns := o.deps.ShortTerm.Context(0)
	window := turns
	if len(window) > longterm.DefaultWindowSize {
		window = window[len(window)-longterm.DefaultWindowSize:]
	}
	for _, c := range o.deps.Encoder.Encode(window) {
		id, err := o.deps.LongTerm.Add(ctx, c.Content, c.SourceType, c.Importance, c.Metadata())
		if err != nil {
			o.log.Warn("long-term encode failed", "error", err)
			continue
		}
		o.deps.Events.MemoryStore(preview(c.Content, 80), string(c.SourceType), c.Importance, id)
	}
	if o.deps.Clusterer != nil {
		o.deps.Clusterer.Invalidate()
	}
}
