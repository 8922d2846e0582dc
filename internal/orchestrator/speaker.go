package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codavoice/coda/internal/bus"
	"github.com/codavoice/coda/internal/observe"
	"github.com/codavoice/coda/internal/perf"
	"github.com/codavoice/coda/pkg/provider/tts"
)

const (
	// speakQueueSize bounds the reply FIFO feeding the worker.
	speakQueueSize = 16

	// workerJoinTimeout bounds how long shutdown waits for the worker.
	workerJoinTimeout = 2 * time.Second
)

// speaker runs the dedicated TTS worker: a bounded FIFO of reply strings
// consumed by one long-lived goroutine that invokes the TTS adapter. On
// shutdown, queued items that have not started speaking are discarded; only
// the utterance in flight is allowed to be interrupted cleanly.
type speaker struct {
	provider tts.Provider
	voice    tts.VoiceProfile
	events   *bus.Bus
	tracker  *perf.Tracker
	metrics  *observe.Metrics
	log      *slog.Logger

	queue chan string
	done  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSpeaker(provider tts.Provider, voice tts.VoiceProfile, events *bus.Bus, tracker *perf.Tracker, metrics *observe.Metrics, log *slog.Logger) *speaker {
	return &speaker{
		provider: provider,
		voice:    voice,
		events:   events,
		tracker:  tracker,
		metrics:  metrics,
		log:      log,
		queue:    make(chan string, speakQueueSize),
		done:     make(chan struct{}),
	}
}

// start launches the worker goroutine.
func (s *speaker) start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// enqueue adds a reply to the FIFO. A full queue drops the reply with a
// warning rather than blocking the turn pipeline.
func (s *speaker) enqueue(text string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- text:
		if s.metrics != nil {
			s.metrics.QueuedUtterances.Add(context.Background(), 1)
		}
		s.events.TTSStatus("queued", len(s.queue))
		return true
	default:
		s.log.Warn("speak queue full, dropping reply", "chars", len(text))
		return false
	}
}

// interrupt stops the utterance currently being spoken. The worker proceeds
// to the next queued item.
func (s *speaker) interrupt(reason string) {
	s.provider.Stop()
	s.events.TTSStop(reason)
}

// stop discards queued items and joins the worker within the join timeout.
// The in-flight utterance is interrupted so the join can succeed.
func (s *speaker) stop() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.provider.Stop()
	})

	joined := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(workerJoinTimeout):
		s.log.Warn("tts worker did not exit within join timeout")
	}
}

func (s *speaker) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case text := <-s.queue:
			if s.metrics != nil {
				s.metrics.QueuedUtterances.Add(context.Background(), -1)
			}
			s.speakOne(ctx, text)
		}
	}
}

// speakOne synthesises a single reply. A failed synthesis emits tts_error
// and the worker continues with the next item.
func (s *speaker) speakOne(ctx context.Context, text string) {
	s.events.TTSStart(text, s.voice.Name, s.provider.Name())
	s.tracker.MarkComponent("tts", "speak", true)

	result, err := s.provider.Speak(ctx, text, s.voice, func(percent float64) {
		s.events.TTSProgress(percent)
	})

	s.tracker.MarkComponent("tts", "speak", false)

	if err != nil {
		s.log.Error("tts synthesis failed", "error", err)
		s.events.TTSError(err.Error())
		return
	}

	procSecs := result.Duration.Seconds()
	audioSecs := result.AudioDuration.Seconds()
	s.tracker.RecordStage(perf.StageTTS, procSecs)
	s.tracker.RecordAudio(perf.StageTTS, audioSecs)
	if s.metrics != nil {
		s.metrics.TTSDuration.Record(ctx, procSecs)
	}
	s.events.TTSResult(procSecs, audioSecs, result.CharCount)

	// The trace is complete only after audio exists; publish it per spoken
	// reply so observers see one latency_trace per finished interaction.
	s.events.LatencyTraceEvent(s.tracker.Trace().Map())
	if s.metrics != nil {
		s.metrics.InteractionDuration.Record(ctx, s.tracker.Trace().TotalInteractionSeconds)
	}
}
