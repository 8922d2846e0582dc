// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a local MeloTTS
// server or the ElevenLabs streaming API) and presents a uniform utterance
// interface. The primary entry point is Speak, which synthesises one reply
// string, delivers the audio to the provider's output sink, reports progress
// through a callback, and returns timing figures for the latency trace. Stop
// interrupts the utterance currently being spoken.
//
// Implementations must be safe for concurrent use, although the orchestrator's
// speak worker serialises Speak calls in practice.
package tts

import (
	"context"
	"time"
)

// VoiceProfile identifies a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the backend this voice belongs to.
	Provider string

	// Metadata carries provider-specific attributes (accent, gender, ...).
	Metadata map[string]string
}

// SpeakResult summarises one completed utterance.
type SpeakResult struct {
	// Duration is the wall-clock time spent synthesising and playing.
	Duration time.Duration

	// AudioDuration is the length of the generated audio.
	AudioDuration time.Duration

	// CharCount is the number of characters synthesised.
	CharCount int
}

// ProgressFunc receives completion percentages in [0,100] while an utterance
// is being spoken. Implementations call it from the synthesis goroutine; it
// must not block for long. May be nil.
type ProgressFunc func(percent float64)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Speak synthesises text with the given voice, delivers audio to the
	// provider's output sink, and blocks until the utterance finishes, is
	// stopped, or ctx is cancelled. progress may be nil.
	//
	// A Speak interrupted by Stop returns a result covering the audio spoken
	// so far together with a nil error; the orchestrator treats that as a
	// completed (cut-short) utterance.
	Speak(ctx context.Context, text string, voice VoiceProfile, progress ProgressFunc) (*SpeakResult, error)

	// Stop interrupts the utterance currently being spoken, if any. It returns
	// immediately; the interrupted Speak call unblocks shortly after. Safe to
	// call when nothing is playing.
	Stop()

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Name returns a short provider identifier for telemetry and logging
	// (e.g., "melo", "elevenlabs").
	Name() string

	// Close releases provider resources. Speak must not be called after Close.
	Close() error
}
