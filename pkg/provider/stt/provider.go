// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., a local whisper-server
// or the Deepgram streaming API) and exposes a uniform session interface. The
// central abstraction is SessionHandle: once opened, a session accepts raw PCM
// audio frames and emits two streams of Transcript values, low-latency interims
// for responsiveness and authoritative finals that drive the orchestrator's
// turn pipeline.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import "context"

// Mode describes how audio reaches an STT session. It is surfaced in the
// stt_start telemetry event and lets providers tune their flush behaviour.
type Mode string

const (
	// ModePushToTalk accumulates audio until the session is closed, then
	// transcribes the whole utterance in one shot.
	ModePushToTalk Mode = "push_to_talk"

	// ModeContinuous transcribes as the user speaks, segmenting utterances on
	// silence.
	ModeContinuous Mode = "continuous"

	// ModeFile treats the session input as a complete pre-recorded clip.
	ModeFile Mode = "file"
)

// StreamConfig describes the audio format and capture mode for a new STT
// session. Zero-valued fields fall back to provider defaults.
type StreamConfig struct {
	// Mode selects the capture mode. Defaults to ModeContinuous.
	Mode Mode

	// SampleRate is the audio sample rate in Hz. Common values: 16000
	// (STT-optimised mono), 48000 (desktop capture).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most STT
	// providers). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM audio to the
	// provider for transcription. The chunk must match the SampleRate and
	// Channels agreed in StreamConfig. Calling SendAudio after Close returns an
	// error.
	SendAudio(chunk []byte) error

	// Interims returns a read-only channel that emits low-latency interim
	// Transcript values as the provider makes preliminary guesses. These drive
	// the stt_interim telemetry event but must not enter the conversation log.
	// The channel is closed when the session ends.
	Interims() <-chan Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result. These are
	// the values handed to the orchestrator as user turns.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. After Close returns, the Interims and Finals
	// channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously.
type Provider interface {
	// StartStream opens a new transcription session with the given audio
	// format and capture mode. The returned SessionHandle is ready to accept
	// audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close when
	// done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)

	// Name returns a short provider identifier for telemetry and logging
	// (e.g., "whisper", "deepgram").
	Name() string
}
