package stt

import "time"

// Transcript represents a speech-to-text result from an STT provider.
// Both interim and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or interim
	// transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0-1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Language is the detected or configured language tag, when known.
	Language string

	// AudioDuration is the length of the audio segment this transcript covers.
	// It feeds the latency trace's stt_audio_duration field.
	AudioDuration time.Duration

	// ProcessingDuration is how long the provider spent transcribing this
	// segment. Streaming providers whose inference overlaps audio capture may
	// leave it zero.
	ProcessingDuration time.Duration
}
