// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/codavoice/coda/pkg/provider/tts"
)

const (
	wsEndpointFmt  = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesEndpoint = "https://api.elevenlabs.io/v1/voices"
	defaultModel   = "eleven_flash_v2_5"
	defaultFormat  = "pcm_16000"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithSink directs synthesised PCM audio to w instead of the default discard
// sink.
func WithSink(w io.Writer) Option {
	return func(p *Provider) {
		p.sink = w
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	httpClient   *http.Client
	sink         io.Writer

	mu         sync.Mutex
	stopActive context.CancelFunc
	closed     bool
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultFormat,
		httpClient:   &http.Client{},
		sink:         io.Discard,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "elevenlabs" }

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Speak opens a WebSocket to ElevenLabs, sends the utterance text, and writes
// decoded PCM audio to the configured sink until ElevenLabs signals the final
// chunk. Progress is estimated from audio received so far against an expected
// total derived from the character count, capped at 99 until the final chunk.
//
// A Stop mid-utterance returns the figures accumulated so far with nil error.
func (p *Provider) Speak(ctx context.Context, text string, voice tts.VoiceProfile, progress tts.ProgressFunc) (*tts.SpeakResult, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("elevenlabs: provider is closed")
	}
	p.stopActive = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.stopActive = nil
		p.mu.Unlock()
	}()

	wsURL := fmt.Sprintf(wsEndpointFmt, voice.ID, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// BOI handshake: authenticate and configure the stream. ElevenLabs
	// requires a non-empty first text value.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	// Send the utterance followed by the end-of-input flush message.
	payload, _ := json.Marshal(textMessage{Text: text + " "})
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	flush, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, flush); err != nil {
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	sampleRate := parseSampleRate(p.outputFormat)
	expected := estimateAudioDuration(text)

	var audioDur time.Duration
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			// A Stop mid-utterance surfaces here as context cancellation.
			if ctx.Err() == context.Canceled {
				return &tts.SpeakResult{
					Duration:      time.Since(start),
					AudioDuration: audioDur,
					CharCount:     len(text),
				}, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil && len(pcm) > 0 {
				if _, err := p.sink.Write(pcm); err != nil {
					return nil, fmt.Errorf("elevenlabs: write audio sink: %w", err)
				}
				audioDur += pcmDuration(len(pcm), sampleRate)
				if progress != nil {
					progress(estimatePercent(audioDur, expected))
				}
			}
		}
		if resp.IsFinal {
			break
		}
	}

	if progress != nil {
		progress(100)
	}
	return &tts.SpeakResult{
		Duration:      time.Since(start),
		AudioDuration: audioDur,
		CharCount:     len(text),
	}, nil
}

// Stop interrupts the utterance currently being spoken, if any.
func (p *Provider) Stop() {
	p.mu.Lock()
	cancel := p.stopActive
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close stops any in-flight utterance and marks the provider closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.closed = true
	cancel := p.stopActive
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	return parseVoicesResponse(body)
}

// ---- helpers ----

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles, nil
}

// parseSampleRate extracts the numeric rate from formats like "pcm_16000".
// Unknown formats fall back to 16 kHz.
func parseSampleRate(format string) int {
	for i := len(format) - 1; i >= 0; i-- {
		if format[i] == '_' {
			if rate, err := strconv.Atoi(format[i+1:]); err == nil && rate > 0 {
				return rate
			}
			break
		}
	}
	return 16000
}

// pcmDuration converts a 16-bit mono PCM byte count to a duration.
func pcmDuration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// estimateAudioDuration guesses the spoken length of text for progress
// reporting, assuming roughly 15 characters per second of speech.
func estimateAudioDuration(text string) time.Duration {
	return time.Duration(len(text)) * time.Second / 15
}

// estimatePercent converts received audio vs. the estimate into a progress
// percentage, capped at 99 until the final chunk arrives.
func estimatePercent(got, expected time.Duration) float64 {
	if expected <= 0 {
		return 99
	}
	pct := float64(got) / float64(expected) * 100
	if pct > 99 {
		pct = 99
	}
	return pct
}
