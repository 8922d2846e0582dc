// Package melo provides a TTS provider backed by a locally-running MeloTTS
// server via its REST API. It implements the tts.Provider interface.
//
// The MeloTTS server operates in batch mode (one HTTP call per utterance
// fragment rather than a streaming socket), so Speak splits the reply into
// sentences and dispatches concurrent synthesis requests with a small
// lookahead to hide server latency while preserving sentence order. Progress
// is reported after each sentence finishes playing.
//
// Typical usage:
//
//	p, err := melo.New("http://localhost:8880",
//	    melo.WithLanguage("EN"),
//	    melo.WithTimeout(15*time.Second),
//	)
//	result, err := p.Speak(ctx, "Hello there.", voice, progressFn)
package melo

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codavoice/coda/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "EN"
	defaultSpeed    = 1.0
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts"

	// sentenceLookahead controls how many concurrent synthesis requests may be
	// in flight simultaneously. Higher values reduce perceived latency at the
	// cost of additional server load.
	sentenceLookahead = 3
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the MeloTTS language code (e.g., "EN", "ES", "FR", "ZH").
// Defaults to "EN".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSpeed sets the synthesis speed multiplier. Defaults to 1.0.
func WithSpeed(speed float64) Option {
	return func(p *Provider) {
		p.speed = speed
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithSink directs synthesised PCM audio to w instead of the default discard
// sink. The audio mixer or playback device hooks in here.
func WithSink(w io.Writer) Option {
	return func(p *Provider) {
		p.sink = w
	}
}

// Provider implements tts.Provider backed by a MeloTTS HTTP server.
type Provider struct {
	serverURL  string
	language   string
	speed      float64
	httpClient *http.Client
	sink       io.Writer

	mu         sync.Mutex
	stopActive context.CancelFunc // cancels the in-flight Speak, nil when idle
	closed     bool
}

// New creates a new Provider targeting the MeloTTS server at serverURL
// (e.g., "http://localhost:8880"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("melo: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		speed:      defaultSpeed,
		httpClient: &http.Client{Timeout: defaultTimeout},
		sink:       io.Discard,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "melo" }

// ttsRequest is the JSON body sent to POST /tts.
type ttsRequest struct {
	Text     string  `json:"text"`
	Speaker  string  `json:"speaker,omitempty"`
	Language string  `json:"language"`
	Speed    float64 `json:"speed"`
}

// synthResult carries synthesised PCM (with its sample rate) or an error from
// a worker goroutine.
type synthResult struct {
	pcm        []byte
	sampleRate int
	err        error
}

// Speak splits text into sentences, synthesises each via the MeloTTS server
// with a small request lookahead, writes the PCM to the configured sink in
// sentence order, and reports progress after each sentence.
//
// When Stop is called mid-utterance, Speak returns the figures for the audio
// written so far with a nil error.
func (p *Provider) Speak(ctx context.Context, text string, voice tts.VoiceProfile, progress tts.ProgressFunc) (*tts.SpeakResult, error) {
	start := time.Now()

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return &tts.SpeakResult{CharCount: len(text)}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("melo: provider is closed")
	}
	p.stopActive = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.stopActive = nil
		p.mu.Unlock()
	}()

	// Dispatch synthesis requests with bounded lookahead; results are drained
	// strictly in sentence order.
	results := make([]chan synthResult, len(sentences))
	for i := range results {
		results[i] = make(chan synthResult, 1)
	}
	sem := make(chan struct{}, sentenceLookahead)
	go func() {
		for i, sentence := range sentences {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(s string, out chan<- synthResult) {
				defer func() { <-sem }()
				pcm, rate, err := p.synthesize(ctx, s, voice)
				out <- synthResult{pcm: pcm, sampleRate: rate, err: err}
			}(sentence, results[i])
		}
	}()

	var (
		audioDur  time.Duration
		interrupted bool
	)
	for i := range results {
		var r synthResult
		select {
		case r = <-results[i]:
		case <-ctx.Done():
			interrupted = true
		}
		if interrupted {
			break
		}
		if r.err != nil {
			if ctx.Err() != nil {
				interrupted = true
				break
			}
			return nil, fmt.Errorf("melo: synthesize sentence %d: %w", i+1, r.err)
		}
		if _, err := p.sink.Write(r.pcm); err != nil {
			return nil, fmt.Errorf("melo: write audio sink: %w", err)
		}
		audioDur += pcmDuration(len(r.pcm), r.sampleRate)
		if progress != nil {
			progress(float64(i+1) / float64(len(sentences)) * 100)
		}
	}

	// A Stop mid-utterance is a normal outcome, not an error.
	if interrupted && ctx.Err() == context.Canceled {
		return &tts.SpeakResult{
			Duration:      time.Since(start),
			AudioDuration: audioDur,
			CharCount:     len(text),
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("melo: speak: %w", err)
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

// ListVoices queries the server's speaker catalogue via GET /speakers.
// Servers without that endpoint yield a single default profile.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/speakers", nil)
	if err != nil {
		return nil, fmt.Errorf("melo: list voices: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("melo: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []tts.VoiceProfile{{ID: "default", Name: "Default", Provider: "melo"}}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("melo: list voices: unexpected status %d", resp.StatusCode)
	}

	var speakers []string
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return nil, fmt.Errorf("melo: list voices decode: %w", err)
	}
	profiles := make([]tts.VoiceProfile, 0, len(speakers))
	for _, s := range speakers {
		profiles = append(profiles, tts.VoiceProfile{ID: s, Name: s, Provider: "melo"})
	}
	return profiles, nil
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

// synthesize issues one POST /tts request and returns the decoded PCM plus
// its sample rate.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, int, error) {
	body, err := json.Marshal(ttsRequest{
		Text:     sentence,
		Speaker:  voice.ID,
		Language: p.language,
		Speed:    p.speed,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}

	pcm, rate, err := decodeWAV(wav)
	if err != nil {
		return nil, 0, err
	}
	return pcm, rate, nil
}

// ---- helpers ----------------------------------------------------------------

// splitSentences breaks text into sentences on '.', '!', '?' boundaries.
// A trailing fragment without terminal punctuation forms its own sentence.
func splitSentences(text string) []string {
	var out []string
	rest := text
	for {
		idx := findSentenceBoundary(rest)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(rest[:idx+1]); s != "" {
			out = append(out, s)
		}
		rest = rest[idx+1:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-terminating
// punctuation mark that ends a sentence (followed by whitespace or EOF), or -1.
func findSentenceBoundary(s string) int {
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 >= len(s) || s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t' {
			return i
		}
	}
	return -1
}

// decodeWAV strips the RIFF/WAV header and returns the raw PCM data together
// with the sample rate declared in the fmt chunk.
func decodeWAV(wav []byte) ([]byte, int, error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.New("melo: response is not a WAV file")
	}
	sampleRate := int(binary.LittleEndian.Uint32(wav[24:28]))

	// Locate the data sub-chunk; some encoders insert extra chunks before it.
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		if id == "data" {
			end := off + 8 + size
			if end > len(wav) {
				end = len(wav)
			}
			return wav[off+8 : end], sampleRate, nil
		}
		off += 8 + size
	}
	return nil, 0, errors.New("melo: WAV data chunk not found")
}

// pcmDuration converts a 16-bit mono PCM byte count to a duration.
func pcmDuration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
