// Package mock provides a test double for the tts.Provider interface.
//
// Speak can be configured with a fixed result, an injected error, or a block
// channel that holds the call open until the test releases it (for exercising
// Stop and worker-shutdown paths).
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/codavoice/coda/pkg/provider/tts"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Text is the utterance passed to Speak.
	Text string
	// Voice is the voice profile passed to Speak.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakResult is returned by Speak on success. A nil value yields a
	// zero-valued result.
	SpeakResult *tts.SpeakResult

	// SpeakErr, if non-nil, is returned by Speak.
	SpeakErr error

	// ProgressSteps, when non-empty, is replayed through the progress callback
	// before Speak returns.
	ProgressSteps []float64

	// BlockSpeak, when non-nil, holds Speak open until the channel is closed,
	// Stop is called, or ctx is cancelled.
	BlockSpeak chan struct{}

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// --- Call records (read after test) ---

	// SpeakCalls records every invocation of Speak in order.
	SpeakCalls []SpeakCall

	// StopCount is the number of times Stop was called.
	StopCount int

	// CloseCount is the number of times Close was called.
	CloseCount int

	stopCh chan struct{}
}

// Speak records the call, replays ProgressSteps, optionally blocks, and
// returns the configured result.
func (p *Provider) Speak(ctx context.Context, text string, voice tts.VoiceProfile, progress tts.ProgressFunc) (*tts.SpeakResult, error) {
	p.mu.Lock()
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Text: text, Voice: voice})
	if p.stopCh == nil {
		p.stopCh = make(chan struct{}, 1)
	}
	stopCh := p.stopCh
	block := p.BlockSpeak
	steps := p.ProgressSteps
	result := p.SpeakResult
	err := p.SpeakErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if progress != nil {
		for _, s := range steps {
			progress(s)
		}
	}

	if block != nil {
		select {
		case <-block:
		case <-stopCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if result == nil {
		return &tts.SpeakResult{Duration: time.Millisecond, CharCount: len(text)}, nil
	}
	r := *result
	return &r, nil
}

// Stop records the call and unblocks a pending Speak.
func (p *Provider) Stop() {
	p.mu.Lock()
	p.StopCount++
	if p.stopCh == nil {
		p.stopCh = make(chan struct{}, 1)
	}
	select {
	case p.stopCh <- struct{}{}:
	default:
	}
	p.mu.Unlock()
}

// ListVoices returns the configured Voices.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, nil
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Close records the call.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCount++
	return nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
