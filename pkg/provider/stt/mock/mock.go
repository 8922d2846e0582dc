// Package mock provides a test double for the stt.Provider interface.
//
// Tests obtain a Session from StartStream and push transcripts into it with
// EmitInterim/EmitFinal, simulating a live transcription stream without any
// network connection.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/codavoice/coda/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartStream.
	StartErr error

	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// Sessions records every session opened via StartStream, in order.
	Sessions []*Session

	// StartConfigs records the StreamConfig passed to each StartStream call.
	StartConfigs []stt.StreamConfig
}

// StartStream records the call and returns a fresh Session.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartConfigs = append(p.StartConfigs, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
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

// Session is a mock stt.SessionHandle driven by the test.
type Session struct {
	mu       sync.Mutex
	closed   bool
	interims chan stt.Transcript
	finals   chan stt.Transcript

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// AudioChunks records every chunk passed to SendAudio.
	AudioChunks [][]byte
}

// NewSession creates an open mock session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		interims: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
	}
}

// SendAudio records the chunk. Returns an error after Close.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.AudioChunks = append(s.AudioChunks, c)
	return nil
}

// Interims returns the interim transcript channel.
func (s *Session) Interims() <-chan stt.Transcript { return s.interims }

// Finals returns the final transcript channel.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// EmitInterim delivers an interim transcript to consumers. No-op after Close.
func (s *Session) EmitInterim(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	t.IsFinal = false
	s.interims <- t
}

// EmitFinal delivers a final transcript to consumers. No-op after Close.
func (s *Session) EmitFinal(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	t.IsFinal = true
	s.finals <- t
}

// Close closes both transcript channels. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.interims)
		close(s.finals)
	}
	return nil
}

// Ensure the mocks satisfy the interfaces at compile time.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)
