// Package mock provides test doubles for the stt interfaces.
//
// Tests drive a [Session] by sending on FinalsCh and PartialsCh and closing
// them when the simulated stream ends.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStreamCall is one recorded StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider hands out sessions and records every StartStream.
type Provider struct {
	// StartStreamFunc builds the session for each call. When nil, Session is
	// returned, or a fresh [Session] when Session is nil too.
	StartStreamFunc func(cfg stt.StreamConfig) (stt.SessionHandle, error)
	Session         stt.SessionHandle

	// StartStreamErr fails every StartStream.
	StartStreamErr error

	mu    sync.Mutex
	calls []StartStreamCall
}

// StartStream implements stt.Provider.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	p.calls = append(p.calls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	p.mu.Unlock()

	switch {
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case p.StartStreamFunc != nil:
		return p.StartStreamFunc(cfg)
	case p.Session != nil:
		return p.Session, nil
	}
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}, nil
}

// CallCount returns how many streams were started.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Calls returns the recorded StartStream calls, oldest first.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.calls...)
}

// Session is a scripted stt.SessionHandle. The test owns PartialsCh and
// FinalsCh.
type Session struct {
	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// SendAudioErr fails every SendAudio. StreamErr is reported by Err.
	SendAudioErr error
	StreamErr    error

	mu        sync.Mutex
	audio     int
	finalizes int
	closes    int
	keywords  []stt.KeywordBoost
}

// SendAudio counts the bytes received.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio += len(chunk)
	return s.SendAudioErr
}

// Finalize counts the call.
func (s *Session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizes++
	return nil
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }
func (s *Session) Finals() <-chan stt.Transcript   { return s.FinalsCh }
func (s *Session) Err() error                      { return s.StreamErr }

// SetKeywords stores keywords; see [Session.Keywords].
func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append([]stt.KeywordBoost(nil), keywords...)
	return nil
}

// Close counts the call. It does not close the test-owned channels.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// AudioBytes returns the number of PCM bytes sent so far.
func (s *Session) AudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// FinalizeCount returns how many times Finalize was called.
func (s *Session) FinalizeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizes
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Keywords returns the last list passed to SetKeywords.
func (s *Session) Keywords() []stt.KeywordBoost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keywords
}
