// Package mock provides a scripted voice activity detector for tests.
//
//	eng := &mock.Engine{Session: &mock.Session{
//	    Script:      []vad.VADEvent{{Type: vad.VADSpeechStart}, {Type: vad.VADSpeechEnd}},
//	    EventResult: vad.VADEvent{Type: vad.VADSilence},
//	}}
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine hands out Session, or a silent session when Session is nil.
type Engine struct {
	Session vad.SessionHandle

	// NewSessionErr fails every NewSession.
	NewSessionErr error

	mu      sync.Mutex
	configs []vad.Config
	closes  int
}

// NewSession records cfg and returns Session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	e.configs = append(e.configs, cfg)
	e.mu.Unlock()
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}, nil
}

// CallCount returns how many sessions were requested.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.configs)
}

// Configs returns the configs passed to NewSession, oldest first.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Close counts the call.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}

// CloseCount returns how many times Close was called.
func (e *Engine) CloseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// Session replays Script one event per frame, then repeats EventResult.
// Unlike real sessions it is safe for concurrent use, so one Session may
// back several streams.
type Session struct {
	Script      []vad.VADEvent
	EventResult vad.VADEvent

	// FrameErr fails every ProcessFrame.
	FrameErr error

	mu     sync.Mutex
	frames int
	resets int
	closed bool
}

// ProcessFrame returns the next scripted event.
func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.FrameErr != nil {
		return vad.VADEvent{}, s.FrameErr
	}
	if len(s.Script) == 0 {
		return s.EventResult, nil
	}
	ev := s.Script[0]
	s.Script = s.Script[1:]
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Frames returns how many frames were processed.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Resets returns how many times Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
