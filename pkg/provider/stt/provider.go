// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (Deepgram or a local
// whisper.cpp model) and exposes a uniform streaming interface. The central
// abstraction is SessionHandle: once opened, a session accepts raw PCM audio
// frames and emits two streams of Transcript values: low-latency partials for
// barge-in and authoritative finals that become user turns.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional session features a backend lacks.
var ErrNotSupported = errors.New("stt: not supported")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The session pipeline delivers
	// 16000 Hz mono.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de-DE").
	// An empty string selects the provider's configured language.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes matching StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Finalize asks the provider to commit everything received so far as a
	// final transcript. It is called when voice activity detection reports
	// the end of an utterance and does not end the session.
	Finalize() error

	// Partials returns a read-only channel of interim transcripts. The channel
	// is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel of committed transcripts. The channel
	// is closed when the session ends.
	Finals() <-chan Transcript

	// SetKeywords replaces the active keyword boost list without restarting
	// the session. Providers without mid-session updates return
	// ErrNotSupported.
	SetKeywords(keywords []KeywordBoost) error

	// Err returns the error that ended the session, or nil if the session is
	// still running or was closed by the caller.
	Err() error

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use: one session is opened per
// participant.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller owns
	// the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
