// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Cartesia or
// ElevenLabs) and presents a uniform streaming interface. The primary entry
// point is SynthesizeStream, which accepts a channel of text fragments and
// returns a [Stream] of raw PCM audio as it becomes available, so LLM output
// can be spoken before the full reply is known.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional operations a provider does not
// implement.
var ErrNotSupported = errors.New("tts: operation not supported")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from text and returns a Stream
	// emitting 16-bit little-endian mono PCM at SampleRate. Each fragment is
	// expected to be a complete sentence or clause.
	//
	// The stream's audio channel is closed when text has been closed and all
	// audio delivered, when ctx is cancelled or when synthesis fails. After
	// it closes, Stream.Err reports whether synthesis failed.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (*Stream, error)

	// ListVoices returns the voices available to the configured account.
	// Providers without a catalogue endpoint return [ErrNotSupported].
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// SampleRate is the rate in Hz of the PCM produced by SynthesizeStream.
	SampleRate() int
}
