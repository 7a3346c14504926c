// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (Silero or a test double)
// and surfaces it as a stateful, per-stream session. Each participant stream
// gets its own session so that concurrent speakers are segmented
// independently.
//
// Engines are expensive to load and are shared read-only across all jobs of a
// process; see [Loader]. Sessions are cheap and belong to a single stream.
package vad

// Config holds the parameters for a VAD session. Zero thresholds select the
// engine's own defaults.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Silero accepts 8000 and 16000.
	SampleRate int

	// FrameSizeMs is the nominal duration of each audio frame in milliseconds.
	// Engines that buffer internally accept frames of any length.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame is classified as
	// speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech segment
	// is considered ended. Must be ≤ SpeechThreshold. Typical: 0.35.
	SilenceThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// A SessionHandle is not safe for concurrent use.
type SessionHandle interface {
	// ProcessFrame analyses raw little-endian mono PCM at the configured
	// SampleRate and returns the detection state after the frame.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple jobs call
// NewSession simultaneously against one shared engine.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	NewSession(cfg Config) (SessionHandle, error)
}
