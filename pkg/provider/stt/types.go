package stt

import "time"

// Transcript is one recognition result. Partials may be revised by later
// results; a final is committed and becomes a user turn.
type Transcript struct {
	Text    string
	IsFinal bool

	// Confidence is in [0, 1]; zero when the backend does not report one.
	Confidence float64

	// Start and Duration place the utterance on the session's audio
	// timeline. Both are zero when unknown.
	Start    time.Duration
	Duration time.Duration
}

// KeywordBoost raises the recognition probability of a word the model
// would otherwise miss, such as the assistant's name.
type KeywordBoost struct {
	Keyword string

	// Boost is the backend-specific intensity; zero uses the default.
	Boost float64
}
