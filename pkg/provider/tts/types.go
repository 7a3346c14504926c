package tts

// VoiceProfile selects the voice a reply is spoken with. Only ID is
// required; the other fields are hints the backend may ignore.
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string

	// Language is a BCP-47 tag. Empty keeps the backend default.
	Language string

	// SpeedFactor scales the speaking rate, 1 being normal. Zero keeps the
	// backend default.
	SpeedFactor float64

	// Metadata carries backend-specific attributes returned by ListVoices,
	// such as a description or accent.
	Metadata map[string]string
}
