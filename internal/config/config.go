// Package config provides the configuration schema and loader for the parley
// voice assistant worker.
//
// Provider selection is expressed through closed kind enumerations
// ([STTKind], [LLMKind], [TTSKind], [VADKind], [RoomKind]). Unknown kinds are
// rejected while decoding, so a typo never reaches provider construction.
package config

// LogLevel controls log verbosity for the parley worker.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// or built from [Default] when no file is present.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Worker    WorkerConfig    `yaml:"worker"`
	Room      RoomConfig      `yaml:"room"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the job API, health and metrics
	// endpoints (e.g., ":8081").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// WorkerConfig bounds how many jobs run in parallel.
type WorkerConfig struct {
	// MaxJobs is the maximum number of concurrently running jobs. Jobs
	// submitted beyond this limit are rejected. Zero means unlimited.
	MaxJobs int `yaml:"max_jobs"`

	// DrainTimeoutSeconds is how long shutdown waits for running jobs.
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`
}

// RoomConfig selects and authenticates the room transport.
type RoomConfig struct {
	// Kind selects the transport implementation.
	Kind RoomKind `yaml:"kind"`

	// URL is the LiveKit server websocket URL (e.g., "wss://example.livekit.cloud").
	URL string `yaml:"url"`

	// APIKey and APISecret are the LiveKit server credentials used to mint
	// the agent's access token.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// GuildID is the Discord guild whose voice channels are joined.
	GuildID string `yaml:"guild_id"`
}

// ProvidersConfig holds exactly one provider per modality.
type ProvidersConfig struct {
	STT ProviderConfig[STTKind] `yaml:"stt"`
	LLM ProviderConfig[LLMKind] `yaml:"llm"`
	TTS ProviderConfig[TTSKind] `yaml:"tts"`
	VAD ProviderConfig[VADKind] `yaml:"vad"`
}

// ProviderConfig is the configuration block shared by all modalities. Kind
// is a closed enumeration specific to the modality.
//
// Values are passed to provider constructors as written; nothing is
// substituted for absent fields.
type ProviderConfig[K Kind] struct {
	// Kind selects the provider implementation.
	Kind K `yaml:"kind"`

	// Model selects a model within the provider (e.g., "nova-2"). For local
	// model providers (whisper, silero) this is the model file path.
	Model string `yaml:"model"`

	// BaseURL is the provider's API endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the provider's API.
	APIKey string `yaml:"api_key"`

	// Options holds provider-specific values not covered by the fields above
	// (language, temperature, voice_id, ...).
	Options map[string]any `yaml:"options"`
}

// AgentConfig describes the assistant persona.
type AgentConfig struct {
	// Identity is the participant identity the agent joins rooms as.
	Identity string `yaml:"identity"`

	// Instructions is the persona / system prompt. It is treated as opaque
	// text.
	Instructions string `yaml:"instructions"`

	// Capabilities lists built-in tools the assistant may invoke. Empty means
	// conversation only.
	Capabilities []string `yaml:"capabilities"`

	// Greeting, when set, is spoken once when the session starts.
	Greeting string `yaml:"greeting"`

	// MaxHistoryTokens bounds the conversation history sent to the LLM.
	// Zero means unbounded.
	MaxHistoryTokens int `yaml:"max_history_tokens"`
}
