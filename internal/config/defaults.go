package config

// DefaultInstructions is the persona used when agent.instructions is not
// configured. It is kept byte for byte, including the indentation and
// trailing spaces of each line.
const DefaultInstructions = "You are a helpful and friendly voice assistant built by LiveKit. \n" +
	"        \n" +
	"        You can help with:\n" +
	"        - Answering general questions\n" +
	"        - Having conversations\n" +
	"        - Providing information and explanations\n" +
	"        - Simple calculations\n" +
	"        - Telling the current time\n" +
	"        - Creative tasks like storytelling or jokes\n" +
	"        \n" +
	"        Keep your responses conversational, concise, and natural for voice interaction. \n" +
	"        Be helpful, polite, and engaging. If you don't know something specific, \n" +
	"        acknowledge it honestly and offer what help you can."

// Default provider literals.
const (
	DefaultSTTModel    = "nova-2"
	DefaultSTTLanguage = "en"

	DefaultLLMModel       = "deepseek-r1:1.5b"
	DefaultLLMBaseURL     = "http://localhost:11434/v1"
	DefaultLLMAPIKey      = "ollama"
	DefaultLLMTemperature = 0.7

	DefaultTTSModel   = "sonic-english"
	DefaultTTSVoiceID = "f786b574-daa5-4673-aa0c-cbe3e8534c02"

	DefaultVADModel = "models/silero_vad.onnx"

	DefaultAgentIdentity = "parley-agent"
	DefaultListenAddr    = ":8081"
)

// Default returns the built-in configuration: Deepgram nova-2 for speech
// recognition, a local Ollama model through its OpenAI-compatible endpoint,
// Cartesia sonic-english for synthesis and Silero for voice activity
// detection, joined to LiveKit rooms. Credentials not listed here are
// filled from the environment by [Config.ResolveEnv].
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   LogInfo,
		},
		Worker: WorkerConfig{
			MaxJobs:             8,
			DrainTimeoutSeconds: 15,
		},
		Room: RoomConfig{
			Kind:      RoomLiveKit,
			URL:       "${LIVEKIT_URL}",
			APIKey:    "${LIVEKIT_API_KEY}",
			APISecret: "${LIVEKIT_API_SECRET}",
		},
		Providers: ProvidersConfig{
			STT: ProviderConfig[STTKind]{
				Kind:    STTDeepgram,
				Model:   DefaultSTTModel,
				Options: map[string]any{"language": DefaultSTTLanguage},
			},
			LLM: ProviderConfig[LLMKind]{
				Kind:    LLMOpenAI,
				Model:   DefaultLLMModel,
				BaseURL: DefaultLLMBaseURL,
				APIKey:  DefaultLLMAPIKey,
				Options: map[string]any{"temperature": DefaultLLMTemperature},
			},
			TTS: ProviderConfig[TTSKind]{
				Kind:    TTSCartesia,
				Model:   DefaultTTSModel,
				Options: map[string]any{"voice_id": DefaultTTSVoiceID},
			},
			VAD: ProviderConfig[VADKind]{
				Kind:  VADSilero,
				Model: DefaultVADModel,
			},
		},
		Agent: AgentConfig{
			Identity:     DefaultAgentIdentity,
			Instructions: DefaultInstructions,
			Capabilities: []string{},
		},
	}
}
