package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Modality names one of the four provider slots of a session.
type Modality string

const (
	ModalitySTT Modality = "stt"
	ModalityLLM Modality = "llm"
	ModalityTTS Modality = "tts"
	ModalityVAD Modality = "vad"
)

// Kind is implemented by every provider kind enumeration.
type Kind interface {
	~string
	IsValid() bool
	Modality() Modality
	Requirements() Requirements
	CredentialEnv() string
}

// Requirements lists the fields a provider kind cannot be constructed
// without.
type Requirements struct {
	Model   bool
	BaseURL bool
	APIKey  bool
	Options []string
}

// ─── STT ─────────────────────────────────────────────────────────────────────

// STTKind enumerates the supported speech-to-text providers.
type STTKind string

const (
	// STTDeepgram streams audio to the Deepgram live transcription API.
	STTDeepgram STTKind = "deepgram"

	// STTWhisper runs whisper.cpp in-process with a local model file.
	STTWhisper STTKind = "whisper"
)

// STTKinds returns every supported speech-to-text kind.
func STTKinds() []STTKind { return []STTKind{STTDeepgram, STTWhisper} }

func (k STTKind) IsValid() bool {
	switch k {
	case STTDeepgram, STTWhisper:
		return true
	}
	return false
}

func (STTKind) Modality() Modality { return ModalitySTT }

func (k STTKind) Requirements() Requirements {
	switch k {
	case STTDeepgram:
		return Requirements{Model: true, APIKey: true, Options: []string{"language"}}
	case STTWhisper:
		return Requirements{Model: true, Options: []string{"language"}}
	}
	return Requirements{}
}

func (k STTKind) CredentialEnv() string {
	switch k {
	case STTDeepgram:
		return "DEEPGRAM_API_KEY"
	case STTWhisper:
		return ""
	}
	return ""
}

func (k *STTKind) UnmarshalYAML(n *yaml.Node) error {
	return unmarshalKind(n, k, kindNames(STTKinds()))
}

// ─── LLM ─────────────────────────────────────────────────────────────────────

// LLMKind enumerates the supported language model providers.
type LLMKind string

const (
	// LLMOpenAI talks to any OpenAI-compatible chat completions endpoint,
	// including Ollama's /v1 API.
	LLMOpenAI    LLMKind = "openai"
	LLMAnthropic LLMKind = "anthropic"
	LLMGemini    LLMKind = "gemini"
	LLMOllama    LLMKind = "ollama"
	LLMDeepSeek  LLMKind = "deepseek"
	LLMMistral   LLMKind = "mistral"
	LLMGroq      LLMKind = "groq"
	LLMLlamaCpp  LLMKind = "llamacpp"
)

// LLMKinds returns every supported language model kind.
func LLMKinds() []LLMKind {
	return []LLMKind{LLMOpenAI, LLMAnthropic, LLMGemini, LLMOllama, LLMDeepSeek, LLMMistral, LLMGroq, LLMLlamaCpp}
}

func (k LLMKind) IsValid() bool {
	switch k {
	case LLMOpenAI, LLMAnthropic, LLMGemini, LLMOllama, LLMDeepSeek, LLMMistral, LLMGroq, LLMLlamaCpp:
		return true
	}
	return false
}

func (LLMKind) Modality() Modality { return ModalityLLM }

func (k LLMKind) Requirements() Requirements {
	switch k {
	case LLMOpenAI:
		return Requirements{Model: true, BaseURL: true, APIKey: true}
	case LLMOllama, LLMLlamaCpp:
		return Requirements{Model: true, BaseURL: true}
	case LLMAnthropic, LLMGemini, LLMDeepSeek, LLMMistral, LLMGroq:
		return Requirements{Model: true, APIKey: true}
	}
	return Requirements{}
}

func (k LLMKind) CredentialEnv() string {
	switch k {
	case LLMOpenAI:
		return "OPENAI_API_KEY"
	case LLMAnthropic:
		return "ANTHROPIC_API_KEY"
	case LLMGemini:
		return "GEMINI_API_KEY"
	case LLMDeepSeek:
		return "DEEPSEEK_API_KEY"
	case LLMMistral:
		return "MISTRAL_API_KEY"
	case LLMGroq:
		return "GROQ_API_KEY"
	case LLMOllama, LLMLlamaCpp:
		return ""
	}
	return ""
}

func (k *LLMKind) UnmarshalYAML(n *yaml.Node) error {
	return unmarshalKind(n, k, kindNames(LLMKinds()))
}

// ─── TTS ─────────────────────────────────────────────────────────────────────

// TTSKind enumerates the supported text-to-speech providers.
type TTSKind string

const (
	// TTSCartesia streams text to the Cartesia websocket API.
	TTSCartesia TTSKind = "cartesia"

	// TTSElevenLabs streams text to the ElevenLabs websocket API.
	TTSElevenLabs TTSKind = "elevenlabs"
)

// TTSKinds returns every supported text-to-speech kind.
func TTSKinds() []TTSKind { return []TTSKind{TTSCartesia, TTSElevenLabs} }

func (k TTSKind) IsValid() bool {
	switch k {
	case TTSCartesia, TTSElevenLabs:
		return true
	}
	return false
}

func (TTSKind) Modality() Modality { return ModalityTTS }

func (k TTSKind) Requirements() Requirements {
	switch k {
	case TTSCartesia, TTSElevenLabs:
		return Requirements{Model: true, APIKey: true, Options: []string{"voice_id"}}
	}
	return Requirements{}
}

func (k TTSKind) CredentialEnv() string {
	switch k {
	case TTSCartesia:
		return "CARTESIA_API_KEY"
	case TTSElevenLabs:
		return "ELEVEN_API_KEY"
	}
	return ""
}

func (k *TTSKind) UnmarshalYAML(n *yaml.Node) error {
	return unmarshalKind(n, k, kindNames(TTSKinds()))
}

// ─── VAD ─────────────────────────────────────────────────────────────────────

// VADKind enumerates the supported voice activity detectors.
type VADKind string

// VADSilero runs the Silero ONNX model in-process.
const VADSilero VADKind = "silero"

// VADKinds returns every supported voice activity detector kind.
func VADKinds() []VADKind { return []VADKind{VADSilero} }

func (k VADKind) IsValid() bool { return k == VADSilero }

func (VADKind) Modality() Modality { return ModalityVAD }

func (k VADKind) Requirements() Requirements {
	switch k {
	case VADSilero:
		return Requirements{Model: true}
	}
	return Requirements{}
}

func (VADKind) CredentialEnv() string { return "" }

func (k *VADKind) UnmarshalYAML(n *yaml.Node) error {
	return unmarshalKind(n, k, kindNames(VADKinds()))
}

// ─── Room ────────────────────────────────────────────────────────────────────

// RoomKind enumerates the supported room transports.
type RoomKind string

const (
	RoomLiveKit RoomKind = "livekit"
	RoomDiscord RoomKind = "discord"
)

// RoomKinds returns every supported room transport.
func RoomKinds() []RoomKind { return []RoomKind{RoomLiveKit, RoomDiscord} }

func (k RoomKind) IsValid() bool { return k == RoomLiveKit || k == RoomDiscord }

func (k *RoomKind) UnmarshalYAML(n *yaml.Node) error {
	return unmarshalKind(n, k, kindNames(RoomKinds()))
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func kindNames[K ~string](kinds []K) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// unmarshalKind decodes a scalar into dst, rejecting values outside valid.
func unmarshalKind[K ~string](n *yaml.Node, dst *K, valid []string) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	for _, v := range valid {
		if s == v {
			*dst = K(s)
			return nil
		}
	}
	return fmt.Errorf("line %d: unknown kind %q; valid values: %s", n.Line, s, strings.Join(valid, ", "))
}
