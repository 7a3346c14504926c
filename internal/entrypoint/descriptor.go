package entrypoint

import (
	"github.com/MrWong99/parley/internal/agent"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/session"
)

// SessionDescriptor holds exactly one provider configuration per modality.
// Values are copied from configuration as written.
type SessionDescriptor struct {
	STT config.ProviderConfig[config.STTKind]
	LLM config.ProviderConfig[config.LLMKind]
	TTS config.ProviderConfig[config.TTSKind]
	VAD config.ProviderConfig[config.VADKind]
}

// NewSessionDescriptor validates p and returns a descriptor holding copies of
// its four blocks. Every missing or invalid value is reported as a
// *ConfigurationError; the errors are joined.
func NewSessionDescriptor(p config.ProvidersConfig) (SessionDescriptor, error) {
	if err := configurationErrors(config.ValidateProviders(p)); err != nil {
		return SessionDescriptor{}, err
	}
	return SessionDescriptor{
		STT: p.STT.Clone(),
		LLM: p.LLM.Clone(),
		TTS: p.TTS.Clone(),
		VAD: p.VAD.Clone(),
	}, nil
}

// Kinds returns the configured kind of every modality.
func (d SessionDescriptor) Kinds() session.Kinds {
	return session.Kinds{
		STT: string(d.STT.Kind),
		LLM: string(d.LLM.Kind),
		TTS: string(d.TTS.Kind),
		VAD: string(d.VAD.Kind),
	}
}

// NewAgentDescriptor builds the agent from its configuration block. An
// unknown capability is a *ConfigurationError.
func NewAgentDescriptor(cfg config.AgentConfig, opts ...agent.Option) (agent.Descriptor, error) {
	kinds, err := agent.ParseCapabilities(cfg.Capabilities)
	if err != nil {
		return agent.Descriptor{}, &ConfigurationError{Field: "agent.capabilities", Err: err}
	}
	ag, err := agent.New(cfg.Instructions, kinds, opts...)
	if err != nil {
		return agent.Descriptor{}, &ConfigurationError{Field: "agent.capabilities", Err: err}
	}
	return ag, nil
}
