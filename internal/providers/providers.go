// Package providers turns provider configuration blocks into concrete
// adapters. Every builder switches over its closed kind enumeration; a kind
// without a case is a programming error reported as [ErrUnsupportedKind].
//
// Values are handed to the adapters exactly as configured. Optional
// adapter settings are only applied when the corresponding option is
// present, so adapter defaults stay in the adapters.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	"github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/cartesia"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/silero"
)

// ErrUnsupportedKind is returned for a kind that has no adapter.
var ErrUnsupportedKind = errors.New("providers: unsupported kind")

// Option keys read from ProviderConfig.Options.
const (
	OptLanguage      = "language"
	OptTemperature   = "temperature"
	OptMaxTokens     = "max_tokens"
	OptVoiceID       = "voice_id"
	OptSpeed         = "speed"
	OptSampleRate    = "sample_rate"
	OptOutputFormat  = "output_format"
	OptEndpointingMs = "endpointing_ms"
	OptSmartFormat   = "smart_format"
	OptThreshold     = "threshold"
	OptMinSilenceMs  = "min_silence_ms"
	OptSpeechPadMs   = "speech_pad_ms"
)

// sttSampleRate is the rate the session feeds recognisers with.
const sttSampleRate = 16000

// STT constructs the speech recogniser selected by cfg.
func STT(cfg config.ProviderConfig[config.STTKind]) (stt.Provider, error) {
	switch cfg.Kind {
	case config.STTDeepgram:
		opts := []deepgram.Option{
			deepgram.WithModel(cfg.Model),
			deepgram.WithLanguage(cfg.String(OptLanguage)),
			deepgram.WithSampleRate(sttSampleRate),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(cfg.BaseURL))
		}
		if ms, ok := cfg.Int(OptEndpointingMs); ok {
			opts = append(opts, deepgram.WithEndpointing(ms))
		}
		if on, ok := cfg.Bool(OptSmartFormat); ok {
			opts = append(opts, deepgram.WithSmartFormat(on))
		}
		return deepgram.New(cfg.APIKey, opts...)
	case config.STTWhisper:
		return whisper.New(cfg.Model,
			whisper.WithLanguage(cfg.String(OptLanguage)),
			whisper.WithSampleRate(sttSampleRate),
		)
	default:
		return nil, fmt.Errorf("%w: stt %q", ErrUnsupportedKind, cfg.Kind)
	}
}

// LLM constructs the language model selected by cfg. The openai kind talks
// to any OpenAI-compatible endpoint at cfg.BaseURL; every other kind goes
// through the any-llm backend of the same name.
func LLM(cfg config.ProviderConfig[config.LLMKind]) (llm.Provider, error) {
	temp, hasTemp := cfg.Float(OptTemperature)
	maxTokens, hasMax := cfg.Int(OptMaxTokens)

	switch cfg.Kind {
	case config.LLMOpenAI:
		opts := []openai.Option{openai.WithBaseURL(cfg.BaseURL)}
		if hasTemp {
			opts = append(opts, openai.WithTemperature(temp))
		}
		if hasMax {
			opts = append(opts, openai.WithMaxTokens(maxTokens))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)
	case config.LLMAnthropic, config.LLMGemini, config.LLMOllama, config.LLMDeepSeek,
		config.LLMMistral, config.LLMGroq, config.LLMLlamaCpp:
		var opts []anyllm.Option
		if cfg.APIKey != "" {
			opts = append(opts, anyllm.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllm.WithBaseURL(cfg.BaseURL))
		}
		if hasTemp {
			opts = append(opts, anyllm.WithTemperature(temp))
		}
		if hasMax {
			opts = append(opts, anyllm.WithMaxTokens(maxTokens))
		}
		return anyllm.New(Backend(cfg.Kind), cfg.Model, opts...)
	default:
		return nil, fmt.Errorf("%w: llm %q", ErrUnsupportedKind, cfg.Kind)
	}
}

// Backend maps an LLM kind to its any-llm backend name. It returns "" for
// kinds served by the OpenAI adapter.
func Backend(k config.LLMKind) string {
	switch k {
	case config.LLMAnthropic:
		return anyllm.BackendAnthropic
	case config.LLMGemini:
		return anyllm.BackendGemini
	case config.LLMOllama:
		return anyllm.BackendOllama
	case config.LLMDeepSeek:
		return anyllm.BackendDeepSeek
	case config.LLMMistral:
		return anyllm.BackendMistral
	case config.LLMGroq:
		return anyllm.BackendGroq
	case config.LLMLlamaCpp:
		return anyllm.BackendLlamaCpp
	}
	return ""
}

// TTS constructs the speech synthesiser selected by cfg.
func TTS(cfg config.ProviderConfig[config.TTSKind]) (tts.Provider, error) {
	switch cfg.Kind {
	case config.TTSCartesia:
		opts := []cartesia.Option{cartesia.WithModel(cfg.Model)}
		if lang := cfg.String(OptLanguage); lang != "" {
			opts = append(opts, cartesia.WithLanguage(lang))
		}
		if rate, ok := cfg.Int(OptSampleRate); ok {
			opts = append(opts, cartesia.WithSampleRate(rate))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, cartesia.WithEndpoint(cfg.BaseURL))
		}
		return cartesia.New(cfg.APIKey, opts...)
	case config.TTSElevenLabs:
		opts := []elevenlabs.Option{elevenlabs.WithModel(cfg.Model)}
		if f := cfg.String(OptOutputFormat); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(cfg.BaseURL))
		}
		return elevenlabs.New(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("%w: tts %q", ErrUnsupportedKind, cfg.Kind)
	}
}

// Voice returns the voice profile replies are spoken with.
func Voice(cfg config.ProviderConfig[config.TTSKind]) tts.VoiceProfile {
	v := tts.VoiceProfile{
		ID:       cfg.String(OptVoiceID),
		Provider: string(cfg.Kind),
		Language: cfg.String(OptLanguage),
	}
	if speed, ok := cfg.Float(OptSpeed); ok {
		v.SpeedFactor = speed
	}
	return v
}

// VADLoad returns the load function for the detector selected by cfg. Wrap
// it in a [vad.Loader] so the model is loaded at most once per process.
func VADLoad(cfg config.ProviderConfig[config.VADKind]) (vad.LoadFunc, error) {
	switch cfg.Kind {
	case config.VADSilero:
		var opts []silero.Option
		if th, ok := cfg.Float(OptThreshold); ok {
			opts = append(opts, silero.WithThreshold(th))
		}
		if ms, ok := cfg.Int(OptMinSilenceMs); ok {
			opts = append(opts, silero.WithMinSilenceMs(ms))
		}
		if ms, ok := cfg.Int(OptSpeechPadMs); ok {
			opts = append(opts, silero.WithSpeechPadMs(ms))
		}
		model := cfg.Model
		return func(context.Context) (vad.Engine, error) {
			e, err := silero.Load(model, opts...)
			if err != nil {
				return nil, err
			}
			return e, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: vad %q", ErrUnsupportedKind, cfg.Kind)
	}
}

// Close closes every value that implements [io.Closer] and joins the
// errors. Adapters holding local models (whisper) need this; network
// adapters hold nothing between streams.
func Close(vals ...any) error {
	var errs []error
	for _, v := range vals {
		if c, ok := v.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
