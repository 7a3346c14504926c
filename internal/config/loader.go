package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, resolves environment
// references and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like [Load] but falls back to [Default] when the file
// does not exist. The returned bool reports whether the file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.ResolveEnv(nil)
		if err := Validate(cfg); err != nil {
			return nil, false, err
		}
		return cfg, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// LoadFromReader decodes a YAML config from r, resolves environment
// references and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ResolveEnv(nil)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
//
// Missing provider values are not reported here: they are checked when a
// job is prepared, so that `parley check` and the job path report them the
// same way. Use [ValidateProviders] to check them eagerly.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Worker.MaxJobs < 0 {
		errs = append(errs, fmt.Errorf("worker.max_jobs %d must not be negative", cfg.Worker.MaxJobs))
	}
	if cfg.Worker.DrainTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("worker.drain_timeout_seconds %d must not be negative", cfg.Worker.DrainTimeoutSeconds))
	}
	if cfg.Agent.MaxHistoryTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_history_tokens %d must not be negative", cfg.Agent.MaxHistoryTokens))
	}

	switch cfg.Room.Kind {
	case RoomLiveKit:
		if cfg.Room.URL == "" {
			slog.Warn("room.url is empty; LiveKit rooms cannot be joined (set LIVEKIT_URL)")
		}
	case RoomDiscord:
		if cfg.Room.GuildID == "" {
			errs = append(errs, errors.New("room.guild_id is required when room.kind is discord"))
		}
	case "":
		errs = append(errs, errors.New("room.kind is required"))
	default:
		errs = append(errs, fmt.Errorf("room.kind %q is invalid; valid values: %s", cfg.Room.Kind, strings.Join(kindNames(RoomKinds()), ", ")))
	}

	if strings.TrimSpace(cfg.Agent.Instructions) == "" {
		slog.Warn("agent.instructions is empty; the assistant will run without a persona")
	}

	return errors.Join(errs...)
}

// ValidateProviders runs [ProviderConfig.Check] for all four modalities and
// joins the results.
func ValidateProviders(p ProvidersConfig) error {
	return errors.Join(
		p.STT.Check(),
		p.LLM.Check(),
		p.TTS.Check(),
		p.VAD.Check(),
	)
}
