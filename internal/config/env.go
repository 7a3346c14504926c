package config

import "os"

// ResolveEnv expands ${VAR} and $VAR references in every string value of c
// using getenv, then fills empty API keys from each provider kind's
// credential variable (e.g. DEEPGRAM_API_KEY). A nil getenv uses
// [os.Getenv].
func (c *Config) ResolveEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	expand := func(s string) string { return os.Expand(s, getenv) }

	c.Server.ListenAddr = expand(c.Server.ListenAddr)

	c.Room.URL = expand(c.Room.URL)
	c.Room.APIKey = expand(c.Room.APIKey)
	c.Room.APISecret = expand(c.Room.APISecret)
	c.Room.Token = expand(c.Room.Token)
	c.Room.GuildID = expand(c.Room.GuildID)
	if c.Room.Kind == RoomDiscord && c.Room.Token == "" {
		c.Room.Token = getenv("DISCORD_BOT_TOKEN")
	}

	resolveProvider(&c.Providers.STT, getenv)
	resolveProvider(&c.Providers.LLM, getenv)
	resolveProvider(&c.Providers.TTS, getenv)
	resolveProvider(&c.Providers.VAD, getenv)
}

func resolveProvider[K Kind](p *ProviderConfig[K], getenv func(string) string) {
	expand := func(s string) string { return os.Expand(s, getenv) }
	p.Model = expand(p.Model)
	p.BaseURL = expand(p.BaseURL)
	p.APIKey = expand(p.APIKey)
	for k, v := range p.Options {
		if s, ok := v.(string); ok {
			p.Options[k] = expand(s)
		}
	}
	if p.APIKey == "" && p.Kind.IsValid() {
		if name := p.Kind.CredentialEnv(); name != "" {
			p.APIKey = getenv(name)
		}
	}
}
