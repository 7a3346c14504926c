package llm

import "strings"

// CapabilitiesFor returns ModelCapabilities for known model families.
// Unknown models get conservative defaults with tool calling enabled.
func CapabilitiesFor(model string) ModelCapabilities {
	caps := ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "deepseek-r1"):
		// Local R1 distillations served by Ollama reject tool schemas.
		caps.ContextWindow = 32_768
		caps.MaxOutputTokens = 8_192
		caps.SupportsToolCalling = false
		caps.EmitsReasoning = true
	case strings.HasPrefix(lower, "deepseek-reasoner"):
		caps.ContextWindow = 64_000
		caps.MaxOutputTokens = 8_192
		caps.SupportsToolCalling = false
		caps.EmitsReasoning = true
	case strings.HasPrefix(lower, "deepseek"):
		caps.ContextWindow = 64_000
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "gpt-4.1"):
		caps.ContextWindow = 1_047_576
		caps.MaxOutputTokens = 32_768
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "llama3"), strings.HasPrefix(lower, "qwen"),
		strings.HasPrefix(lower, "mistral"), strings.HasPrefix(lower, "mixtral"):
		caps.ContextWindow = 32_768
	}
	return caps
}

// EstimateTokens approximates the token count of messages at roughly four
// characters per token plus a fixed per-message overhead for role markup.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
		for _, tc := range m.ToolCalls {
			total += (len(tc.Name) + len(tc.Arguments) + 3) / 4
		}
	}
	return total
}
