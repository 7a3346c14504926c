// Package anyllm provides an LLM provider for hosted and local backends
// reached through github.com/mozilla-ai/any-llm-go: Anthropic, Gemini,
// DeepSeek, Mistral, Groq, Ollama (native API) and llama.cpp servers.
//
// Usage:
//
//	p, err := anyllm.New(anyllm.BackendAnthropic, "claude-3-5-sonnet-latest",
//	    anyllm.WithAPIKey(key), anyllm.WithTemperature(0.7))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// Supported backend names.
const (
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
	BackendOllama    = "ollama"
	BackendDeepSeek  = "deepseek"
	BackendMistral   = "mistral"
	BackendGroq      = "groq"
	BackendLlamaCpp  = "llamacpp"
)

// Backends lists every backend name accepted by [New].
func Backends() []string {
	return []string{BackendAnthropic, BackendGemini, BackendOllama, BackendDeepSeek, BackendMistral, BackendGroq, BackendLlamaCpp}
}

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping an any-llm-go backend.
type Provider struct {
	backend     anyllmlib.Provider
	name        string
	model       string
	temperature float64
	maxTokens   int

	libOpts []anyllmlib.Option
}

// Option is a functional option for [New].
type Option func(*Provider)

// WithAPIKey sets the backend API key. Without it the backend falls back to
// its own environment variable (ANTHROPIC_API_KEY, GROQ_API_KEY, ...).
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		if key != "" {
			p.libOpts = append(p.libOpts, anyllmlib.WithAPIKey(key))
		}
	}
}

// WithBaseURL points the backend at a non-default endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.libOpts = append(p.libOpts, anyllmlib.WithBaseURL(url))
		}
	}
}

// WithTemperature sets the sampling temperature used when a request does not
// carry its own.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithMaxTokens sets the completion token cap used when a request does not
// carry its own.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// New creates a Provider for the named backend (see [Backends]).
func New(backend string, model string, opts ...Option) (*Provider, error) {
	if backend == "" {
		return nil, errors.New("anyllm: backend must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}

	p := &Provider{name: strings.ToLower(backend), model: model}
	for _, o := range opts {
		o(p)
	}

	b, err := createBackend(p.name, p.libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backend, err)
	}
	p.backend = b
	return p, nil
}

// createBackend creates the underlying any-llm-go provider for name.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch name {
	case BackendAnthropic:
		return anthropic.New(opts...)
	case BackendGemini:
		return gemini.New(opts...)
	case BackendOllama:
		return ollama.New(opts...)
	case BackendDeepSeek:
		return deepseek.New(opts...)
	case BackendMistral:
		return mistral.New(opts...)
	case BackendGroq:
		return groq.New(opts...)
	case BackendLlamaCpp:
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: %s", name, strings.Join(Backends(), ", "))
	}
}

// Backend returns the backend name the provider was created with.
func (p *Provider) Backend() string { return p.name }

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("anyllm: %w", err)
	}
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, p.buildParams(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		var calls llm.ToolCallAccumulator
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			for i, tc := range choice.Delta.ToolCalls {
				calls.Add(i, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" {
				out.ToolCalls = calls.Calls()
			}
			if out.Text == "" && out.FinishReason == "" {
				continue
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := <-backendErrs; err != nil && ctx.Err() == nil {
			select {
			case ch <- llm.Chunk{FinishReason: llm.FinishError, Err: fmt.Errorf("anyllm %s: stream: %w", p.name, err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm %s: completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm %s: empty choices in response", p.name)
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Content: choice.Message.ContentString(),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// CountTokens implements llm.Provider with [llm.EstimateTokens].
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return llm.CapabilitiesFor(p.model)
}

// buildParams converts a CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}
	if temperature != 0 {
		params.Temperature = &temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = &maxTokens
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}

	return params
}

// convertMessage converts an llm.Message to anyllm.Message.
func convertMessage(m llm.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}
