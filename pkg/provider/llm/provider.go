// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (an OpenAI-compatible
// endpoint such as Ollama, or a hosted service reached through any-llm-go)
// and exposes a uniform interface for streaming completions, token estimates
// and model capability lookups.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []Message

	// Tools is the set of function definitions offered to the model. An empty
	// slice means the request carries no tool schema at all.
	Tools []ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// selects the provider's configured temperature.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the provider
	// default.
	MaxTokens int

	// SystemPrompt is sent as a leading "system"-role message.
	SystemPrompt string
}

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, a finish signal, tool calls, an error, or a combination.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", "tool_calls"
	// or "error".
	FinishReason string

	// ToolCalls contains the complete tool invocations requested by the model.
	// Fragments are accumulated by the provider and emitted once, on the
	// finishing chunk.
	ToolCalls []ToolCall

	// Err is set when the stream failed after it was opened. It is always the
	// last chunk on the channel and has FinishReason "error".
	Err error
}

// FinishError is the FinishReason of a chunk carrying Err.
const FinishError = "error"

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model.
	ToolCalls []ToolCall

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel of chunks.
	// The channel is closed when generation finishes or ctx is cancelled.
	// The initial error is non-nil only for failures that prevent the stream
	// from starting; later failures arrive as a chunk with Err set.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens messages would consume in the
	// model's context window. It should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing the configured model.
	Capabilities() ModelCapabilities
}
