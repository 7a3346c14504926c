package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	Role    string
	Content string

	// Name is the tool name on RoleTool messages.
	Name string

	// ToolCalls is set on assistant messages that invoke tools.
	ToolCalls []ToolCall

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string
}

// UserMessage returns a user turn.
func UserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantMessage returns an assistant turn. calls may be nil.
func AssistantMessage(text string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolResult returns the message answering call with result.
func ToolResult(call ToolCall, result string) Message {
	return Message{Role: RoleTool, Content: result, ToolCallID: call.ID, Name: call.Name}
}

// Empty reports whether m carries neither text nor tool calls.
func (m Message) Empty() bool { return m.Content == "" && len(m.ToolCalls) == 0 }

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string

	// Arguments is the raw JSON object the model produced.
	Arguments string
}

// ToolDefinition offers a function to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object.
	Parameters map[string]any
}

// ModelCapabilities is static metadata about a model.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int

	SupportsToolCalling bool
	SupportsStreaming   bool

	// EmitsReasoning is set for models that interleave <think> blocks with
	// the answer (DeepSeek-R1 and its distillations).
	EmitsReasoning bool
}
