// Package tools holds the built-in capabilities an assistant can be granted.
// Each tool carries its LLM-facing schema together with the in-process
// handler invoked when the model calls it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// Tool is a built-in tool ready to be offered to a language model.
type Tool struct {
	// Definition is the tool's LLM-facing schema including its name,
	// description, and JSON Schema parameters.
	Definition llm.ToolDefinition

	// Handler executes the tool with JSON-encoded args and returns a
	// JSON-encoded result string on success, or a descriptive error.
	// Implementations must be safe for concurrent use and must respect
	// context cancellation.
	Handler func(ctx context.Context, args string) (string, error)
}

// decodeArgs unmarshals a JSON argument object into dst. An empty string is
// treated as "{}" because some models omit arguments for parameterless calls.
func decodeArgs(tool, args string, dst any) error {
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), dst); err != nil {
		return fmt.Errorf("%s: failed to parse arguments: %w", tool, err)
	}
	return nil
}

func encodeResult(tool string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%s: failed to encode result: %w", tool, err)
	}
	return string(b), nil
}
