package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// CalculateName is the tool name of [Calculate].
const CalculateName = "calculate"

type calculateArgs struct {
	A         *float64 `json:"a"`
	B         *float64 `json:"b"`
	Operation string   `json:"operation"`
}

type calculateResult struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

var operators = map[string]string{
	"add":      "+",
	"subtract": "-",
	"multiply": "*",
	"divide":   "/",
	"power":    "^",
	"modulo":   "%",
}

// Calculate returns the "calculate" tool, which applies one arithmetic
// operation to two operands.
func Calculate() Tool {
	return Tool{
		Definition: llm.ToolDefinition{
			Name:        CalculateName,
			Description: "Performs one arithmetic operation on two numbers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "number", "description": "Left operand."},
					"b": map[string]any{"type": "number", "description": "Right operand."},
					"operation": map[string]any{
						"type": "string",
						"enum": []string{"add", "subtract", "multiply", "divide", "power", "modulo"},
					},
				},
				"required": []string{"a", "b", "operation"},
			},
		},
		Handler: calculateHandler,
	}
}

func calculateHandler(_ context.Context, args string) (string, error) {
	var a calculateArgs
	if err := decodeArgs(CalculateName, args, &a); err != nil {
		return "", err
	}
	if a.A == nil || a.B == nil {
		return "", fmt.Errorf("%s: operands a and b are required", CalculateName)
	}
	res, err := apply(a.Operation, *a.A, *a.B)
	if err != nil {
		return "", err
	}
	return encodeResult(CalculateName, calculateResult{
		Expression: fmt.Sprintf("%s %s %s", formatNum(*a.A), operators[a.Operation], formatNum(*a.B)),
		Result:     res,
	})
}

func apply(op string, a, b float64) (float64, error) {
	var r float64
	switch op {
	case "add":
		r = a + b
	case "subtract":
		r = a - b
	case "multiply":
		r = a * b
	case "divide":
		if b == 0 {
			return 0, fmt.Errorf("%s: division by zero", CalculateName)
		}
		r = a / b
	case "power":
		r = math.Pow(a, b)
	case "modulo":
		if b == 0 {
			return 0, fmt.Errorf("%s: modulo by zero", CalculateName)
		}
		r = math.Mod(a, b)
	default:
		return 0, fmt.Errorf("%s: unknown operation %q", CalculateName, op)
	}
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return 0, fmt.Errorf("%s: result is not a finite number", CalculateName)
	}
	return r, nil
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
