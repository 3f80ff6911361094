package toolregistry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// calculateTool evaluates a tiny "a <op> b" arithmetic expression, mirroring
// spec.md §8 scenario 2's tool_call example. Supported operators: + - * /.
func calculateTool(_ context.Context, args map[string]string) (any, error) {
	expr, ok := args["expression"]
	if !ok {
		return nil, fmt.Errorf("calculate: missing %q argument", "expression")
	}
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return nil, fmt.Errorf("calculate: expected \"a op b\", got %q", expr)
	}
	a, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, fmt.Errorf("calculate: bad operand %q: %w", fields[0], err)
	}
	b, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, fmt.Errorf("calculate: bad operand %q: %w", fields[2], err)
	}
	switch fields[1] {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, fmt.Errorf("calculate: division by zero")
		}
		return a / b, nil
	default:
		return nil, fmt.Errorf("calculate: unsupported operator %q", fields[1])
	}
}

// echoTool returns its arguments unchanged as a map, used by the tool_call
// output-binding tests since it has no side effects and no failure modes of
// its own.
func echoTool(_ context.Context, args map[string]string) (any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out, nil
}
