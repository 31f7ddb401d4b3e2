// internal/executors/args.go
package executors

import (
	"fmt"

	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
)

// Argument coercion shared by the domain executors. Model-produced arguments
// arrive as decoded JSON, so numbers are float64 and everything needs a type
// check before use. Failures are Validation-classified so the loop never
// retries them.

func stringArg(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q: %w", name, retrypolicy.ErrInvalidArgument)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T: %w", name, v, retrypolicy.ErrInvalidArgument)
	}
	return s, nil
}

func optStringArg(args map[string]interface{}, name, fallback string) (string, error) {
	v, ok := args[name]
	if !ok {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T: %w", name, v, retrypolicy.ErrInvalidArgument)
	}
	return s, nil
}

func floatArg(args map[string]interface{}, name string, fallback float64) (float64, error) {
	v, ok := args[name]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("argument %q must be a number, got %T: %w", name, v, retrypolicy.ErrInvalidArgument)
	}
}

func boolArg(args map[string]interface{}, name string, fallback bool) (bool, error) {
	v, ok := args[name]
	if !ok {
		return fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("argument %q must be a boolean, got %T: %w", name, v, retrypolicy.ErrInvalidArgument)
	}
	return b, nil
}

func stringSliceArg(args map[string]interface{}, name string) ([]string, error) {
	v, ok := args[name]
	if !ok {
		return nil, fmt.Errorf("missing argument %q: %w", name, retrypolicy.ErrInvalidArgument)
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %q must be an array of strings, got %T: %w", name, v, retrypolicy.ErrInvalidArgument)
	}
	out := make([]string, 0, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q[%d] must be a string, got %T: %w", name, i, item, retrypolicy.ErrInvalidArgument)
		}
		out = append(out, s)
	}
	return out, nil
}
