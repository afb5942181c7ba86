// Package agents holds helpers shared by the device agent packages,
// mainly parameter extraction from the loosely-typed maps that arrive
// through the control API.
package agents

import (
	"fmt"
)

// Float extracts a numeric parameter. JSON numbers decode as float64,
// but int is accepted too for programmatic callers.
func Float(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("parameter %q: expected number, got %T", key, v)
}

// FloatDefault is Float with a fallback for absent keys.
func FloatDefault(params map[string]any, key string, def float64) (float64, error) {
	if _, ok := params[key]; !ok {
		return def, nil
	}
	return Float(params, key)
}

// Int extracts an integer parameter, rejecting fractional values.
func Int(params map[string]any, key string) (int, error) {
	f, err := Float(params, key)
	if err != nil {
		return 0, err
	}
	n := int(f)
	if float64(n) != f {
		return 0, fmt.Errorf("parameter %q: expected integer, got %v", key, f)
	}
	return n, nil
}

// IntDefault is Int with a fallback for absent keys.
func IntDefault(params map[string]any, key string, def int) (int, error) {
	if _, ok := params[key]; !ok {
		return def, nil
	}
	return Int(params, key)
}

// String extracts a string parameter.
func String(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q: expected string, got %T", key, v)
	}
	return s, nil
}

// Bool extracts a boolean parameter.
func Bool(params map[string]any, key string) (bool, error) {
	v, ok := params[key]
	if !ok {
		return false, fmt.Errorf("missing parameter %q", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q: expected bool, got %T", key, v)
	}
	return b, nil
}
