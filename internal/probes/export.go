package probes

import "fmt"

// toFloats coerces an exported script value into a sample slice. Backends
// export numbers as float64 or int64 depending on the value, so both are
// accepted.
func toFloats(v any) ([]float64, error) {
	raw, ok := v.([]any)
	if !ok {
		if direct, ok := v.([]float64); ok {
			return direct, nil
		}
		return nil, fmt.Errorf("expected numeric array, got %T", v)
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		f, err := toFloat(item)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// toStrings coerces an exported script value into a string slice.
func toStrings(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		if direct, ok := v.([]string); ok {
			return direct, nil
		}
		return nil, fmt.Errorf("expected string array, got %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}
