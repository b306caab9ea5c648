package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

func requireString(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParameter, key)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidParameter, key)
	}
	return s, nil
}

func requireInt(params map[string]any, key string) (int64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameter, key)
	}
	n, ok := ToInt64(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParameter, key, raw)
	}
	return n, nil
}

func optionalBool(params map[string]any, key string, def bool) (bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameter, key)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidParameter, key, raw)
	}
}

// numeric converts Go and JSON number kinds to float64. Strings are not numbers here.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ToFloat64 converts numbers and numeric strings to float64.
func ToFloat64(v any) (float64, bool) {
	if f, ok := numeric(v); ok {
		return f, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ToInt64 converts integral numbers and integer strings to int64.
// Fractional values are rejected.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	f, ok := numeric(v)
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if !ok || f != math.Trunc(f) || f >= 0x1p63 || f < -0x1p63 {
		return 0, false
	}
	return int64(f), true
}
