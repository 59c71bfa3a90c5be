package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// ValidateConstraintValue converts an untyped override value into the
// declared ValueType of def, returning the canonical typed value. It rejects
// malformed input with an INVALID_CONSTRAINT_VALUE error before the value can
// reach the merge engine.
//
// The function is pure. It runs both when the admin editor stages a change
// and again when the override store persists it; the persistence boundary
// never skips it, even for input a caller claims to have validated.
func ValidateConstraintValue(def ConstraintDefinition, raw any) (any, error) {
	switch def.ValueType {
	case TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, NewInvalidConstraintValueError(def.Key, TypeBoolean,
				fmt.Sprintf("got %s, want true or false", describeValue(raw)))
		}
		return b, nil

	case TypeNumber:
		n, ok := toFiniteNumber(raw)
		if !ok {
			return nil, NewInvalidConstraintValueError(def.Key, TypeNumber,
				fmt.Sprintf("got %s, want a finite number", describeValue(raw)))
		}
		return n, nil

	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, NewInvalidConstraintValueError(def.Key, TypeString,
				fmt.Sprintf("got %s, want a string", describeValue(raw)))
		}
		return s, nil

	case TypeStringArray:
		items, ok := toSlice(raw)
		if !ok {
			return nil, NewInvalidConstraintValueError(def.Key, TypeStringArray,
				fmt.Sprintf("got %s, want an array of strings", describeValue(raw)))
		}
		out := make([]string, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, NewInvalidConstraintValueError(def.Key, TypeStringArray,
					fmt.Sprintf("element %d is %s, want a string", i, describeValue(item)))
			}
			out[i] = s
		}
		return out, nil

	case TypeNumberArray:
		items, ok := toSlice(raw)
		if !ok {
			return nil, NewInvalidConstraintValueError(def.Key, TypeNumberArray,
				fmt.Sprintf("got %s, want an array of numbers", describeValue(raw)))
		}
		out := make([]float64, len(items))
		for i, item := range items {
			n, ok := toFiniteNumber(item)
			if !ok {
				return nil, NewInvalidConstraintValueError(def.Key, TypeNumberArray,
					fmt.Sprintf("element %d is %s, want a finite number", i, describeValue(item)))
			}
			out[i] = n
		}
		return out, nil

	case TypeObject:
		m, ok := toObject(raw)
		if !ok {
			return nil, NewInvalidConstraintValueError(def.Key, TypeObject,
				fmt.Sprintf("got %s, want a keyed object", describeValue(raw)))
		}
		return m, nil

	case TypeAny:
		// The one permissive type. A string that holds well-formed JSON is
		// unwrapped; anything else passes through as-is, so malformed input
		// degrades to an opaque string instead of erroring.
		if s, ok := raw.(string); ok {
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				return parsed, nil
			}
			return s, nil
		}
		return raw, nil

	default:
		return nil, NewInvalidConstraintValueError(def.Key, def.ValueType,
			fmt.Sprintf("constraint definition declares unsupported type %q", def.ValueType))
	}
}

// toFiniteNumber normalizes the numeric representations produced by
// encoding/json and yaml.v3 into a float64, rejecting NaN and infinities.
func toFiniteNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toSlice accepts the slice shapes JSON and YAML decoding produce.
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// toObject accepts a non-nil keyed structure and rejects arrays and
// primitives.
func toObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return nil, false
	}
	return m, true
}

// describeValue renders a short type description for error messages.
func describeValue(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case string:
		return "a string"
	case float64, float32, int, int32, int64, uint, uint64, json.Number:
		return "a number"
	case []any, []string, []float64:
		return "an array"
	case map[string]any:
		return "an object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
