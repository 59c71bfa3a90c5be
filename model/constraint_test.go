package model

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
)

func defOf(key string, vt ValueType) ConstraintDefinition {
	return ConstraintDefinition{Key: key, Label: key, ValueType: vt}
}

func TestValidateConstraintValue_boolean(t *testing.T) {
	def := defOf("visitors:overnight:allowed", TypeBoolean)

	got, err := ValidateConstraintValue(def, true)
	if err != nil {
		t.Fatalf("ValidateConstraintValue(true) error = %v", err)
	}
	if got != true {
		t.Errorf("got %v, want true", got)
	}

	for _, bad := range []any{"true", 1, nil, []any{true}} {
		if _, err := ValidateConstraintValue(def, bad); err == nil {
			t.Errorf("ValidateConstraintValue(%v) expected error", bad)
		}
	}
}

func TestValidateConstraintValue_number(t *testing.T) {
	def := defOf("visitors:export:max_records", TypeNumber)

	got, err := ValidateConstraintValue(def, float64(500))
	if err != nil {
		t.Fatalf("ValidateConstraintValue(500) error = %v", err)
	}
	if got != float64(500) {
		t.Errorf("got %v, want 500", got)
	}

	// YAML decoding hands over int, not float64.
	got, err = ValidateConstraintValue(def, 250)
	if err != nil {
		t.Fatalf("ValidateConstraintValue(int 250) error = %v", err)
	}
	if got != float64(250) {
		t.Errorf("got %v, want 250", got)
	}

	for _, bad := range []any{"notanumber", math.NaN(), math.Inf(1), nil, true} {
		if _, err := ValidateConstraintValue(def, bad); err == nil {
			t.Errorf("ValidateConstraintValue(%v) expected error", bad)
		}
	}
}

func TestValidateConstraintValue_string(t *testing.T) {
	def := defOf("rooms:allocation:note_prefix", TypeString)

	got, err := ValidateConstraintValue(def, "")
	if err != nil {
		t.Fatalf("empty string should be accepted, got error %v", err)
	}
	if got != "" {
		t.Errorf("got %v, want empty string", got)
	}

	if _, err := ValidateConstraintValue(def, 42); err == nil {
		t.Error("ValidateConstraintValue(42) expected error")
	}
}

func TestValidateConstraintValue_string_array(t *testing.T) {
	def := defOf("hostels:blocks:allowed", TypeStringArray)

	got, err := ValidateConstraintValue(def, []any{"A", "B"})
	if err != nil {
		t.Fatalf("ValidateConstraintValue error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("got %v, want [A B]", got)
	}

	_, err = ValidateConstraintValue(def, []any{"x", float64(2)})
	if err == nil {
		t.Fatal("mixed array should be rejected")
	}
	ee, ok := err.(*ErrorEnvelope)
	if !ok || ee.Code != ErrInvalidConstraintValue {
		t.Fatalf("error = %v, want INVALID_CONSTRAINT_VALUE envelope", err)
	}
	// The failing index is named in the details.
	if len(ee.Details) != 1 || ee.Details[0].Message == "" {
		t.Fatalf("Details = %+v, want offending element message", ee.Details)
	}
}

func TestValidateConstraintValue_number_array(t *testing.T) {
	def := defOf("security:shift:hours", TypeNumberArray)

	got, err := ValidateConstraintValue(def, []any{float64(6), 14, float64(22)})
	if err != nil {
		t.Fatalf("ValidateConstraintValue error = %v", err)
	}
	if !reflect.DeepEqual(got, []float64{6, 14, 22}) {
		t.Errorf("got %v, want [6 14 22]", got)
	}

	if _, err := ValidateConstraintValue(def, []any{float64(6), "x"}); err == nil {
		t.Error("array with string element should be rejected")
	}
	if _, err := ValidateConstraintValue(def, []any{math.Inf(-1)}); err == nil {
		t.Error("array with infinite element should be rejected")
	}
}

func TestValidateConstraintValue_object(t *testing.T) {
	def := defOf("visitors:badge:layout", TypeObject)

	in := map[string]any{"columns": float64(2)}
	got, err := ValidateConstraintValue(def, in)
	if err != nil {
		t.Fatalf("ValidateConstraintValue error = %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Errorf("got %v, want %v", got, in)
	}

	for _, bad := range []any{nil, []any{"a"}, "x", float64(1)} {
		if _, err := ValidateConstraintValue(def, bad); err == nil {
			t.Errorf("ValidateConstraintValue(%v) expected error", bad)
		}
	}
}

func TestValidateConstraintValue_any(t *testing.T) {
	def := defOf("settings:experimental", TypeAny)

	// Structured input passes through.
	in := map[string]any{"flag": true}
	got, err := ValidateConstraintValue(def, in)
	if err != nil {
		t.Fatalf("ValidateConstraintValue error = %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Errorf("got %v, want %v", got, in)
	}

	// A JSON string is unwrapped.
	got, err = ValidateConstraintValue(def, `{"a":1}`)
	if err != nil {
		t.Fatalf("ValidateConstraintValue error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"a": float64(1)}) {
		t.Errorf("got %v, want parsed object", got)
	}

	// Malformed input degrades to the opaque string, never errors.
	got, err = ValidateConstraintValue(def, "{not json")
	if err != nil {
		t.Fatalf("any type must not error, got %v", err)
	}
	if got != "{not json" {
		t.Errorf("got %v, want opaque string", got)
	}
}

// Round-trip: a valid value survives JSON serialization and re-validation
// unchanged, for every value type.
func TestValidateConstraintValue_round_trip(t *testing.T) {
	cases := []struct {
		vt    ValueType
		value any
	}{
		{TypeBoolean, true},
		{TypeNumber, float64(42)},
		{TypeString, "block-a"},
		{TypeStringArray, []string{"A", "C"}},
		{TypeNumberArray, []float64{1, 2, 3}},
		{TypeObject, map[string]any{"max": float64(4)}},
	}
	for _, tc := range cases {
		t.Run(string(tc.vt), func(t *testing.T) {
			def := defOf("k", tc.vt)
			typed, err := ValidateConstraintValue(def, tc.value)
			if err != nil {
				t.Fatalf("first validation error = %v", err)
			}

			data, err := json.Marshal(typed)
			if err != nil {
				t.Fatalf("marshal error = %v", err)
			}
			var raw any
			if err := json.Unmarshal(data, &raw); err != nil {
				t.Fatalf("unmarshal error = %v", err)
			}

			again, err := ValidateConstraintValue(def, raw)
			if err != nil {
				t.Fatalf("re-validation error = %v", err)
			}
			if !reflect.DeepEqual(typed, again) {
				t.Errorf("round trip changed value: %v != %v", typed, again)
			}
		})
	}
}

func TestValidateConstraintValue_unsupported_type(t *testing.T) {
	def := ConstraintDefinition{Key: "k", ValueType: ValueType("tuple")}
	if _, err := ValidateConstraintValue(def, "x"); err == nil {
		t.Error("unsupported declared type should be rejected")
	}
}
