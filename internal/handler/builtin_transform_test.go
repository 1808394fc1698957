package handler

import (
	"context"
	"testing"
)

func TestTransformHandler_Run(t *testing.T) {
	h := NewTransformHandler()

	out, err := h.Run(context.Background(), map[string]any{
		"count": 2,
		"name":  "widgets",
		"mappings": map[string]any{
			"total": "{{ .Inputs.count }}",
			"label": "{{ .Inputs.name }}",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out["total"] != int64(2) {
		t.Errorf("expected total 2, got %v (%T)", out["total"], out["total"])
	}
	if out["label"] != "widgets" {
		t.Errorf("expected label widgets, got %v", out["label"])
	}
}

func TestTransformHandler_NoMappings(t *testing.T) {
	h := NewTransformHandler()
	out, err := h.Run(context.Background(), map[string]any{"count": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty outputs, got %v", out)
	}
}

func TestParseTransformValue(t *testing.T) {
	cases := map[string]any{
		"42":            int64(42),
		"3.14":          3.14,
		"true":          true,
		"false":         false,
		"hello":         "hello",
		`{"a":1}`:       map[string]any{"a": float64(1)},
		`[1,2,3]`:       []any{float64(1), float64(2), float64(3)},
	}
	for input, want := range cases {
		got := parseTransformValue(input)
		switch w := want.(type) {
		case map[string]any:
			g, ok := got.(map[string]any)
			if !ok || len(g) != len(w) {
				t.Errorf("parseTransformValue(%q) = %v (%T), want map", input, got, got)
			}
		case []any:
			g, ok := got.([]any)
			if !ok || len(g) != len(w) {
				t.Errorf("parseTransformValue(%q) = %v (%T), want slice", input, got, got)
			}
		default:
			if got != want {
				t.Errorf("parseTransformValue(%q) = %v (%T), want %v (%T)", input, got, got, want, want)
			}
		}
	}
}
