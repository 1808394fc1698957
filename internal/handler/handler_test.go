package handler

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if len(r.WorkerIDs()) != 0 {
		t.Errorf("expected empty registry")
	}

	r.Register("custom.echo", HandlerFunc(func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}))
	if len(r.WorkerIDs()) != 1 {
		t.Errorf("expected 1 worker, got %d", len(r.WorkerIDs()))
	}

	h, err := r.Get("custom.echo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := h.Run(context.Background(), map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["a"] != 1 {
		t.Errorf("expected echoed input, got %v", out)
	}

	_, err = r.Get("unknown")
	if !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got %v", err)
	}

	if !r.Has("custom.echo") {
		t.Error("should have custom.echo")
	}
	if r.Has("unknown") {
		t.Error("should not have unknown")
	}

	r.Unregister("custom.echo")
	if r.Has("custom.echo") {
		t.Error("should not have custom.echo after unregister")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	expected := []string{WorkerIDDelay, WorkerIDHTTP, WorkerIDTransform}
	for _, id := range expected {
		if !r.Has(id) {
			t.Errorf("default registry should have %s", id)
		}
	}

	ids := r.WorkerIDs()
	if len(ids) != len(expected) {
		t.Errorf("expected %d workers, got %d", len(expected), len(ids))
	}
}
