package handler

import (
	"context"
	"testing"
)

func TestNew_DefaultConfig(t *testing.T) {
	r := New(Config{Queues: []string{"default"}})

	if r.prefetch != defaultPrefetch {
		t.Errorf("expected default prefetch %d, got %d", defaultPrefetch, r.prefetch)
	}
	if r.registry == nil {
		t.Error("registry should be initialized")
	}
	if len(r.queues) != 1 || r.queues[0] != "default" {
		t.Errorf("expected queues [default], got %v", r.queues)
	}
}

func TestNew_CustomRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("custom.echo", HandlerFunc(func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}))

	r := New(Config{Registry: reg})
	if !r.registry.Has("custom.echo") {
		t.Error("runner should use the supplied registry")
	}
}

func TestNew_CustomPrefetch(t *testing.T) {
	r := New(Config{Prefetch: 42})
	if r.prefetch != 42 {
		t.Errorf("expected prefetch 42, got %d", r.prefetch)
	}
}
