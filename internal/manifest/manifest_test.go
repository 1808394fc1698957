package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/orchestrator"
)

func writeManifest(t *testing.T, workers []domain.WorkerManifest) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	raw, err := json.Marshal(Document{Workers: workers})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func sampleWorkers() []domain.WorkerManifest {
	return []domain.WorkerManifest{
		{FlowNames: []string{"onboarding"}, Role: "entry", Step: "start", Queue: "entry", WorkerID: "onboarding.start"},
		{FlowNames: []string{"onboarding"}, Role: "step", Step: "send_email", Queue: "email", WorkerID: "http.request", Subscribes: []string{"step:start"}},
		{FlowNames: []string{"onboarding"}, Role: "step", Step: "wait_confirm", Queue: "email", WorkerID: "delay", Subscribes: []string{"step:send_email"}},
	}
}

func TestLoad(t *testing.T) {
	path := writeManifest(t, sampleWorkers())

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Workers) != 3 {
		t.Errorf("expected 3 workers, got %d", len(doc.Workers))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/manifest.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_Empty(t *testing.T) {
	path := writeManifest(t, nil)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for manifest with no workers")
	}
}

func TestDocument_Queues(t *testing.T) {
	doc := &Document{Workers: sampleWorkers()}
	queues := doc.Queues()
	if len(queues) != 2 {
		t.Fatalf("expected 2 distinct queues, got %v", queues)
	}
	if queues[0] != "email" || queues[1] != "entry" {
		t.Errorf("expected sorted [email entry], got %v", queues)
	}
}

func TestDocument_Hydrate(t *testing.T) {
	doc := &Document{Workers: sampleWorkers()}
	registry := orchestrator.NewRegistry()

	if err := doc.Hydrate(registry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	flow, ok := registry.GetFlow("onboarding")
	if !ok {
		t.Fatal("expected onboarding flow to be registered")
	}
	if flow.StepCount() != 3 {
		t.Errorf("expected 3 steps (including entry), got %d", flow.StepCount())
	}
}
