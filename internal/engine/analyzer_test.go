package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/nvent/internal/domain"
)

func entryManifest(step string) domain.WorkerManifest {
	return domain.WorkerManifest{Step: step, Role: "entry", Queue: "q." + step, WorkerID: "w." + step}
}

func stepManifest(step string, subscribes, emits []string) domain.WorkerManifest {
	return domain.WorkerManifest{Step: step, Role: "step", Queue: "q." + step, WorkerID: "w." + step, Subscribes: subscribes, Emits: emits}
}

func TestBuildAnalyzedFlow_LinearChain(t *testing.T) {
	manifests := []domain.WorkerManifest{
		func() domain.WorkerManifest {
			m := entryManifest("s1")
			m.Emits = []string{"done1"}
			return m
		}(),
		stepManifest("s2", []string{"done1"}, nil),
	}

	flow, err := BuildAnalyzedFlow("linear", manifests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Entry.Step != "s1" {
		t.Fatalf("expected entry s1, got %s", flow.Entry.Step)
	}
	s2 := flow.Steps["s2"]
	if len(s2.DependsOn) != 1 || s2.DependsOn[0] != "s1" {
		t.Fatalf("expected s2 to depend on s1, got %v", s2.DependsOn)
	}
	if s2.Level != 1 {
		t.Fatalf("expected s2 level 1, got %d", s2.Level)
	}
	if flow.MaxLevel != 1 {
		t.Fatalf("expected maxLevel 1, got %d", flow.MaxLevel)
	}
}

func TestBuildAnalyzedFlow_StepPrefixForm(t *testing.T) {
	manifests := []domain.WorkerManifest{
		entryManifest("s1"),
		stepManifest("s2", []string{"step:s1"}, nil),
	}
	flow, err := BuildAnalyzedFlow("step-form", manifests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := flow.Steps["s2"].DependsOn; len(got) != 1 || got[0] != "s1" {
		t.Fatalf("expected step: form to resolve to s1, got %v", got)
	}
}

func TestBuildAnalyzedFlow_QueueAndWorkerForms(t *testing.T) {
	manifests := []domain.WorkerManifest{
		entryManifest("s1"),
		{Step: "s2", Role: "step", Queue: "shared-queue", WorkerID: "shared-worker"},
		stepManifest("s3", []string{"queue:shared-queue"}, nil),
		stepManifest("s4", []string{"worker:shared-worker"}, nil),
	}
	flow, err := BuildAnalyzedFlow("forms", manifests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := flow.Steps["s3"].DependsOn; len(got) != 1 || got[0] != "s2" {
		t.Fatalf("expected queue: form to resolve to s2, got %v", got)
	}
	if got := flow.Steps["s4"].DependsOn; len(got) != 1 || got[0] != "s2" {
		t.Fatalf("expected worker: form to resolve to s2, got %v", got)
	}
}

func TestBuildAnalyzedFlow_MissingEmitterDependsOnEntry(t *testing.T) {
	manifests := []domain.WorkerManifest{
		entryManifest("s1"),
		stepManifest("s2", []string{"nonexistent"}, nil),
	}
	flow, err := BuildAnalyzedFlow("missing-emitter", manifests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2 := flow.Steps["s2"]
	if len(s2.DependsOn) != 1 || s2.DependsOn[0] != "s1" {
		t.Fatalf("expected implicit dependency on entry, got %v", s2.DependsOn)
	}
	if s2.Level != 1 {
		t.Fatalf("expected level 1, got %d", s2.Level)
	}
}

func TestBuildAnalyzedFlow_ParallelFanOut(t *testing.T) {
	manifests := []domain.WorkerManifest{
		func() domain.WorkerManifest {
			m := entryManifest("entry")
			m.Emits = []string{"go"}
			return m
		}(),
		stepManifest("s2", []string{"go"}, nil),
		stepManifest("s3", []string{"go"}, nil),
		stepManifest("s4", []string{"step:s2", "step:s3"}, nil),
	}
	flow, err := BuildAnalyzedFlow("fanout", manifests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Steps["s2"].Level != 1 || flow.Steps["s3"].Level != 1 {
		t.Fatalf("expected s2 and s3 at level 1, got %d and %d", flow.Steps["s2"].Level, flow.Steps["s3"].Level)
	}
	if flow.Steps["s4"].Level != 2 {
		t.Fatalf("expected s4 at level 2, got %d", flow.Steps["s4"].Level)
	}
	deps := flow.Steps["s4"].DependsOn
	if len(deps) != 2 {
		t.Fatalf("expected s4 to depend on both s2 and s3, got %v", deps)
	}
}

func TestBuildAnalyzedFlow_CycleMarksSuspectAndLevelZero(t *testing.T) {
	manifests := []domain.WorkerManifest{
		entryManifest("entry"),
		stepManifest("a", []string{"step:b"}, nil),
		stepManifest("b", []string{"step:a"}, nil),
	}
	flow, err := BuildAnalyzedFlow("cyclic", manifests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, b := flow.Steps["a"], flow.Steps["b"]
	if !a.Suspect && !b.Suspect {
		t.Fatal("expected at least one step in the cycle to be marked suspect")
	}
	if (a.Suspect && a.Level != 0) || (b.Suspect && b.Level != 0) {
		t.Fatal("expected the cyclic step to be assigned level 0")
	}
}

func TestBuildAnalyzedFlow_NoEntry(t *testing.T) {
	manifests := []domain.WorkerManifest{
		stepManifest("s1", nil, nil),
	}
	_, err := BuildAnalyzedFlow("no-entry", manifests)
	if !errors.Is(err, ErrNoEntry) {
		t.Fatalf("expected ErrNoEntry, got %v", err)
	}
}

func TestBuildAnalyzedFlow_MultipleEntries(t *testing.T) {
	manifests := []domain.WorkerManifest{
		entryManifest("s1"),
		entryManifest("s2"),
	}
	_, err := BuildAnalyzedFlow("dup-entry", manifests)
	if !errors.Is(err, ErrMultipleEntries) {
		t.Fatalf("expected ErrMultipleEntries, got %v", err)
	}
}

func TestBuildAnalyzedFlow_DeterministicAcrossInputOrder(t *testing.T) {
	base := []domain.WorkerManifest{
		entryManifest("s1"),
		stepManifest("s2", []string{"step:s1"}, nil),
		stepManifest("s3", []string{"step:s2"}, nil),
	}
	reversed := []domain.WorkerManifest{base[2], base[1], base[0]}

	flowA, err := BuildAnalyzedFlow("det", base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flowB, err := BuildAnalyzedFlow("det", reversed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flowA.MaxLevel != flowB.MaxLevel {
		t.Fatalf("expected identical maxLevel regardless of input order, got %d vs %d", flowA.MaxLevel, flowB.MaxLevel)
	}
	for name, s := range flowA.Steps {
		other := flowB.Steps[name]
		if s.Level != other.Level {
			t.Fatalf("level mismatch for %s: %d vs %d", name, s.Level, other.Level)
		}
	}
}
