package orchestrator

import (
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
)

func testFlow(stepNames ...string) *domain.AnalyzedFlow {
	steps := make(map[string]*domain.StepMeta, len(stepNames))
	for _, n := range stepNames {
		steps[n] = &domain.StepMeta{Name: n}
	}
	return &domain.AnalyzedFlow{
		Name:  "f",
		Entry: domain.EntryMeta{Step: "entry"},
		Steps: steps,
	}
}

func stepEvent(typ domain.EventType, runID uuid.UUID, step string) domain.Event {
	return domain.Event{Type: typ, RunID: runID, StepName: step}
}

func TestAnalyzeCompletion_LinearFlowTerminatesOnlyWhenAllStepsDone(t *testing.T) {
	flow := testFlow("s1")
	runID := uuid.New()

	events := []domain.Event{stepEvent(domain.EventStepCompleted, runID, "entry")}
	state := AnalyzeCompletion(flow, events)
	if state.Terminal {
		t.Fatal("expected not terminal: s1 has not completed yet")
	}

	events = append(events, stepEvent(domain.EventStepCompleted, runID, "s1"))
	state = AnalyzeCompletion(flow, events)
	if !state.Terminal {
		t.Fatal("expected terminal once entry and s1 both completed")
	}
	if state.TerminalStatus != domain.RunStatusCompleted {
		t.Fatalf("expected completed status, got %s", state.TerminalStatus)
	}
}

func TestAnalyzeCompletion_FailedWinsOverCompleted(t *testing.T) {
	flow := testFlow("s1", "s2")
	runID := uuid.New()

	events := []domain.Event{
		stepEvent(domain.EventStepCompleted, runID, "entry"),
		stepEvent(domain.EventStepCompleted, runID, "s1"),
		stepEvent(domain.EventStepFailed, runID, "s2"),
	}
	state := AnalyzeCompletion(flow, events)
	if !state.Terminal {
		t.Fatal("expected terminal: every step has a completed or failed record")
	}
	if state.TerminalStatus != domain.RunStatusFailed {
		t.Fatalf("expected failed status to win over completed, got %s", state.TerminalStatus)
	}
}

func TestAnalyzeCompletion_ParallelFanOutRequiresAllBranches(t *testing.T) {
	// Flow D from the spec: entry emits go; s2/s3 subscribe go; s4 waits on both.
	flow := testFlow("s2", "s3", "s4")
	runID := uuid.New()

	events := []domain.Event{
		stepEvent(domain.EventStepCompleted, runID, "entry"),
		stepEvent(domain.EventStepCompleted, runID, "s2"),
	}
	if AnalyzeCompletion(flow, events).Terminal {
		t.Fatal("expected not terminal: s3 and s4 still outstanding")
	}

	events = append(events, stepEvent(domain.EventStepCompleted, runID, "s3"))
	if AnalyzeCompletion(flow, events).Terminal {
		t.Fatal("expected not terminal: s4 still outstanding")
	}

	events = append(events, stepEvent(domain.EventStepCompleted, runID, "s4"))
	state := AnalyzeCompletion(flow, events)
	if !state.Terminal || state.TerminalStatus != domain.RunStatusCompleted {
		t.Fatal("expected terminal+completed once all branches finish")
	}
}

func TestAnalyzeCompletion_EntryAloneSatisfiesSingleStepFlow(t *testing.T) {
	flow := testFlow()
	runID := uuid.New()

	events := []domain.Event{stepEvent(domain.EventStepCompleted, runID, "entry")}
	state := AnalyzeCompletion(flow, events)
	if !state.Terminal || state.TerminalStatus != domain.RunStatusCompleted {
		t.Fatal("expected terminal: a flow with only an entry step completes when entry completes")
	}
}

func TestHasTerminalEvent(t *testing.T) {
	runID := uuid.New()
	if HasTerminalEvent([]domain.Event{stepEvent(domain.EventStepCompleted, runID, "s1")}) {
		t.Fatal("step.completed is not a terminal run event")
	}
	if !HasTerminalEvent([]domain.Event{{Type: domain.EventFlowCompleted, RunID: runID}}) {
		t.Fatal("flow.completed must be recognized as a terminal event")
	}
	if !HasTerminalEvent([]domain.Event{{Type: domain.EventFlowCancel, RunID: runID}}) {
		t.Fatal("flow.cancel must be recognized as a terminal event")
	}
}
