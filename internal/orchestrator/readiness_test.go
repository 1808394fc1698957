package orchestrator

import (
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
)

func newTestRun() *domain.FlowRun {
	return &domain.FlowRun{
		RunID:         uuid.New(),
		FlowName:      "f",
		Status:        domain.RunStatusRunning,
		EmittedEvents: make(map[string]bool),
		StepStatuses:  make(map[string]domain.StepRunStatus),
	}
}

func TestStepReady_BareTokenSatisfiedByEmit(t *testing.T) {
	run := newTestRun()
	step := &domain.StepMeta{Name: "s2", Subscribes: []string{"go"}}

	if StepReady(step, run) {
		t.Fatal("expected step not ready before emit")
	}
	run.EmittedEvents["go"] = true
	if !StepReady(step, run) {
		t.Fatal("expected step ready after its subscribed token is emitted")
	}
}

func TestStepReady_StepPrefixSatisfiedByCompletedStep(t *testing.T) {
	run := newTestRun()
	step := &domain.StepMeta{Name: "s2", Subscribes: []string{"step:s1"}}

	if StepReady(step, run) {
		t.Fatal("expected step not ready before s1 completes")
	}

	run.StepStatuses["s1"] = domain.StepRunStatusDispatched
	if StepReady(step, run) {
		t.Fatal("dispatched (not completed) must not satisfy step: token")
	}

	run.StepStatuses["s1"] = domain.StepRunStatusCompleted
	if !StepReady(step, run) {
		t.Fatal("expected step ready once s1 is completed")
	}
}

func TestStepReady_StepPrefixNotSatisfiedByBareEmit(t *testing.T) {
	// step:<name> form must check completedSteps, never emittedEvents, even
	// if a literal event named "s1" happens to be emitted.
	run := newTestRun()
	run.EmittedEvents["s1"] = true
	step := &domain.StepMeta{Name: "s2", Subscribes: []string{"step:s1"}}

	if StepReady(step, run) {
		t.Fatal("step: token must not be satisfied by an emitted event of the same literal name")
	}
}

func TestStepReady_QueueAndWorkerFormsCheckedAgainstEmittedEventsOnly(t *testing.T) {
	// queue:/worker: forms are matched at runtime only as literal text against
	// emittedEvents — the analyzer's resolved step set plays no role here.
	run := newTestRun()
	step := &domain.StepMeta{Name: "s2", Subscribes: []string{"queue:jobs", "worker:w1"}}

	if StepReady(step, run) {
		t.Fatal("expected not ready with no matching literal tokens emitted")
	}
	run.EmittedEvents["queue:jobs"] = true
	run.EmittedEvents["worker:w1"] = true
	if !StepReady(step, run) {
		t.Fatal("expected ready once literal tokens appear in emittedEvents")
	}
}

func TestStepReady_MultipleTokensAllRequired(t *testing.T) {
	run := newTestRun()
	step := &domain.StepMeta{Name: "s4", Subscribes: []string{"step:s2", "step:s3"}}

	run.StepStatuses["s2"] = domain.StepRunStatusCompleted
	if StepReady(step, run) {
		t.Fatal("expected not ready until both s2 and s3 complete")
	}
	run.StepStatuses["s3"] = domain.StepRunStatusCompleted
	if !StepReady(step, run) {
		t.Fatal("expected ready once both s2 and s3 complete")
	}
}

func TestStepReady_NoSubscribesAlwaysReady(t *testing.T) {
	run := newTestRun()
	step := &domain.StepMeta{Name: "entry"}
	if !StepReady(step, run) {
		t.Fatal("a step with no subscribe tokens has nothing to wait on")
	}
}

func TestStepReady_MissingEmitterRewrittenToEntryDependencyByAnalyzer(t *testing.T) {
	// engine.BuildAnalyzedFlow rewrites an unresolved subscribe token to
	// "step:<entry>" so the step dispatches once entry completes — this
	// asserts the runtime side of that contract holds given such a rewrite.
	run := newTestRun()
	step := &domain.StepMeta{Name: "orphan", Subscribes: []string{"step:entry"}}

	if StepReady(step, run) {
		t.Fatal("expected not ready before entry completes")
	}
	run.StepStatuses["entry"] = domain.StepRunStatusCompleted
	if !StepReady(step, run) {
		t.Fatal("expected ready once entry completes")
	}
}
