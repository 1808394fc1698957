package stall

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
)

type fakeFlows struct {
	ms map[string]int64
}

func (f fakeFlows) StallTimeoutMs(name string) (int64, bool) {
	ms, ok := f.ms[name]
	return ms, ok
}

func runAt(status domain.RunStatus, lastActivity time.Time) *domain.FlowRun {
	r := domain.NewFlowRun(uuid.New(), "demo", nil, 3)
	r.Status = status
	r.LastActivityAt = lastActivity
	return r
}

func TestEvaluate_RunningPastTimeoutWithNoAwaits(t *testing.T) {
	d := New(Config{Flows: fakeFlows{ms: map[string]int64{"demo": 1000}}})
	run := runAt(domain.RunStatusRunning, time.Now().Add(-2*time.Second))

	reason, stalled := d.evaluate(run, time.Now())
	if !stalled {
		t.Fatal("expected run to be marked stalled")
	}
	if reason != "Server restart — flow state lost" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestEvaluate_RunningWithinTimeoutNotStalled(t *testing.T) {
	d := New(Config{Flows: fakeFlows{ms: map[string]int64{"demo": time.Hour.Milliseconds()}}})
	run := runAt(domain.RunStatusRunning, time.Now().Add(-time.Second))

	_, stalled := d.evaluate(run, time.Now())
	if stalled {
		t.Fatal("run within stallTimeout should not be stalled")
	}
}

func TestEvaluate_AwaitingWithOverdueAwaitIsStalled(t *testing.T) {
	d := New(Config{})
	run := runAt(domain.RunStatusAwaiting, time.Now())
	past := time.Now().Add(-time.Minute)
	run.AwaitingSteps = map[string]*domain.AwaitEntry{
		"step-a": {Status: domain.AwaitStatusAwaiting, TimeoutAt: &past},
	}

	reason, stalled := d.evaluate(run, time.Now())
	if !stalled {
		t.Fatal("expected overdue await to be marked stalled")
	}
	if reason != "Await pattern timed out" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestEvaluate_AwaitingWithValidAwaitNotStalled(t *testing.T) {
	d := New(Config{})
	run := runAt(domain.RunStatusAwaiting, time.Now())
	future := time.Now().Add(time.Hour)
	run.AwaitingSteps = map[string]*domain.AwaitEntry{
		"step-a": {Status: domain.AwaitStatusAwaiting, TimeoutAt: &future},
	}

	_, stalled := d.evaluate(run, time.Now())
	if stalled {
		t.Fatal("run with a still-valid await should not be stalled")
	}
}

func TestEvaluate_TerminalRunNeverStalled(t *testing.T) {
	d := New(Config{})
	run := runAt(domain.RunStatusCompleted, time.Now().Add(-24*time.Hour))

	_, stalled := d.evaluate(run, time.Now())
	if stalled {
		t.Fatal("terminal run must never be marked stalled")
	}
}

func TestEvaluate_AlreadyStalledRunNotReevaluated(t *testing.T) {
	d := New(Config{})
	run := runAt(domain.RunStatusStalled, time.Now().Add(-24*time.Hour))

	_, stalled := d.evaluate(run, time.Now())
	if stalled {
		t.Fatal("already-stalled run should not be marked stalled again")
	}
}

func TestResolveStallTimeout_PrefersRunMetaOverFlowDefault(t *testing.T) {
	d := New(Config{Flows: fakeFlows{ms: map[string]int64{"demo": time.Hour.Milliseconds()}}})
	run := runAt(domain.RunStatusRunning, time.Now())
	run.Meta.StallTimeout = (5 * time.Minute).Milliseconds()

	got := d.resolveStallTimeout("demo", run)
	if got != 5*time.Minute {
		t.Errorf("expected run.Meta.StallTimeout to win, got %v", got)
	}
}

func TestResolveStallTimeout_FallsBackToDetectorDefault(t *testing.T) {
	d := New(Config{})
	run := runAt(domain.RunStatusRunning, time.Now())

	if got := d.resolveStallTimeout("demo", run); got != defaultStallTimeout {
		t.Errorf("expected default stall timeout, got %v", got)
	}
}
