package fabric

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
)

func TestBus_SubscribeRunID_ReceivesOnlyMatchingRun(t *testing.T) {
	bus := NewBus()
	runA := uuid.New()
	runB := uuid.New()

	sub := bus.SubscribeRunID(runA)
	defer sub.Close()

	bus.Publish(domain.Event{Type: domain.EventStepCompleted, RunID: runB})
	bus.Publish(domain.Event{Type: domain.EventStepCompleted, RunID: runA})

	select {
	case ev := <-sub.Events():
		if ev.RunID != runA {
			t.Fatalf("expected event for run %s, got %s", runA, ev.RunID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_OnType_ReceivesAcrossRuns(t *testing.T) {
	bus := NewBus()
	sub := bus.OnType(domain.EventAwaitResolved)
	defer sub.Close()

	bus.Publish(domain.Event{Type: domain.EventStepCompleted, RunID: uuid.New()})
	bus.Publish(domain.Event{Type: domain.EventAwaitResolved, RunID: uuid.New()})

	select {
	case ev := <-sub.Events():
		if ev.Type != domain.EventAwaitResolved {
			t.Fatalf("expected await.resolved, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_Publish_DropsOldestOnFullBuffer(t *testing.T) {
	bus := NewBus()
	runID := uuid.New()
	sub := bus.SubscribeRunID(runID)
	defer sub.Close()

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(domain.Event{Type: domain.EventLog, RunID: runID, Attempt: i})
	}

	// Буфер ограничен — не должно зависнуть, и последним в очереди должно
	// остаться недавнее событие, а не самое первое.
	var last domain.Event
	draining := true
	for draining {
		select {
		case ev := <-sub.Events():
			last = ev
		default:
			draining = false
		}
	}
	if last.Attempt == 0 {
		t.Fatalf("expected drop-oldest to have advanced past the first event, got attempt %d", last.Attempt)
	}
}

func TestBus_Close_StopsDelivery(t *testing.T) {
	bus := NewBus()
	runID := uuid.New()
	sub := bus.SubscribeRunID(runID)
	sub.Close()

	bus.Publish(domain.Event{Type: domain.EventLog, RunID: runID})

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected channel to be closed after Close")
	}
}
