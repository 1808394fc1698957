package trigger

import (
	"testing"

	"github.com/shaiso/nvent/internal/domain"
)

func TestConflicts_SameTypeAndScopeIsNotAConflict(t *testing.T) {
	existing := domain.NewTrigger("order-approved", domain.TriggerTypeEvent, domain.TriggerScopeFlow)
	if conflicts(existing, domain.TriggerTypeEvent, domain.TriggerScopeFlow) {
		t.Fatal("re-registering the same (name, type, scope) must not be a conflict")
	}
}

func TestConflicts_DifferentTypeIsAConflict(t *testing.T) {
	existing := domain.NewTrigger("order-approved", domain.TriggerTypeEvent, domain.TriggerScopeFlow)
	if !conflicts(existing, domain.TriggerTypeWebhook, domain.TriggerScopeFlow) {
		t.Fatal("re-registering an existing name with a different type must conflict")
	}
}

func TestConflicts_DifferentScopeIsAConflict(t *testing.T) {
	existing := domain.NewTrigger("order-approved", domain.TriggerTypeEvent, domain.TriggerScopeFlow)
	if !conflicts(existing, domain.TriggerTypeEvent, domain.TriggerScopeRun) {
		t.Fatal("re-registering an existing name with a different scope must conflict")
	}
}

func TestTrigger_SubscribeIsIdempotentForActiveSubscribersCount(t *testing.T) {
	tr := domain.NewTrigger("order-approved", domain.TriggerTypeEvent, domain.TriggerScopeFlow)

	isNew := tr.Subscribe("billing-flow", domain.SubscriptionModeAuto)
	if !isNew {
		t.Fatal("expected first subscription to report new")
	}
	if tr.Stats.ActiveSubscribers != 1 {
		t.Fatalf("expected 1 active subscriber, got %d", tr.Stats.ActiveSubscribers)
	}

	// Re-subscribing the same flow, even with a different mode, must not
	// bump ActiveSubscribers a second time.
	isNew = tr.Subscribe("billing-flow", domain.SubscriptionModeManual)
	if isNew {
		t.Fatal("expected re-subscription to report not-new")
	}
	if tr.Stats.ActiveSubscribers != 1 {
		t.Fatalf("expected ActiveSubscribers to stay at 1 after re-subscribe, got %d", tr.Stats.ActiveSubscribers)
	}
	if tr.Subscriptions["billing-flow"].Mode != domain.SubscriptionModeManual {
		t.Fatal("expected re-subscribe to update the mode")
	}
}

func TestTrigger_UnsubscribeDecrementsOnceAndIsIdempotent(t *testing.T) {
	tr := domain.NewTrigger("order-approved", domain.TriggerTypeEvent, domain.TriggerScopeFlow)
	tr.Subscribe("billing-flow", domain.SubscriptionModeAuto)
	tr.Subscribe("shipping-flow", domain.SubscriptionModeAuto)

	removed := tr.Unsubscribe("billing-flow")
	if !removed {
		t.Fatal("expected existing subscription to be removed")
	}
	if tr.Stats.ActiveSubscribers != 1 {
		t.Fatalf("expected 1 active subscriber after unsubscribe, got %d", tr.Stats.ActiveSubscribers)
	}

	// Unsubscribing again must be a no-op, not drive the counter negative.
	removed = tr.Unsubscribe("billing-flow")
	if removed {
		t.Fatal("expected second unsubscribe of the same flow to report not-removed")
	}
	if tr.Stats.ActiveSubscribers != 1 {
		t.Fatalf("expected ActiveSubscribers to stay at 1, got %d", tr.Stats.ActiveSubscribers)
	}
}

func TestTrigger_AutoSubscribedFlowsExcludesManual(t *testing.T) {
	tr := domain.NewTrigger("order-approved", domain.TriggerTypeEvent, domain.TriggerScopeFlow)
	tr.Subscribe("billing-flow", domain.SubscriptionModeAuto)
	tr.Subscribe("audit-flow", domain.SubscriptionModeManual)

	auto := tr.AutoSubscribedFlows()
	if len(auto) != 1 || auto[0] != "billing-flow" {
		t.Fatalf("expected only billing-flow to be auto-subscribed, got %v", auto)
	}
}

func TestResolveThreshold_ZeroMeansDefault(t *testing.T) {
	if got := resolveThreshold(EmitOptions{}); got != defaultPayloadThreshold {
		t.Fatalf("expected default threshold %d, got %d", defaultPayloadThreshold, got)
	}
}

func TestResolveThreshold_ExplicitOverrideWins(t *testing.T) {
	if got := resolveThreshold(EmitOptions{PayloadThreshold: 256}); got != 256 {
		t.Fatalf("expected explicit threshold 256, got %d", got)
	}
}

func TestResolveThreshold_NegativeDisablesOffload(t *testing.T) {
	if got := resolveThreshold(EmitOptions{PayloadThreshold: -1}); got != -1 {
		t.Fatalf("expected negative override to pass through unchanged, got %d", got)
	}
}

func TestShouldOffload_UnderThresholdStaysInline(t *testing.T) {
	if shouldOffload(100, defaultPayloadThreshold) {
		t.Fatal("expected a 100-byte payload to stay inline under the 10 KiB default")
	}
}

func TestShouldOffload_OverThresholdOffloads(t *testing.T) {
	if !shouldOffload(defaultPayloadThreshold+1, defaultPayloadThreshold) {
		t.Fatal("expected a payload one byte over threshold to be offloaded")
	}
}

func TestShouldOffload_ExactlyAtThresholdStaysInline(t *testing.T) {
	if shouldOffload(defaultPayloadThreshold, defaultPayloadThreshold) {
		t.Fatal("expected a payload exactly at threshold to stay inline")
	}
}

func TestShouldOffload_NegativeThresholdNeverOffloads(t *testing.T) {
	if shouldOffload(1<<20, -1) {
		t.Fatal("expected a negative threshold to disable offload regardless of size")
	}
}
