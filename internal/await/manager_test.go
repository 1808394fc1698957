package await

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
)

func TestManager_ResolveTimeoutMs_WebhookDefaultsTo24h(t *testing.T) {
	m := &Manager{}
	cfg := &domain.AwaitConfig{Type: domain.AwaitKindWebhook}
	ms, err := m.resolveTimeoutMs(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != defaultWebhookEventTimeout.Milliseconds() {
		t.Fatalf("expected default 24h timeout, got %dms", ms)
	}
}

func TestManager_ResolveTimeoutMs_WebhookExplicitOverride(t *testing.T) {
	m := &Manager{}
	cfg := &domain.AwaitConfig{Type: domain.AwaitKindWebhook, TimeoutMs: 5000}
	ms, err := m.resolveTimeoutMs(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != 5000 {
		t.Fatalf("expected explicit 5000ms timeout, got %d", ms)
	}
}

func TestManager_ResolveTimeoutMs_TimeUsesDelay(t *testing.T) {
	m := &Manager{}
	cfg := &domain.AwaitConfig{Type: domain.AwaitKindTime, DelayMs: 1500}
	ms, err := m.resolveTimeoutMs(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms != 1500 {
		t.Fatalf("expected delay-derived timeout 1500ms, got %d", ms)
	}
}

func TestManager_ResolveTimeoutMs_ScheduleUsesCronInterval(t *testing.T) {
	m := &Manager{}
	cfg := &domain.AwaitConfig{Type: domain.AwaitKindSchedule, CronExpr: "* * * * *", Timezone: "UTC"}
	ms, err := m.resolveTimeoutMs(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms <= 0 || ms > time.Minute.Milliseconds() {
		t.Fatalf("expected next-minute cron interval, got %dms", ms)
	}
}

func TestManager_ResolveTimeoutMs_UnknownKind(t *testing.T) {
	m := &Manager{}
	_, err := m.resolveTimeoutMs(&domain.AwaitConfig{Type: "bogus"})
	if err != ErrUnknownKind {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestAwaitPayload_RoundTrip(t *testing.T) {
	runID := uuid.New()
	payload := buildAwaitPayload(runID, "order-flow", "approve", map[string]any{"timeoutAction": "fail"})

	gotRunID, gotFlow, gotStep, err := parseAwaitPayload(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRunID != runID || gotFlow != "order-flow" || gotStep != "approve" {
		t.Fatalf("round trip mismatch: %v %v %v", gotRunID, gotFlow, gotStep)
	}
	if stringField(payload, "timeoutAction") != "fail" {
		t.Fatalf("expected timeoutAction fail in payload")
	}
}

func TestParseAwaitPayload_InvalidRunID(t *testing.T) {
	_, _, _, err := parseAwaitPayload(map[string]any{"runId": "not-a-uuid"})
	if err == nil {
		t.Fatal("expected error for invalid runId")
	}
}

func TestWebhookPath_DefaultAndOverride(t *testing.T) {
	runID := uuid.New()
	cfg := &domain.AwaitConfig{Type: domain.AwaitKindWebhook}
	want := "/api/_webhook/await/order-flow/" + runID.String() + "/approve"
	got, err := WebhookPath("order-flow", runID, "approve", cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("expected default path %s, got %s", want, got)
	}

	cfg.Path = "/custom/path"
	got, err = WebhookPath("order-flow", runID, "approve", cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/custom/path" {
		t.Fatalf("expected configured literal path to win, got %s", got)
	}
}

func TestWebhookPath_RendersTemplateAgainstInput(t *testing.T) {
	runID := uuid.New()
	cfg := &domain.AwaitConfig{Type: domain.AwaitKindWebhook, Path: "/hooks/{{ .Inputs.orderId }}"}
	got, err := WebhookPath("order-flow", runID, "approve", cfg, map[string]any{"orderId": "abc123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/hooks/abc123" {
		t.Fatalf("expected rendered path /hooks/abc123, got %s", got)
	}
}

func TestConfigToMap_OmitsEmptyFields(t *testing.T) {
	cfg := &domain.AwaitConfig{Type: domain.AwaitKindTime, DelayMs: 100}
	m := configToMap(cfg)
	if _, ok := m["eventName"]; ok {
		t.Fatal("expected eventName to be omitted for time await")
	}
	if m["delayMs"] != int64(100) {
		t.Fatalf("expected delayMs 100, got %v", m["delayMs"])
	}
}
