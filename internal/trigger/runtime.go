package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/fabric"
	"github.com/shaiso/nvent/internal/scheduler"
	"github.com/shaiso/nvent/internal/store"
	"github.com/shaiso/nvent/internal/telemetry"
)

const (
	indexKey = "triggers"

	// defaultPayloadThreshold — порог размера payload'а (в байтах JSON-
	// представления), свыше которого он выносится в KV под ссылкой.
	defaultPayloadThreshold = 10 * 1024

	payloadKVTTL = 7 * 24 * time.Hour

	// HandlerKeyCronFire регистрируется в Scheduler для срабатывания
	// триггеров типа schedule на их cron-расписании.
	HandlerKeyCronFire = "trigger.cron_fire"
)

// AutoStarter стартует run'ы для flow, auto-подписанных на триггер.
// Реализуется Orchestrator'ом; связывается через SetAutoStarter, чтобы
// Trigger Runtime не зависел от internal/orchestrator напрямую (тот же приём,
// что и RunCoordinator в internal/await).
type AutoStarter interface {
	StartFlow(ctx context.Context, flowName string, input map[string]any, meta domain.RunMeta) (*domain.FlowRun, error)
}

// Runtime — Trigger Runtime: реестр триггеров поверх internal/store,
// публикующий структурные события через internal/fabric.
type Runtime struct {
	store  *store.Store
	fabric *fabric.Fabric
	sched  *scheduler.Scheduler
	logger *slog.Logger

	autoStarter AutoStarter
	metrics     *telemetry.Metrics
}

// New создаёт Runtime. sched может быть nil — в этом случае триггеры типа
// schedule регистрируются, но никогда не сработают сами по себе (ручной fire
// через EmitTrigger/FireAndStart по-прежнему работает).
func New(st *store.Store, fb *fabric.Fabric, sched *scheduler.Scheduler, logger *slog.Logger) *Runtime {
	return &Runtime{store: st, fabric: fb, sched: sched, logger: logger}
}

// SetAutoStarter связывает Runtime с владельцем run'ов. Должно вызываться на
// старте сервиса, до первого EmitTrigger/FireAndStart вызова.
func (r *Runtime) SetAutoStarter(a AutoStarter) {
	r.autoStarter = a
}

// SetMetrics устанавливает счётчик trigger.fired. nil (не вызывать
// SetMetrics) отключает его без дополнительных проверок у вызывающего.
func (r *Runtime) SetMetrics(metrics *telemetry.Metrics) {
	r.metrics = metrics
}

// RegisterHandlers регистрирует обработчики Runtime'а (сейчас — срабатывание
// cron-триггеров) в Scheduler'е, переданном в New. Должно вызываться на
// старте сервиса, до первого Tick. Нет-оп, если sched == nil.
func (r *Runtime) RegisterHandlers() {
	if r.sched == nil {
		return
	}
	r.sched.Register(HandlerKeyCronFire, r.handleCronFireJob)
}

// RegisterTrigger создаёт новый триггер в статусе active. Идемпотентна:
// повторная регистрация уже существующего имени с тем же (type, scope)
// — безопасный no-op, возвращающий существующий триггер без изменений;
// конфликт (ErrTriggerConflict) возвращается только если имя уже занято
// триггером другого type или scope. Для typ == TriggerTypeSchedule
// schedule обязателен и должен содержать валидный cron_expr; при наличии
// зарегистрированного Scheduler'а сразу планируется recurring job, который
// будет вызывать FireAndStart на каждом cron-срабатывании.
func (r *Runtime) RegisterTrigger(ctx context.Context, name string, typ domain.TriggerType, scope domain.TriggerScope, schedule *domain.TriggerScheduleConfig) (*domain.Trigger, error) {
	existing, err := r.GetTrigger(ctx, name)
	if err == nil {
		if conflicts(existing, typ, scope) {
			return nil, ErrTriggerConflict
		}
		return existing, nil
	} else if !errors.Is(err, ErrTriggerNotFound) {
		return nil, err
	}

	if typ == domain.TriggerTypeSchedule {
		if schedule == nil || schedule.CronExpr == "" {
			return nil, fmt.Errorf("%w: cron_expr is required", ErrInvalidSchedule)
		}
		if err := scheduler.ValidateCronExpr(schedule.CronExpr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}

	t := domain.NewTrigger(name, typ, scope)
	t.Schedule = schedule
	if err := r.persist(ctx, t); err != nil {
		return nil, fmt.Errorf("persist new trigger: %w", err)
	}

	if typ == domain.TriggerTypeSchedule {
		if err := r.scheduleCronJob(ctx, t); err != nil {
			r.logger.Error("failed to schedule cron trigger", "trigger", name, "error", err)
		}
	}

	r.publish(ctx, name, domain.EventTriggerRegistered, map[string]any{"type": string(typ), "scope": string(scope)})
	return t, nil
}

// conflicts сообщает, занято ли имя триггером другого (type, scope) — в этом
// случае повторная регистрация должна быть отклонена, а не принята как
// идемпотентный no-op.
func conflicts(existing *domain.Trigger, typ domain.TriggerType, scope domain.TriggerScope) bool {
	return existing.Type != typ || existing.Scope != scope
}

// scheduleCronJob plans the recurring Scheduler job backing a schedule-type
// trigger. Logged and skipped, not fatal, if no Scheduler was wired.
func (r *Runtime) scheduleCronJob(ctx context.Context, t *domain.Trigger) error {
	if r.sched == nil {
		r.logger.Warn("no scheduler wired, schedule trigger will never fire on its own", "trigger", t.Name)
		return nil
	}
	next, err := scheduler.NextCronOccurrence(t.Schedule.CronExpr, t.Schedule.Timezone, time.Now())
	if err != nil {
		return fmt.Errorf("compute next cron occurrence: %w", err)
	}
	job := domain.NewRecurringJob(HandlerKeyCronFire, t.Schedule.CronExpr, t.Schedule.Timezone, next, map[string]any{"trigger_name": t.Name})
	return r.sched.Schedule(ctx, job)
}

// handleCronFireJob — обработчик HandlerKeyCronFire, регистрируемый в
// Scheduler'е через RegisterHandlers. Вызывается на каждом cron-срабатывании
// schedule-триггера.
func (r *Runtime) handleCronFireJob(ctx context.Context, job *domain.ScheduleJob) error {
	name, _ := job.Payload["trigger_name"].(string)
	if name == "" {
		return fmt.Errorf("cron fire job %s missing trigger_name payload", job.ID)
	}
	_, err := r.FireAndStart(ctx, name, nil, EmitOptions{})
	if errors.Is(err, ErrTriggerNotFound) || errors.Is(err, ErrTriggerRetired) {
		// Триггер удалён/retired после планирования job'а — не ошибка.
		return nil
	}
	return err
}

// GetTrigger возвращает триггер по имени.
func (r *Runtime) GetTrigger(ctx context.Context, name string) (*domain.Trigger, error) {
	entry, err := r.store.Indices.Get(ctx, indexKey, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTriggerNotFound
	}
	if err != nil {
		return nil, err
	}
	return entryToTrigger(entry)
}

// ListTriggers возвращает все зарегистрированные триггеры.
func (r *Runtime) ListTriggers(ctx context.Context) ([]*domain.Trigger, error) {
	entries, err := r.store.Indices.Read(ctx, indexKey, 0)
	if err != nil {
		return nil, err
	}
	triggers := make([]*domain.Trigger, 0, len(entries))
	for _, e := range entries {
		t, err := entryToTrigger(e)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

// SubscribeTrigger подписывает flow на триггер. Увеличивает
// stats.activeSubscribers ровно один раз на пару (trigger, flow) — повторная
// подписка с той же парой при другом mode лишь обновляет mode.
func (r *Runtime) SubscribeTrigger(ctx context.Context, triggerName, flowName string, mode domain.SubscriptionMode) error {
	err := r.store.Indices.UpdateWithRetry(ctx, indexKey, triggerName, func(current *store.Entry) (float64, map[string]any, error) {
		t, err := entryToTrigger(current)
		if err != nil {
			return 0, nil, err
		}
		if t.Status == domain.TriggerStatusRetired {
			return 0, nil, ErrTriggerRetired
		}
		t.Subscribe(flowName, mode)
		meta, err := triggerToMetadata(t)
		return current.Score, meta, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrTriggerNotFound
	}
	if err != nil {
		return err
	}

	r.publish(ctx, triggerName, domain.EventSubscriptionAdded, map[string]any{"flow_name": flowName, "mode": string(mode)})
	return nil
}

// UnsubscribeTrigger отписывает flow от триггера.
func (r *Runtime) UnsubscribeTrigger(ctx context.Context, triggerName, flowName string) error {
	var removed bool
	err := r.store.Indices.UpdateWithRetry(ctx, indexKey, triggerName, func(current *store.Entry) (float64, map[string]any, error) {
		t, err := entryToTrigger(current)
		if err != nil {
			return 0, nil, err
		}
		removed = t.Unsubscribe(flowName)
		meta, err := triggerToMetadata(t)
		return current.Score, meta, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrTriggerNotFound
	}
	if err != nil {
		return err
	}
	if removed {
		r.publish(ctx, triggerName, domain.EventSubscriptionRemoved, map[string]any{"flow_name": flowName})
	}
	return nil
}

// EmitOptions параметризует EmitTrigger.
type EmitOptions struct {
	// PayloadThreshold переопределяет порог выноса payload'а в KV (байты
	// JSON-представления). 0 означает использовать значение по умолчанию
	// (10 KiB); отрицательное значение отключает вынос.
	PayloadThreshold int
}

// EmitTrigger фиксирует срабатывание триггера: обновляет статистику,
// персистирует и рассылает trigger.fired. Возвращает разрешённые
// auto-подписанные имена flow — вызывающий код (FireAndStart) стартует по
// одному run на каждое.
func (r *Runtime) EmitTrigger(ctx context.Context, name string, data map[string]any, opts EmitOptions) ([]string, error) {
	eventData, err := r.maybeOffload(ctx, name, data, resolveThreshold(opts))
	if err != nil {
		return nil, fmt.Errorf("offload trigger payload: %w", err)
	}

	var autoFlows []string
	err = r.store.Indices.UpdateWithRetry(ctx, indexKey, name, func(current *store.Entry) (float64, map[string]any, error) {
		t, err := entryToTrigger(current)
		if err != nil {
			return 0, nil, err
		}
		if t.Status != domain.TriggerStatusActive {
			return 0, nil, ErrTriggerRetired
		}
		t.RecordFire()
		autoFlows = t.AutoSubscribedFlows()
		meta, err := triggerToMetadata(t)
		return current.Score, meta, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTriggerNotFound
	}
	if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.TriggerFires.Inc()
	}
	r.publish(ctx, name, domain.EventTriggerFired, eventData)
	return autoFlows, nil
}

// FireAndStart fires a trigger and starts a run for every flow auto-subscribed
// to it, via the AutoStarter set with SetAutoStarter. Returns the map of
// flowName -> started runId; a flow whose start fails is logged and skipped
// rather than failing the whole fire. Returns nil started map (no error) if
// no AutoStarter was wired or nothing auto-subscribes.
func (r *Runtime) FireAndStart(ctx context.Context, name string, data map[string]any, opts EmitOptions) (map[string]uuid.UUID, error) {
	t, err := r.GetTrigger(ctx, name)
	if err != nil {
		return nil, err
	}

	autoFlows, err := r.EmitTrigger(ctx, name, data, opts)
	if err != nil {
		return nil, err
	}
	if r.autoStarter == nil || len(autoFlows) == 0 {
		return nil, nil
	}

	started := make(map[string]uuid.UUID, len(autoFlows))
	for _, flowName := range autoFlows {
		run, err := r.autoStarter.StartFlow(ctx, flowName, data, domain.RunMeta{TriggerName: name, TriggerType: string(t.Type)})
		if err != nil {
			r.logger.Error("failed to start auto-subscribed flow", "trigger", name, "flow", flowName, "error", err)
			continue
		}
		started[flowName] = run.RunID
	}
	return started, nil
}

// RetireTrigger переводит триггер в статус retired — он больше не
// срабатывает, но остаётся в индексе для наблюдаемости.
func (r *Runtime) RetireTrigger(ctx context.Context, name string) error {
	err := r.store.Indices.UpdateWithRetry(ctx, indexKey, name, func(current *store.Entry) (float64, map[string]any, error) {
		t, err := entryToTrigger(current)
		if err != nil {
			return 0, nil, err
		}
		t.Retire()
		meta, err := triggerToMetadata(t)
		return current.Score, meta, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrTriggerNotFound
	}
	if err != nil {
		return err
	}
	r.publish(ctx, name, domain.EventTriggerUpdated, map[string]any{"status": string(domain.TriggerStatusRetired)})
	return nil
}

// UpdateTriggerStatus transitions a trigger between active/inactive (not
// retired, which is terminal and handled by RetireTrigger).
func (r *Runtime) UpdateTriggerStatus(ctx context.Context, name string, status domain.TriggerStatus) error {
	if status == domain.TriggerStatusRetired {
		return r.RetireTrigger(ctx, name)
	}
	err := r.store.Indices.UpdateWithRetry(ctx, indexKey, name, func(current *store.Entry) (float64, map[string]any, error) {
		t, err := entryToTrigger(current)
		if err != nil {
			return 0, nil, err
		}
		if t.Status == domain.TriggerStatusRetired {
			return 0, nil, ErrTriggerRetired
		}
		t.Status = status
		t.UpdatedAt = time.Now()
		meta, err := triggerToMetadata(t)
		return current.Score, meta, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrTriggerNotFound
	}
	if err != nil {
		return err
	}
	r.publish(ctx, name, domain.EventTriggerUpdated, map[string]any{"status": string(status)})
	return nil
}

// resolveThreshold applies EmitOptions.PayloadThreshold's override semantics:
// 0 means "use the package default", any other value (including negative, to
// disable offload entirely) wins over the default.
func resolveThreshold(opts EmitOptions) int {
	if opts.PayloadThreshold != 0 {
		return opts.PayloadThreshold
	}
	return defaultPayloadThreshold
}

// shouldOffload reports whether a payload of the given marshaled size must be
// moved out of the trigger.fired event into KV. A negative threshold disables
// offload unconditionally (used by callers that always want the inline data,
// e.g. tests asserting on payload shape).
func shouldOffload(size, threshold int) bool {
	return threshold >= 0 && size > threshold
}

func (r *Runtime) maybeOffload(ctx context.Context, triggerName string, data map[string]any, threshold int) (map[string]any, error) {
	if data == nil {
		return data, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger payload: %w", err)
	}
	if !shouldOffload(len(raw), threshold) {
		return data, nil
	}

	ref := "trigger-payload:" + triggerName + ":" + uuid.New().String()
	if err := r.store.KV.Set(ctx, ref, data, payloadKVTTL); err != nil {
		return nil, fmt.Errorf("store offloaded payload: %w", err)
	}
	return map[string]any{"__payloadRef": ref, "__size": len(raw)}, nil
}

// ResolvePayloadRef dereferences a {__payloadRef, __size} placeholder back
// into its original payload, for consumers reading persisted trigger.fired
// events.
func (r *Runtime) ResolvePayloadRef(ctx context.Context, data map[string]any) (map[string]any, error) {
	ref, ok := data["__payloadRef"].(string)
	if !ok {
		return data, nil
	}
	var resolved map[string]any
	if err := r.store.KV.Get(ctx, ref, &resolved); err != nil {
		return nil, fmt.Errorf("resolve payload ref %s: %w", ref, err)
	}
	return resolved, nil
}

func (r *Runtime) persist(ctx context.Context, t *domain.Trigger) error {
	meta, err := triggerToMetadata(t)
	if err != nil {
		return err
	}
	return r.store.Indices.Add(ctx, indexKey, t.Name, 0, meta)
}

func (r *Runtime) publish(ctx context.Context, triggerName string, evType domain.EventType, data map[string]any) {
	ev := domain.NewEvent(evType, uuid.Nil, "", data)
	if _, err := r.fabric.PublishTriggerEvent(ctx, triggerName, ev); err != nil {
		r.logger.Warn("failed to publish trigger event", "trigger", triggerName, "type", evType, "error", err)
	}
}

func triggerToMetadata(t *domain.Trigger) (map[string]any, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal trigger to map: %w", err)
	}
	return m, nil
}

func entryToTrigger(e *store.Entry) (*domain.Trigger, error) {
	raw, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal entry metadata: %w", err)
	}
	var t domain.Trigger
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	return &t, nil
}
