package await

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/engine"
	"github.com/shaiso/nvent/internal/fabric"
	"github.com/shaiso/nvent/internal/scheduler"
	"github.com/shaiso/nvent/internal/telemetry"
)

const (
	// defaultWebhookEventTimeout — таймаут по умолчанию для webhook/event
	// await'ов, не указавших свой TimeoutMs.
	defaultWebhookEventTimeout = 24 * time.Hour

	// HandlerKeyTimeout регистрируется в Scheduler для срабатывания таймаута
	// любого варианта await.
	HandlerKeyTimeout = "await.timeout"

	// HandlerKeyScheduleResolve/HandlerKeyTimeResolve — резолверы schedule- и
	// time-await'ов, которые сами по себе являются one-shot job'ами.
	HandlerKeyScheduleResolve = "await.schedule_resolve"
	HandlerKeyTimeResolve     = "await.time_resolve"
)

// RunCoordinator — зависимость, которую Manager ожидает от владельца run'ов
// (internal/orchestrator). Определена здесь, со стороны потребителя, чтобы
// await не импортировал orchestrator — тот вместо этого вызывает
// SetCoordinator(self) при старте.
type RunCoordinator interface {
	// AwaitRegistered персистирует запись об ожидании в индекс run'а и
	// переводит run в status=awaiting, если это первый активный await.
	AwaitRegistered(ctx context.Context, runID uuid.UUID, stepName string, entry *domain.AwaitEntry) error

	// AwaitResolved помечает запись resolved, возвращает run в running, если
	// других активных await'ов нет, и продолжает диспетчеризацию по position.
	AwaitResolved(ctx context.Context, runID uuid.UUID, stepName string, triggerData map[string]any) error

	// AwaitTimedOut применяет timeoutAction: fail/continue/retry.
	AwaitTimedOut(ctx context.Context, runID uuid.UUID, stepName string, action domain.TimeoutAction) error
}

// Hooks — пользовательские колбэки жизненного цикла await. Любой nil-элемент
// пропускается; вызовы всегда best-effort (ошибки логируются, не фатальны).
type Hooks struct {
	OnAwaitRegister func(ctx context.Context, data map[string]any) error
	OnAwaitResolve  func(ctx context.Context, data map[string]any) error
	OnAwaitTimeout  func(ctx context.Context, data map[string]any) error
}

// Manager реализует механику всех четырёх вариантов await поверх общего
// контракта регистрации/резолва/таймаута.
type Manager struct {
	fabric *fabric.Fabric
	sched  *scheduler.Scheduler
	logger *slog.Logger

	coordinator RunCoordinator
	hooks       Hooks
	metrics     *telemetry.Metrics

	mu           sync.Mutex
	eventSubs    map[string]*fabric.Subscription
	resolverJobs map[string]string
	timeoutJobs  map[string]string
}

// New создаёт Manager. RegisterHandlers и SetCoordinator должны быть
// вызваны до первого RegisterAwait.
func New(fb *fabric.Fabric, sched *scheduler.Scheduler, logger *slog.Logger) *Manager {
	return &Manager{
		fabric:       fb,
		sched:        sched,
		logger:       logger,
		eventSubs:    make(map[string]*fabric.Subscription),
		resolverJobs: make(map[string]string),
		timeoutJobs:  make(map[string]string),
	}
}

// SetCoordinator связывает Manager с владельцем состояния run'ов.
func (m *Manager) SetCoordinator(c RunCoordinator) {
	m.coordinator = c
}

// SetHooks устанавливает пользовательские колбэки жизненного цикла.
func (m *Manager) SetHooks(h Hooks) {
	m.hooks = h
}

// SetMetrics устанавливает счётчики await.timeout/await.resolved. nil (не
// вызывать SetMetrics) отключает их без дополнительных проверок у вызывающего.
func (m *Manager) SetMetrics(metrics *telemetry.Metrics) {
	m.metrics = metrics
}

// RegisterHandlers регистрирует обработчики Manager'а в переданном
// Scheduler'е — вызывается один раз при старте сервиса, до первого Tick.
func (m *Manager) RegisterHandlers() {
	m.sched.Register(HandlerKeyTimeout, m.handleTimeoutJob)
	m.sched.Register(HandlerKeyScheduleResolve, m.handleScheduleResolveJob)
	m.sched.Register(HandlerKeyTimeResolve, m.handleTimeResolveJob)
}

// RegisterAwait регистрирует await для шага согласно контракту §4.5:
// определяет timeoutMs, публикует await.registered, персистирует запись
// через RunCoordinator, организует резолвер и планирует таймаут.
//
// stepData используется event-await'ами с filterKey — для сравнения с data
// пришедшего события — и webhook-await'ами как вход рендеринга пути
// (WebhookPath).
func (m *Manager) RegisterAwait(ctx context.Context, runID uuid.UUID, flowName, stepName string, cfg *domain.AwaitConfig, position domain.AwaitPosition, stepData map[string]any) (*domain.AwaitEntry, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if m.coordinator == nil {
		return nil, ErrNoCoordinator
	}

	timeoutMs, err := m.resolveTimeoutMs(cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	timeoutAt := now.Add(time.Duration(timeoutMs) * time.Millisecond)
	entryConfig := configToMap(cfg)
	if cfg.Type == domain.AwaitKindWebhook {
		path, err := WebhookPath(flowName, runID, stepName, cfg, stepData)
		if err != nil {
			return nil, fmt.Errorf("resolve webhook path: %w", err)
		}
		entryConfig["path"] = path
	}
	entry := &domain.AwaitEntry{
		AwaitType:     cfg.Type,
		Position:      position,
		RegisteredAt:  now,
		TimeoutAt:     &timeoutAt,
		Status:        domain.AwaitStatusAwaiting,
		TimeoutAction: cfg.TimeoutAction,
		Config:        entryConfig,
	}

	if err := m.coordinator.AwaitRegistered(ctx, runID, stepName, entry); err != nil {
		return nil, fmt.Errorf("persist await registration: %w", err)
	}

	evData := map[string]any{
		"awaitType": string(cfg.Type),
		"position":  string(position),
		"config":    entry.Config,
		"data": map[string]any{
			"timeoutAction": string(cfg.TimeoutAction),
			"timeoutAt":     timeoutAt,
		},
	}
	ev := domain.NewEvent(domain.EventAwaitRegistered, runID, flowName, evData)
	ev.StepName = stepName
	if _, err := m.fabric.PublishRunEvent(ctx, ev); err != nil {
		m.logger.Warn("failed to publish await.registered", "run_id", runID, "step", stepName, "error", err)
	}
	m.invokeHook(ctx, m.hooks.OnAwaitRegister, evData)

	key := awaitKey(runID, stepName)
	if err := m.arrangeResolver(ctx, key, runID, flowName, stepName, cfg, stepData); err != nil {
		m.logger.Warn("failed to arrange await resolver", "run_id", runID, "step", stepName, "kind", cfg.Type, "error", err)
	}
	if err := m.arrangeTimeout(ctx, key, runID, flowName, stepName, timeoutAt, cfg.TimeoutAction); err != nil {
		return entry, fmt.Errorf("arrange await timeout: %w", err)
	}

	return entry, nil
}

func (m *Manager) resolveTimeoutMs(cfg *domain.AwaitConfig) (int64, error) {
	switch cfg.Type {
	case domain.AwaitKindWebhook, domain.AwaitKindEvent:
		if cfg.TimeoutMs > 0 {
			return cfg.TimeoutMs, nil
		}
		return defaultWebhookEventTimeout.Milliseconds(), nil
	case domain.AwaitKindTime:
		return cfg.DelayMs, nil
	case domain.AwaitKindSchedule:
		next, err := scheduler.NextCronOccurrence(cfg.CronExpr, cfg.Timezone, time.Now())
		if err != nil {
			return 0, err
		}
		return time.Until(next).Milliseconds(), nil
	default:
		return 0, ErrUnknownKind
	}
}

func (m *Manager) arrangeResolver(ctx context.Context, key string, runID uuid.UUID, flowName, stepName string, cfg *domain.AwaitConfig, stepData map[string]any) error {
	switch cfg.Type {
	case domain.AwaitKindWebhook:
		// Резолвер пассивен: URL детерминирован из runID/flowName/stepName и
		// обрабатывается HTTP-хендлером, вызывающим Resolve напрямую.
		return nil

	case domain.AwaitKindEvent:
		m.subscribeEvent(key, runID, flowName, stepName, cfg, stepData)
		return nil

	case domain.AwaitKindSchedule:
		next, err := scheduler.NextCronOccurrence(cfg.CronExpr, cfg.Timezone, time.Now())
		if err != nil {
			return err
		}
		job := domain.NewOneTimeJob(HandlerKeyScheduleResolve, next, buildAwaitPayload(runID, flowName, stepName, nil))
		if err := m.sched.Schedule(ctx, job); err != nil {
			return err
		}
		m.trackResolverJob(key, job.ID.String())
		return nil

	case domain.AwaitKindTime:
		executeAt := time.Now().Add(time.Duration(cfg.DelayMs) * time.Millisecond)
		job := domain.NewOneTimeJob(HandlerKeyTimeResolve, executeAt, buildAwaitPayload(runID, flowName, stepName, nil))
		if err := m.sched.Schedule(ctx, job); err != nil {
			return err
		}
		m.trackResolverJob(key, job.ID.String())
		return nil

	default:
		return ErrUnknownKind
	}
}

func (m *Manager) arrangeTimeout(ctx context.Context, key string, runID uuid.UUID, flowName, stepName string, timeoutAt time.Time, action domain.TimeoutAction) error {
	payload := buildAwaitPayload(runID, flowName, stepName, map[string]any{"timeoutAction": string(action)})
	job := domain.NewOneTimeJob(HandlerKeyTimeout, timeoutAt, payload)
	if err := m.sched.Schedule(ctx, job); err != nil {
		return err
	}
	m.trackTimeoutJob(key, job.ID.String())
	return nil
}

// Resolve разрешает await с произвольными triggerData: отписывает event-
// резолвер, отменяет резолвер- и timeout-job'ы, публикует await.resolved и
// передаёт разрешение RunCoordinator'у. Используется и webhook-хендлером, и
// внутренними резолверами event/schedule/time.
func (m *Manager) Resolve(ctx context.Context, runID uuid.UUID, flowName, stepName string, triggerData map[string]any) error {
	if m.coordinator == nil {
		return ErrNoCoordinator
	}
	key := awaitKey(runID, stepName)
	m.unsubscribeEvent(key)
	if id, ok := m.popTimeoutJob(key); ok {
		if err := m.sched.Unschedule(ctx, id); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
			m.logger.Warn("failed to unschedule await timeout job", "run_id", runID, "step", stepName, "error", err)
		}
	}
	if id, ok := m.popResolverJob(key); ok {
		if err := m.sched.Unschedule(ctx, id); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
			m.logger.Warn("failed to unschedule await resolver job", "run_id", runID, "step", stepName, "error", err)
		}
	}

	ev := domain.NewEvent(domain.EventAwaitResolved, runID, flowName, map[string]any{"triggerData": triggerData})
	ev.StepName = stepName
	if _, err := m.fabric.PublishRunEvent(ctx, ev); err != nil {
		m.logger.Warn("failed to publish await.resolved", "run_id", runID, "step", stepName, "error", err)
	}
	m.invokeHook(ctx, m.hooks.OnAwaitResolve, map[string]any{"stepName": stepName, "triggerData": triggerData})
	if m.metrics != nil {
		m.metrics.AwaitResolved.Inc()
	}

	return m.coordinator.AwaitResolved(ctx, runID, stepName, triggerData)
}

func (m *Manager) handleTimeoutJob(ctx context.Context, job *domain.ScheduleJob) error {
	runID, flowName, stepName, err := parseAwaitPayload(job.Payload)
	if err != nil {
		return err
	}
	action := domain.TimeoutAction(stringField(job.Payload, "timeoutAction"))

	key := awaitKey(runID, stepName)
	m.unsubscribeEvent(key)
	m.popTimeoutJob(key)
	if id, ok := m.popResolverJob(key); ok {
		if err := m.sched.Unschedule(ctx, id); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
			m.logger.Warn("failed to unschedule await resolver job on timeout", "run_id", runID, "step", stepName, "error", err)
		}
	}

	ev := domain.NewEvent(domain.EventAwaitTimeout, runID, flowName, map[string]any{"timeoutAction": string(action)})
	ev.StepName = stepName
	if _, err := m.fabric.PublishRunEvent(ctx, ev); err != nil {
		m.logger.Warn("failed to publish await.timeout", "run_id", runID, "step", stepName, "error", err)
	}
	m.invokeHook(ctx, m.hooks.OnAwaitTimeout, map[string]any{"stepName": stepName, "timeoutAction": string(action)})
	if m.metrics != nil {
		m.metrics.AwaitTimeouts.Inc()
	}

	if m.coordinator == nil {
		return ErrNoCoordinator
	}
	return m.coordinator.AwaitTimedOut(ctx, runID, stepName, action)
}

func (m *Manager) handleScheduleResolveJob(ctx context.Context, job *domain.ScheduleJob) error {
	runID, flowName, stepName, err := parseAwaitPayload(job.Payload)
	if err != nil {
		return err
	}
	return m.Resolve(ctx, runID, flowName, stepName, nil)
}

func (m *Manager) handleTimeResolveJob(ctx context.Context, job *domain.ScheduleJob) error {
	runID, flowName, stepName, err := parseAwaitPayload(job.Payload)
	if err != nil {
		return err
	}
	return m.Resolve(ctx, runID, flowName, stepName, nil)
}

func (m *Manager) subscribeEvent(key string, runID uuid.UUID, flowName, stepName string, cfg *domain.AwaitConfig, stepData map[string]any) {
	sub := m.fabric.Bus().OnType(domain.EventType(cfg.EventName))

	m.mu.Lock()
	m.eventSubs[key] = sub
	m.mu.Unlock()

	go func() {
		for ev := range sub.Events() {
			if cfg.FilterKey != "" {
				want, wantOK := stepData[cfg.FilterKey]
				got, gotOK := ev.Data[cfg.FilterKey]
				if !wantOK || !gotOK || want != got {
					continue
				}
			}
			if err := m.Resolve(context.Background(), runID, flowName, stepName, ev.Data); err != nil {
				m.logger.Warn("event await resolve failed", "run_id", runID, "step", stepName, "error", err)
			}
			return
		}
	}()
}

func (m *Manager) unsubscribeEvent(key string) {
	m.mu.Lock()
	sub, ok := m.eventSubs[key]
	if ok {
		delete(m.eventSubs, key)
	}
	m.mu.Unlock()
	if ok {
		sub.Close()
	}
}

func (m *Manager) trackResolverJob(key, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolverJobs[key] = jobID
}

func (m *Manager) trackTimeoutJob(key, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeoutJobs[key] = jobID
}

func (m *Manager) popResolverJob(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolverJobs[key]
	if ok {
		delete(m.resolverJobs, key)
	}
	return id, ok
}

func (m *Manager) popTimeoutJob(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.timeoutJobs[key]
	if ok {
		delete(m.timeoutJobs, key)
	}
	return id, ok
}

func (m *Manager) invokeHook(ctx context.Context, hook func(context.Context, map[string]any) error, data map[string]any) {
	if hook == nil {
		return
	}
	if err := hook(ctx, data); err != nil {
		m.logger.Warn("await lifecycle hook failed", "error", err)
	}
}

func awaitKey(runID uuid.UUID, stepName string) string {
	return runID.String() + "/" + stepName
}

func buildAwaitPayload(runID uuid.UUID, flowName, stepName string, extra map[string]any) map[string]any {
	p := map[string]any{"runId": runID.String(), "flowName": flowName, "stepName": stepName}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func parseAwaitPayload(payload map[string]any) (uuid.UUID, string, string, error) {
	runIDStr, _ := payload["runId"].(string)
	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return uuid.Nil, "", "", fmt.Errorf("parse runId from job payload: %w", err)
	}
	flowName, _ := payload["flowName"].(string)
	stepName, _ := payload["stepName"].(string)
	return runID, flowName, stepName, nil
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func configToMap(cfg *domain.AwaitConfig) map[string]any {
	m := map[string]any{"type": string(cfg.Type)}
	if cfg.Path != "" {
		m["path"] = cfg.Path
	}
	if cfg.EventName != "" {
		m["eventName"] = cfg.EventName
	}
	if cfg.FilterKey != "" {
		m["filterKey"] = cfg.FilterKey
	}
	if cfg.CronExpr != "" {
		m["cronExpr"] = cfg.CronExpr
	}
	if cfg.Timezone != "" {
		m["timezone"] = cfg.Timezone
	}
	if cfg.DelayMs != 0 {
		m["delayMs"] = cfg.DelayMs
	}
	return m
}

// WebhookPath вычисляет путь вебхука для await: дефолтный маршрут
// `/api/_webhook/await/...`, либо, если cfg.Path задан явно, его результат
// рендеринга через тот же движок `text/template`, которым `internal/engine`
// рендерит конфиг шага (`{{ .Inputs.orderId }}` и т.п.) с run'овым input в
// качестве контекста — так конфигурируемый путь может зависеть от данных
// run'а, а не быть только литеральной строкой.
func WebhookPath(flowName string, runID uuid.UUID, stepName string, cfg *domain.AwaitConfig, input map[string]any) (string, error) {
	if cfg.Path == "" {
		return "/api/_webhook/await/" + flowName + "/" + runID.String() + "/" + stepName, nil
	}
	rendered, err := engine.Render(cfg.Path, engine.NewContext(input))
	if err != nil {
		return "", fmt.Errorf("render webhook path template: %w", err)
	}
	return rendered, nil
}
