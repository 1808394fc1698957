package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/mq"
	"github.com/shaiso/nvent/internal/store"
)

// markStepStatus записывает статус шага в run.StepStatuses через
// UpdateWithRetry и возвращает обновлённый run.
func (o *Orchestrator) markStepStatus(ctx context.Context, runID uuid.UUID, stepName string, status domain.StepRunStatus) (*domain.FlowRun, error) {
	var updated *domain.FlowRun
	runIDStr := runID.String()
	err := o.store.Indices.UpdateWithRetry(ctx, runsIndexKey, runIDStr, func(current *store.Entry) (float64, map[string]any, error) {
		run, err := entryToRun(current)
		if err != nil {
			return 0, nil, err
		}
		if run.StepStatuses == nil {
			run.StepStatuses = make(map[string]domain.StepRunStatus)
		}
		run.StepStatuses[stepName] = status
		run.LastActivityAt = time.Now()
		updated = run
		meta, err := runToMetadata(run)
		return current.Score, meta, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// addEmittedEvent добавляет token в run.EmittedEvents через UpdateWithRetry
// и возвращает обновлённый run.
func (o *Orchestrator) addEmittedEvent(ctx context.Context, runID uuid.UUID, token string) (*domain.FlowRun, error) {
	var updated *domain.FlowRun
	err := o.store.Indices.UpdateWithRetry(ctx, runsIndexKey, runID.String(), func(current *store.Entry) (float64, map[string]any, error) {
		run, err := entryToRun(current)
		if err != nil {
			return 0, nil, err
		}
		if run.EmittedEvents == nil {
			run.EmittedEvents = make(map[string]bool)
		}
		run.EmittedEvents[token] = true
		run.LastActivityAt = time.Now()
		updated = run
		meta, err := runToMetadata(run)
		return current.Score, meta, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// progressRun пересчитывает готовность всех ещё не диспетчеризованных шагов
// run'а и либо диспетчеризует их, либо, если run полностью завершён,
// публикует терминальное событие. Кандидаты перебираются в StepOrder —
// детерминированном порядке, отсортированном по имени шага; порядок
// объявления шагов в манифесте при этом не сохраняется.
func (o *Orchestrator) progressRun(ctx context.Context, run *domain.FlowRun) error {
	flow, err := o.flowOf(run)
	if err != nil {
		return err
	}

	events, err := o.fabric.ReadRunEvents(ctx, run.RunID, store.ReadOptions{})
	if err != nil {
		return fmt.Errorf("read run events: %w", err)
	}

	completion := AnalyzeCompletion(flow, events)
	if completion.Terminal {
		if HasTerminalEvent(events) {
			return nil
		}
		return o.finalizeRun(ctx, run.RunID, completion.TerminalStatus, o.failureSummary(completion))
	}

	for _, name := range flow.StepOrder {
		step := flow.Steps[name]
		if run.IsStepDispatched(name) {
			continue
		}
		if !StepReady(step, run) {
			continue
		}
		if err := o.dispatchCandidate(ctx, run, flow, step); err != nil {
			o.logger.Error("failed to dispatch step", "run_id", run.RunID, "step", name, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) failureSummary(c CompletionState) string {
	if len(c.Failed) == 0 {
		return ""
	}
	names := make([]string, 0, len(c.Failed))
	for name := range c.Failed {
		names = append(names, name)
	}
	return fmt.Sprintf("steps failed: %v", names)
}

// dispatchCandidate publica a ready step, либо — если у него объявлен
// awaitBefore — регистрирует await вместо немедленной диспетчеризации.
func (o *Orchestrator) dispatchCandidate(ctx context.Context, run *domain.FlowRun, flow *domain.AnalyzedFlow, step *domain.StepMeta) error {
	if step.AwaitBefore != nil {
		if _, exists := run.AwaitingSteps[step.Name]; exists {
			return nil
		}
		return o.registerAwaitForStep(ctx, run, step.Name, step.AwaitBefore, domain.AwaitPositionBefore)
	}
	return o.dispatchStep(ctx, run, flow, step)
}

// dispatchStep enqueue'ит job шага с детерминированным ID <runId>__<step>.
// Публикация в брокер по этому ID не дедуплицируется: ошибка
// PublishJobReady возвращается вызывающему, а повторную диспетчеризацию
// шага отсекает только проверка IsStepDispatched в progressRun.
func (o *Orchestrator) dispatchStep(ctx context.Context, run *domain.FlowRun, flow *domain.AnalyzedFlow, step *domain.StepMeta) error {
	if _, err := o.markStepStatus(ctx, run.RunID, step.Name, domain.StepRunStatusDispatched); err != nil {
		return fmt.Errorf("mark step dispatched: %w", err)
	}

	ev := domain.NewEvent(domain.EventStepStarted, run.RunID, run.FlowName, nil)
	ev.StepName = step.Name
	if _, err := o.fabric.PublishRunEvent(ctx, ev); err != nil {
		o.logger.Warn("failed to publish step.started", "run_id", run.RunID, "step", step.Name, "error", err)
	}

	if o.mqPub == nil {
		o.logger.Warn("no job broker publisher configured, step will not be dispatched", "run_id", run.RunID, "step", step.Name)
		return nil
	}

	jobID := run.RunID.String() + "__" + step.Name
	payload := mq.JobReadyPayload{
		JobID:         jobID,
		RunID:         run.RunID,
		FlowName:      run.FlowName,
		StepName:      step.Name,
		WorkerID:      step.WorkerID,
		Queue:         step.Queue,
		Input:         run.Input,
		Emits:         step.Emits,
		StepTimeoutMs: step.StepTimeoutMs,
	}
	if err := o.mqPub.PublishJobReady(ctx, payload); err != nil {
		return fmt.Errorf("publish job.ready for %s: %w", step.Name, err)
	}
	return nil
}

// finalizeRun переводит run в терминальный статус, публикует
// flow.completed/flow.failed/flow.cancel/flow.stalled (вызывающий код
// выбирает status) и обновляет кумулятивные flow_stats.
func (o *Orchestrator) finalizeRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, errMsg string) error {
	var run *domain.FlowRun
	var transitioned bool
	err := o.store.Indices.UpdateWithRetry(ctx, runsIndexKey, runID.String(), func(current *store.Entry) (float64, map[string]any, error) {
		r, err := entryToRun(current)
		if err != nil {
			return 0, nil, err
		}
		transitioned = !r.Status.IsTerminal()
		if transitioned {
			now := time.Now()
			r.Status = status
			r.CompletedAt = &now
			r.LastActivityAt = now
			r.Error = errMsg
		}
		run = r
		meta, merr := runToMetadata(r)
		return current.Score, meta, merr
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	evType, ok := terminalEventType(status)
	if !ok {
		return nil
	}
	data := map[string]any{}
	if errMsg != "" {
		data["error"] = errMsg
	}
	ev := domain.NewEvent(evType, run.RunID, run.FlowName, data)
	if _, err := o.fabric.PublishRunEvent(ctx, ev); err != nil {
		o.logger.Warn("failed to publish terminal event", "run_id", run.RunID, "type", evType, "error", err)
	}

	o.bumpFlowStat(ctx, run.FlowName, totalFieldFor(status), 1)
	o.bumpFlowStat(ctx, run.FlowName, "running", -1)
	if o.metrics != nil {
		switch status {
		case domain.RunStatusCompleted:
			o.metrics.RunsCompleted.Inc()
		case domain.RunStatusFailed:
			o.metrics.RunsFailed.Inc()
		}
	}
	return nil
}

func terminalEventType(status domain.RunStatus) (domain.EventType, bool) {
	switch status {
	case domain.RunStatusCompleted:
		return domain.EventFlowCompleted, true
	case domain.RunStatusFailed:
		return domain.EventFlowFailed, true
	case domain.RunStatusCanceled:
		return domain.EventFlowCancel, true
	case domain.RunStatusStalled:
		return domain.EventFlowStalled, true
	default:
		return "", false
	}
}

func totalFieldFor(status domain.RunStatus) string {
	switch status {
	case domain.RunStatusCompleted:
		return "totalCompleted"
	case domain.RunStatusFailed:
		return "totalFailed"
	case domain.RunStatusCanceled:
		return "totalCanceled"
	case domain.RunStatusStalled:
		return "totalStalled"
	default:
		return "totalUnknown"
	}
}

// awaitAfterFor возвращает конфигурацию awaitAfter шага, если объявлена.
func (o *Orchestrator) awaitAfterFor(run *domain.FlowRun, stepName string) (*domain.AwaitConfig, bool) {
	flow, ok := o.registry.GetFlow(run.FlowName)
	if !ok {
		return nil, false
	}
	step, ok := flow.Steps[stepName]
	if !ok || step.AwaitAfter == nil {
		return nil, false
	}
	return step.AwaitAfter, true
}

func (o *Orchestrator) registerAwaitForStep(ctx context.Context, run *domain.FlowRun, stepName string, cfg *domain.AwaitConfig, pos domain.AwaitPosition) error {
	if o.awaitMgr == nil {
		return fmt.Errorf("await requested for step %s but no await manager configured", stepName)
	}
	_, err := o.awaitMgr.RegisterAwait(ctx, run.RunID, run.FlowName, stepName, cfg, pos, run.Input)
	return err
}

// MarkRunStalled реализует stall.RunMarker: переводит run в stalled
// (не терминальный, но замороженный — ни один дальнейший onX-обработчик
// не продвинет его, поскольку progressRun вызывается только из событийных
// обработчиков, а не из периодического опроса) и публикует flow.stalled с
// предыдущим статусом, чтобы обработчики статистики декрементировали
// правильный счётчик.
func (o *Orchestrator) MarkRunStalled(ctx context.Context, runID uuid.UUID, reason string) error {
	var run *domain.FlowRun
	var previous domain.RunStatus
	var transitioned bool
	err := o.store.Indices.UpdateWithRetry(ctx, runsIndexKey, runID.String(), func(current *store.Entry) (float64, map[string]any, error) {
		r, err := entryToRun(current)
		if err != nil {
			return 0, nil, err
		}
		previous = r.Status
		transitioned = !r.Status.IsTerminal() && r.Status != domain.RunStatusStalled
		if transitioned {
			r.Status = domain.RunStatusStalled
			r.LastActivityAt = time.Now()
			r.Error = reason
		}
		run = r
		meta, merr := runToMetadata(r)
		return current.Score, meta, merr
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	ev := domain.NewEvent(domain.EventFlowStalled, runID, run.FlowName, map[string]any{
		"reason":         reason,
		"previousStatus": string(previous),
	})
	if _, err := o.fabric.PublishRunEvent(ctx, ev); err != nil {
		o.logger.Warn("failed to publish flow.stalled", "run_id", runID, "error", err)
	}

	if previous == domain.RunStatusAwaiting {
		o.bumpFlowStat(ctx, run.FlowName, "awaiting", -1)
	}
	o.bumpFlowStat(ctx, run.FlowName, "running", -1)
	o.bumpFlowStat(ctx, run.FlowName, "totalStalled", 1)
	if o.metrics != nil {
		o.metrics.RunsStalled.Inc()
	}
	return nil
}
