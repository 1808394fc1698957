package orchestrator

import (
	"context"
	"fmt"

	"github.com/shaiso/nvent/internal/domain"
)

// HandleEvent маршрутизирует структурное событие в соответствующий
// обработчик. Вызывается и подпиской fabric.Bus (доставка внутри процесса),
// и consumer'ом очереди событий RabbitMQ (доставка от других инстансов) —
// поэтому каждый обработчик ниже идемпотентен относительно повторной
// доставки одного и того же события.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventStepCompleted:
		return o.onStepCompleted(ctx, ev)
	case domain.EventStepFailed:
		return o.onStepFailed(ctx, ev)
	case domain.EventEmit:
		return o.onEmit(ctx, ev)
	case domain.EventFlowCancel:
		return o.onFlowCancel(ctx, ev)
	default:
		// flow.start и остальные типы не требуют реакции Orchestrator'а
		// здесь: flow.start уже обработан синхронно внутри StartFlow.
		return nil
	}
}

// onStepCompleted продвигает run после успешного завершения шага: bump
// completedSteps, помечает шаг completed, проверяет терминальность, иначе
// вычисляет и диспетчеризует нисходящие шаги.
func (o *Orchestrator) onStepCompleted(ctx context.Context, ev domain.Event) error {
	runIDStr := ev.RunID.String()
	if _, err := o.store.Indices.Increment(ctx, runsIndexKey, runIDStr, "completed_steps", 1); err != nil {
		o.logger.Warn("failed to increment completed_steps", "run_id", ev.RunID, "error", err)
	}

	run, err := o.markStepStatus(ctx, ev.RunID, ev.StepName, domain.StepRunStatusCompleted)
	if err != nil {
		return fmt.Errorf("mark step completed: %w", err)
	}
	if run.Status.IsTerminal() {
		return nil
	}

	if awaitCfg, ok := o.awaitAfterFor(run, ev.StepName); ok {
		return o.registerAwaitForStep(ctx, run, ev.StepName, awaitCfg, domain.AwaitPositionAfter)
	}

	return o.progressRun(ctx, run)
}

// onStepFailed помечает шаг failed и проверяет терминальность (шаг
// провалившегося run'а, как и завершённого, не подлежит дальнейшей
// диспетчеризации).
func (o *Orchestrator) onStepFailed(ctx context.Context, ev domain.Event) error {
	run, err := o.markStepStatus(ctx, ev.RunID, ev.StepName, domain.StepRunStatusFailed)
	if err != nil {
		return fmt.Errorf("mark step failed: %w", err)
	}
	if run.Status.IsTerminal() {
		return nil
	}
	return o.progressRun(ctx, run)
}

// onEmit добавляет опубликованный токен в emittedEvents и пересчитывает
// готовность нисходящих шагов.
func (o *Orchestrator) onEmit(ctx context.Context, ev domain.Event) error {
	token, _ := ev.Data["name"].(string)
	if token == "" {
		return nil
	}

	run, err := o.addEmittedEvent(ctx, ev.RunID, token)
	if err != nil {
		return fmt.Errorf("add emitted event: %w", err)
	}
	if run.Status.IsTerminal() {
		return nil
	}
	return o.progressRun(ctx, run)
}

// onFlowCancel переводит run в canceled и не пытается более его
// диспетчеризовать (cancelFlow уже опубликовал событие — здесь только
// финализация индекса, выполняемая любым инстансом, доставившим событие).
func (o *Orchestrator) onFlowCancel(ctx context.Context, ev domain.Event) error {
	return o.finalizeRun(ctx, ev.RunID, domain.RunStatusCanceled, "")
}
