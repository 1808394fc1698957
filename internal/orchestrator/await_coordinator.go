package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/store"
)

// Реализация await.RunCoordinator — await.Manager вызывает эти три метода,
// сам не зная ничего про FlowRun/Store; связь устанавливается через
// awaitMgr.SetCoordinator(o) в New.

// AwaitRegistered персистирует запись об ожидании в AwaitingSteps run'а и
// переводит run в awaiting, если это первый активный await.
func (o *Orchestrator) AwaitRegistered(ctx context.Context, runID uuid.UUID, stepName string, entry *domain.AwaitEntry) error {
	var flowName string
	var becameActive bool
	err := o.store.Indices.UpdateWithRetry(ctx, runsIndexKey, runID.String(), func(current *store.Entry) (float64, map[string]any, error) {
		run, err := entryToRun(current)
		if err != nil {
			return 0, nil, err
		}
		if run.AwaitingSteps == nil {
			run.AwaitingSteps = make(map[string]*domain.AwaitEntry)
		}
		becameActive = !run.HasActiveAwaits()
		run.AwaitingSteps[stepName] = entry
		run.LastActivityAt = time.Now()
		if !run.Status.IsTerminal() {
			run.Status = domain.RunStatusAwaiting
		}
		flowName = run.FlowName
		meta, merr := runToMetadata(run)
		return current.Score, meta, merr
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}
	// bump происходит уже после успешной фиксации: UpdateWithRetry может
	// вызвать замыкание повторно при конкурентной записи, и bump внутри
	// него задвоил бы счётчик.
	if becameActive {
		o.bumpFlowStat(ctx, flowName, "awaiting", 1)
	}
	return nil
}

// AwaitResolved помечает запись resolved и, если других активных await'ов
// нет, возвращает run в running; затем продолжает диспетчеризацию согласно
// позиции await'а — перед шагом (диспетчеризует сам шаг) или после
// (пересчитывает нисходящие зависимости).
func (o *Orchestrator) AwaitResolved(ctx context.Context, runID uuid.UUID, stepName string, triggerData map[string]any) error {
	var run *domain.FlowRun
	var position domain.AwaitPosition
	var becameIdle bool

	err := o.store.Indices.UpdateWithRetry(ctx, runsIndexKey, runID.String(), func(current *store.Entry) (float64, map[string]any, error) {
		r, err := entryToRun(current)
		if err != nil {
			return 0, nil, err
		}
		entry, ok := r.AwaitingSteps[stepName]
		if !ok {
			return 0, nil, fmt.Errorf("await entry not found for step %s", stepName)
		}
		now := time.Now()
		entry.Status = domain.AwaitStatusResolved
		entry.ResolvedAt = &now
		r.LastActivityAt = now
		position = entry.Position
		becameIdle = !r.HasActiveAwaits() && !r.Status.IsTerminal()
		if becameIdle {
			r.Status = domain.RunStatusRunning
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
	if becameIdle {
		o.bumpFlowStat(ctx, run.FlowName, "awaiting", -1)
	}
	if run.Status.IsTerminal() {
		return nil
	}

	if position == domain.AwaitPositionBefore {
		flow, ferr := o.flowOf(run)
		if ferr != nil {
			return ferr
		}
		step, ok := flow.Steps[stepName]
		if !ok {
			return ErrStepNotFound
		}
		return o.dispatchStep(ctx, run, flow, step)
	}

	return o.progressRun(ctx, run)
}

// AwaitTimedOut применяет timeoutAction (fail/continue/retry) к
// просроченному await'у.
func (o *Orchestrator) AwaitTimedOut(ctx context.Context, runID uuid.UUID, stepName string, action domain.TimeoutAction) error {
	var run *domain.FlowRun
	var becameIdle bool
	err := o.store.Indices.UpdateWithRetry(ctx, runsIndexKey, runID.String(), func(current *store.Entry) (float64, map[string]any, error) {
		r, err := entryToRun(current)
		if err != nil {
			return 0, nil, err
		}
		entry, ok := r.AwaitingSteps[stepName]
		if !ok {
			return 0, nil, fmt.Errorf("await entry not found for step %s", stepName)
		}
		entry.Status = domain.AwaitStatusTimeout
		r.LastActivityAt = time.Now()
		becameIdle = !r.HasActiveAwaits() && !r.Status.IsTerminal() && action != domain.TimeoutActionFail
		if becameIdle {
			r.Status = domain.RunStatusRunning
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
	if becameIdle {
		o.bumpFlowStat(ctx, run.FlowName, "awaiting", -1)
	}

	ev := domain.NewEvent(domain.EventAwaitTimeout, runID, run.FlowName, map[string]any{"timeoutAction": string(action)})
	ev.StepName = stepName
	if _, err := o.fabric.PublishRunEvent(ctx, ev); err != nil {
		o.logger.Warn("failed to publish await.timeout", "run_id", runID, "step", stepName, "error", err)
	}

	switch action {
	case domain.TimeoutActionFail:
		return o.finalizeRun(ctx, runID, domain.RunStatusFailed, fmt.Sprintf("await timed out for step %s", stepName))

	case domain.TimeoutActionContinue:
		if run.Status.IsTerminal() {
			return nil
		}
		return o.progressRun(ctx, run)

	case domain.TimeoutActionRetry:
		flow, ferr := o.flowOf(run)
		if ferr != nil {
			return ferr
		}
		step, ok := flow.Steps[stepName]
		if !ok {
			return ErrStepNotFound
		}
		awaitCfg, ok := o.awaitConfigForPosition(step, entryPosition(run, stepName))
		if !ok {
			return fmt.Errorf("no await config to retry for step %s", stepName)
		}
		return o.registerAwaitForStep(ctx, run, stepName, awaitCfg, entryPosition(run, stepName))

	default:
		return fmt.Errorf("unknown timeout action %q", action)
	}
}

func entryPosition(run *domain.FlowRun, stepName string) domain.AwaitPosition {
	if entry, ok := run.AwaitingSteps[stepName]; ok {
		return entry.Position
	}
	return domain.AwaitPositionBefore
}

func (o *Orchestrator) awaitConfigForPosition(step *domain.StepMeta, pos domain.AwaitPosition) (*domain.AwaitConfig, bool) {
	if pos == domain.AwaitPositionBefore {
		if step.AwaitBefore != nil {
			return step.AwaitBefore, true
		}
		return nil, false
	}
	if step.AwaitAfter != nil {
		return step.AwaitAfter, true
	}
	return nil, false
}
