package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
)

// StartFlow создаёт новый run: персистирует индексную запись, публикует
// flow.start и сразу пересчитывает готовность (entry обычно делает хотя бы
// один шаг runnable без дополнительных событий).
func (o *Orchestrator) StartFlow(ctx context.Context, flowName string, input map[string]any, meta domain.RunMeta) (*domain.FlowRun, error) {
	flow, ok := o.registry.GetFlow(flowName)
	if !ok {
		return nil, ErrFlowNotRegistered
	}

	run := domain.NewFlowRun(uuid.New(), flowName, input, flow.MaxLevel+1)
	run.Meta = meta

	runMeta, err := runToMetadata(run)
	if err != nil {
		return nil, fmt.Errorf("marshal new run: %w", err)
	}
	if err := o.store.Indices.Add(ctx, runsIndexKey, run.RunID.String(), float64(run.StartedAt.UnixNano()), runMeta); err != nil {
		return nil, fmt.Errorf("persist new run: %w", err)
	}

	o.bumpFlowStat(ctx, flowName, "totalStarted", 1)
	o.bumpFlowStat(ctx, flowName, "running", 1)
	if o.metrics != nil {
		o.metrics.RunsStarted.Inc()
	}

	ev := domain.NewEvent(domain.EventFlowStart, run.RunID, flowName, map[string]any{"input": input})
	if _, err := o.fabric.PublishRunEvent(ctx, ev); err != nil {
		o.logger.Warn("failed to publish flow.start", "run_id", run.RunID, "error", err)
	}

	if err := o.progressRun(ctx, run); err != nil {
		o.logger.Error("failed to evaluate initial readiness", "run_id", run.RunID, "error", err)
	}

	return run, nil
}

// CancelFlow публикует flow.cancel и финализирует run как canceled. Любой
// инстанс, получивший это событие (через Bus или очередь событий), идемпотентно
// не делает ничего — run уже терминален к моменту, когда событие до него дойдёт.
func (o *Orchestrator) CancelFlow(ctx context.Context, runID uuid.UUID) error {
	run, err := o.getRun(ctx, runID.String())
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return ErrRunTerminal
	}
	ev := domain.NewEvent(domain.EventFlowCancel, runID, run.FlowName, nil)
	if _, err := o.fabric.PublishRunEvent(ctx, ev); err != nil {
		return fmt.Errorf("publish flow.cancel: %w", err)
	}
	return o.finalizeRun(ctx, runID, domain.RunStatusCanceled, "")
}

// RestartFlow запускает новый run того же flow с исходным вводом прерванного
// run'а — сам прерванный run не затрагивается (остаётся в своём текущем
// терминальном/stalled статусе как историческая запись).
func (o *Orchestrator) RestartFlow(ctx context.Context, runID uuid.UUID) (*domain.FlowRun, error) {
	run, err := o.getRun(ctx, runID.String())
	if err != nil {
		return nil, err
	}
	return o.StartFlow(ctx, run.FlowName, run.Input, domain.RunMeta{
		TriggerName:  run.Meta.TriggerName,
		TriggerType:  run.Meta.TriggerType,
		StallTimeout: run.Meta.StallTimeout,
	})
}

// GetRun возвращает run по ID — тонкая публичная обёртка над getRun для
// вызывающих за пределами пакета (API-хендлеров).
func (o *Orchestrator) GetRun(ctx context.Context, runID uuid.UUID) (*domain.FlowRun, error) {
	return o.getRun(ctx, runID.String())
}

// ListRuns возвращает run'ы flowName, отсортированные от новых к старым
// (Indices.Read уже отдаёт их по убыванию score, а score — это StartedAt),
// с offset/limit, применёнными после фильтрации по имени flow. total — общее
// число run'ов flowName перед пагинацией, для построения envelope
// {items, total, offset, limit, hasMore} в API-слое.
func (o *Orchestrator) ListRuns(ctx context.Context, flowName string, offset, limit int) ([]*domain.FlowRun, int, error) {
	entries, err := o.store.Indices.Read(ctx, runsIndexKey, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("read runs index: %w", err)
	}

	matched := make([]*domain.FlowRun, 0, len(entries))
	for _, e := range entries {
		run, err := entryToRun(e)
		if err != nil {
			o.logger.Warn("failed to decode run entry while listing runs", "entry_id", e.ID, "error", err)
			continue
		}
		if run.FlowName != flowName {
			continue
		}
		matched = append(matched, run)
	}

	total := len(matched)
	if offset >= total {
		return []*domain.FlowRun{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// ClearHistory удаляет записи run'ов указанного flow, завершившихся раньше
// olderThan, из индекса runs и дропает их потоки событий. Кандидаты —
// только терминальные run'ы (completed/failed/canceled) с CompletedAt;
// активные и stalled run'ы пропускаются здесь же.
func (o *Orchestrator) ClearHistory(ctx context.Context, flowName string, olderThan time.Time) (int64, error) {
	entries, err := o.store.Indices.Read(ctx, runsIndexKey, 0)
	if err != nil {
		return 0, fmt.Errorf("read runs index: %w", err)
	}

	var removed int64
	for _, e := range entries {
		run, err := entryToRun(e)
		if err != nil {
			o.logger.Warn("failed to decode run entry during clear history", "entry_id", e.ID, "error", err)
			continue
		}
		if run.FlowName != flowName {
			continue
		}
		if !run.Status.IsTerminal() {
			continue
		}
		if run.CompletedAt == nil || run.CompletedAt.After(olderThan) {
			continue
		}
		if err := o.store.Indices.Delete(ctx, runsIndexKey, e.ID); err != nil {
			o.logger.Warn("failed to delete run entry", "run_id", e.ID, "error", err)
			continue
		}
		if _, err := o.fabric.DeleteRunEvents(ctx, run.RunID); err != nil {
			o.logger.Warn("failed to drop run event stream", "run_id", e.ID, "error", err)
		}
		removed++
	}
	return removed, nil
}
