package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/nvent/internal/stall"
	"github.com/shaiso/nvent/internal/store"
)

// ReconcileFlowStats реализует stall.FlowStatsReconciler: перезаписывает
// flow_stats.running/awaiting ground-truth-значениями, которые Stall
// Detector пересчитал из runs-индекса во время скана, — это чинит дрейф,
// накопленный упавшим процессом между bumpFlowStat и фактическим
// событием (или потерянным MQ-сообщением). Кумулятивные total*-поля не
// трогаются: они остаются источником правды только для Indices.Increment.
func (o *Orchestrator) ReconcileFlowStats(ctx context.Context, counts map[string]stall.FlowRunCounts) error {
	seen := make(map[string]bool, len(counts))
	for flowName, c := range counts {
		seen[flowName] = true
		if err := o.setFlowRunningAwaiting(ctx, flowName, float64(c.Running), float64(c.Awaiting)); err != nil {
			o.logger.Warn("failed to reconcile flow stats", "flow", flowName, "error", err)
		}
	}

	entries, err := o.store.Indices.Read(ctx, flowStatsIndexKey, 0)
	if err != nil {
		return fmt.Errorf("read flow stats index: %w", err)
	}
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		if err := o.setFlowRunningAwaiting(ctx, e.ID, 0, 0); err != nil {
			o.logger.Warn("failed to zero stale flow stats", "flow", e.ID, "error", err)
		}
	}
	return nil
}

// setFlowRunningAwaiting overwrites running/awaiting for flowName, creating
// the flow_stats entry if it doesn't exist yet.
func (o *Orchestrator) setFlowRunningAwaiting(ctx context.Context, flowName string, running, awaiting float64) error {
	err := o.store.Indices.UpdateWithRetry(ctx, flowStatsIndexKey, flowName, func(current *store.Entry) (float64, map[string]any, error) {
		s, err := entryToFlowStats(current)
		if err != nil {
			return 0, nil, err
		}
		s.Running = running
		s.Awaiting = awaiting
		meta, err := flowStatsToMetadata(s)
		return current.Score, meta, err
	})
	if errors.Is(err, store.ErrNotFound) {
		meta, merr := flowStatsToMetadata(flowStats{Running: running, Awaiting: awaiting})
		if merr != nil {
			return merr
		}
		return o.store.Indices.Add(ctx, flowStatsIndexKey, flowName, 0, meta)
	}
	return err
}
