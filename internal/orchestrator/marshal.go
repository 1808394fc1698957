package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/store"
)

const (
	runsIndexKey      = "runs"
	flowStatsIndexKey = "flow_stats"
)

func runToMetadata(r *domain.FlowRun) (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal run to map: %w", err)
	}
	return m, nil
}

func entryToRun(e *store.Entry) (*domain.FlowRun, error) {
	raw, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal run entry metadata: %w", err)
	}
	var r domain.FlowRun
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}

// flowStats — счётчики, сопровождающие каждое зарегистрированное имя flow.
// running/awaiting пересчитываются Stall Detector'ом при старте (текущее
// состояние, не кумулятивное); total* — монотонные кумулятивные счётчики,
// обновляемые исключительно через Indices.Increment.
type flowStats struct {
	Running        float64 `json:"running"`
	Awaiting       float64 `json:"awaiting"`
	TotalStarted   float64 `json:"totalStarted"`
	TotalCompleted float64 `json:"totalCompleted"`
	TotalFailed    float64 `json:"totalFailed"`
	TotalCanceled  float64 `json:"totalCanceled"`
	TotalStalled   float64 `json:"totalStalled"`
}

func flowStatsToMetadata(s flowStats) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal flow stats: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal flow stats to map: %w", err)
	}
	return m, nil
}

func entryToFlowStats(e *store.Entry) (flowStats, error) {
	raw, err := json.Marshal(e.Metadata)
	if err != nil {
		return flowStats{}, fmt.Errorf("marshal flow stats entry: %w", err)
	}
	var s flowStats
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			return flowStats{}, fmt.Errorf("unmarshal flow stats: %w", err)
		}
	}
	return s, nil
}
