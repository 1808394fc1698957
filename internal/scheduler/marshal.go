package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/store"
)

func jobToMetadata(job *domain.ScheduleJob) (map[string]any, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal job to map: %w", err)
	}
	return m, nil
}

func entryToJob(e *store.Entry) (*domain.ScheduleJob, error) {
	raw, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal entry metadata: %w", err)
	}
	var job domain.ScheduleJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}
