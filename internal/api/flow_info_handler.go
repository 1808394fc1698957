package api

import (
	"net/http"
)

// FlowStepResponse — представление одного шага внутри проанализированного flow.
type FlowStepResponse struct {
	Name          string   `json:"name"`
	Queue         string   `json:"queue"`
	WorkerID      string   `json:"workerId"`
	Subscribes    []string `json:"subscribes,omitempty"`
	Emits         []string `json:"emits,omitempty"`
	Level         int      `json:"level"`
	DependsOn     []string `json:"dependsOn,omitempty"`
	Triggers      []string `json:"triggers,omitempty"`
	StepTimeoutMs int64    `json:"stepTimeoutMs,omitempty"`
}

// FlowInfoResponse — представление проанализированного flow во внешнем API.
type FlowInfoResponse struct {
	Name         string             `json:"name"`
	EntryStep    string             `json:"entryStep"`
	StepCount    int                `json:"stepCount"`
	MaxLevel     int                `json:"maxLevel"`
	HasAwait     bool               `json:"hasAwait"`
	StallTimeout int64              `json:"stallTimeoutMs,omitempty"`
	Steps        []FlowStepResponse `json:"steps"`
}

// ListFlows возвращает имена всех зарегистрированных flow.
// GET /api/_flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	names := h.registry.FlowNames()
	List(w, names, len(names))
}

// GetFlow возвращает структуру проанализированного flow — шаги, зависимости,
// уровни готовности — как её видит Orchestrator при диспетчеризации.
// GET /api/_flows/{flow}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	flowName := r.PathValue("flow")

	flow, ok := h.registry.GetFlow(flowName)
	if !ok {
		NotFound(w, "flow not registered")
		return
	}

	steps := make([]FlowStepResponse, 0, len(flow.StepOrder))
	for _, name := range flow.StepOrder {
		meta, ok := flow.Steps[name]
		if !ok {
			continue
		}
		steps = append(steps, FlowStepResponse{
			Name:          meta.Name,
			Queue:         meta.Queue,
			WorkerID:      meta.WorkerID,
			Subscribes:    meta.Subscribes,
			Emits:         meta.Emits,
			Level:         meta.Level,
			DependsOn:     meta.DependsOn,
			Triggers:      meta.Triggers,
			StepTimeoutMs: meta.StepTimeoutMs,
		})
	}

	Success(w, FlowInfoResponse{
		Name:         flow.Name,
		EntryStep:    flow.Entry.Step,
		StepCount:    flow.StepCount(),
		MaxLevel:     flow.MaxLevel,
		HasAwait:     flow.HasAwait,
		StallTimeout: flow.StallTimeout,
		Steps:        steps,
	})
}
