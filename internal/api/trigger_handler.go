package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/trigger"
)

// ListTriggers возвращает все зарегистрированные триггеры.
// GET /api/_triggers
func (h *Handler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.triggerRT.ListTriggers(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	result := make([]TriggerResponse, len(triggers))
	for i, t := range triggers {
		result[i] = TriggerFromDomain(t)
	}
	List(w, result, len(result))
}

// RegisterTrigger создаёт новый триггер.
// POST /api/_triggers
func (h *Handler) RegisterTrigger(w http.ResponseWriter, r *http.Request) {
	var req RegisterTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	var schedule *domain.TriggerScheduleConfig
	if domain.TriggerType(req.Type) == domain.TriggerTypeSchedule {
		schedule = &domain.TriggerScheduleConfig{CronExpr: req.CronExpr, Timezone: req.Timezone}
	}

	t, err := h.triggerRT.RegisterTrigger(r.Context(), req.Name, domain.TriggerType(req.Type), domain.TriggerScope(req.Scope), schedule)
	if err != nil {
		if errors.Is(err, trigger.ErrTriggerConflict) {
			Conflict(w, "trigger name already registered with a different type/scope")
			return
		}
		if errors.Is(err, trigger.ErrInvalidSchedule) {
			BadRequest(w, err.Error())
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Created(w, TriggerFromDomain(t))
}

// FireTrigger fires a registered trigger and starts a run for every flow
// auto-subscribed to it.
// POST /api/_triggers/{name}/fire
func (h *Handler) FireTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var data map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	started, err := h.triggerRT.FireAndStart(r.Context(), name, data, trigger.EmitOptions{})
	if err != nil {
		switch {
		case errors.Is(err, trigger.ErrTriggerNotFound):
			NotFound(w, "trigger not found")
		case errors.Is(err, trigger.ErrTriggerRetired):
			InvalidState(w, "trigger is retired")
		default:
			InternalError(w, h.logger, err)
		}
		return
	}

	resp := FireTriggerResponse{StartedRunIDs: make(map[string]uuid.UUID, len(started))}
	for flowName, runID := range started {
		resp.StartedRunIDs[flowName] = runID
	}

	Success(w, resp)
}
