package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/orchestrator"
)

// StartFlow запускает новый run указанного flow.
// POST /api/_flows/{flow}/start
func (h *Handler) StartFlow(w http.ResponseWriter, r *http.Request) {
	flowName := r.PathValue("flow")

	var input map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	run, err := h.orch.StartFlow(r.Context(), flowName, input, domain.RunMeta{})
	if err != nil {
		if errors.Is(err, orchestrator.ErrFlowNotRegistered) {
			NotFound(w, "flow not registered")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Created(w, StartRunResponse{FlowID: run.RunID})
}

// ListRuns возвращает постраничный список run'ов одного flow.
// GET /api/_flows/{flow}/runs?limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	flowName := r.PathValue("flow")

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	runs, total, err := h.orch.ListRuns(r.Context(), flowName, offset, limit)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	items := make([]RunResponse, len(runs))
	for i, run := range runs {
		items[i] = RunFromDomain(run)
	}

	Success(w, ListRunsResponse{
		Items:   items,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+len(items) < total,
	})
}

// CancelRun отменяет активный run.
// POST /api/_flows/{flow}/runs/{runId}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("runId"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if err := h.orch.CancelFlow(r.Context(), runID); err != nil {
		h.handleOrchestratorError(w, err, "run not found")
		return
	}

	NoContent(w)
}

// RestartRun запускает новый run того же flow с исходным input'ом.
// POST /api/_flows/{flow}/runs/{runId}/restart
func (h *Handler) RestartRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("runId"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	newRun, err := h.orch.RestartFlow(r.Context(), runID)
	if err != nil {
		h.handleOrchestratorError(w, err, "run not found")
		return
	}

	Created(w, RestartRunResponse{NewRunID: newRun.RunID})
}

// ClearHistory удаляет терминальные run'ы flow старше заданной давности.
// DELETE /api/_flows/{flow}/clear-history?olderThanHours=...
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	flowName := r.PathValue("flow")

	hours := queryInt(r, "olderThanHours", 0)
	olderThan := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	removed, err := h.orch.ClearHistory(r.Context(), flowName, olderThan)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, ClearHistoryResponse{Removed: removed})
}

func (h *Handler) handleOrchestratorError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound):
		NotFound(w, notFoundMsg)
	case errors.Is(err, orchestrator.ErrFlowNotRegistered):
		NotFound(w, "flow not registered")
	case errors.Is(err, orchestrator.ErrRunTerminal):
		InvalidState(w, err.Error())
	default:
		InternalError(w, h.logger, err)
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return v
}
