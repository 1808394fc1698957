package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/orchestrator"
)

// ResolveWebhookAwait resolves a webhook await registered by a flow's step.
// POST /api/_webhook/await/{flow}/{runId}/{step}
func (h *Handler) ResolveWebhookAwait(w http.ResponseWriter, r *http.Request) {
	flowName := r.PathValue("flow")
	stepName := r.PathValue("step")

	runID, err := uuid.Parse(r.PathValue("runId"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	var triggerData map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&triggerData); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	if err := h.awaitMgr.Resolve(r.Context(), runID, flowName, stepName, triggerData); err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			NotFound(w, "run not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}
