package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	mux.Handle("GET /api/_flows", chain(http.HandlerFunc(h.ListFlows)))
	mux.Handle("GET /api/_flows/{flow}", chain(http.HandlerFunc(h.GetFlow)))
	mux.Handle("POST /api/_flows/{flow}/start", chain(http.HandlerFunc(h.StartFlow)))
	mux.Handle("GET /api/_flows/{flow}/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/_flows/{flow}/runs/{runId}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("POST /api/_flows/{flow}/runs/{runId}/restart", chain(http.HandlerFunc(h.RestartRun)))
	mux.Handle("DELETE /api/_flows/{flow}/clear-history", chain(http.HandlerFunc(h.ClearHistory)))

	mux.Handle("POST /api/_webhook/await/{flow}/{runId}/{step}", chain(http.HandlerFunc(h.ResolveWebhookAwait)))

	// The websocket upgrade bypasses Logging (it would log for the entire
	// connection lifetime, not one request) but keeps Recovery.
	mux.Handle("GET /api/_flows/ws", Chain(Recovery(h.logger))(http.HandlerFunc(h.FlowEvents)))

	mux.Handle("GET /api/_triggers", chain(http.HandlerFunc(h.ListTriggers)))
	mux.Handle("POST /api/_triggers", chain(http.HandlerFunc(h.RegisterTrigger)))
	mux.Handle("POST /api/_triggers/{name}/fire", chain(http.HandlerFunc(h.FireTrigger)))
}
