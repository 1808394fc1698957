package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/shaiso/nvent/internal/await"
	"github.com/shaiso/nvent/internal/fabric"
	"github.com/shaiso/nvent/internal/orchestrator"
	"github.com/shaiso/nvent/internal/trigger"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	fabric    *fabric.Fabric
	registry  *orchestrator.Registry
	orch      *orchestrator.Orchestrator
	awaitMgr  *await.Manager
	triggerRT *trigger.Runtime
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// Config — конфигурация для создания Handler.
type Config struct {
	Fabric    *fabric.Fabric
	Registry  *orchestrator.Registry
	Orch      *orchestrator.Orchestrator
	AwaitMgr  *await.Manager
	TriggerRT *trigger.Runtime
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		fabric:    cfg.Fabric,
		registry:  cfg.Registry,
		orch:      cfg.Orch,
		awaitMgr:  cfg.AwaitMgr,
		triggerRT: cfg.TriggerRT,
		logger:    cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// CheckOrigin is permissive — the API is expected to sit behind a
			// reverse proxy that enforces origin policy, matching the teacher's
			// treatment of CORS at the middleware layer rather than per-handler.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
