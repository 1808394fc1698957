package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaiso/nvent/internal/store"
)

const (
	// wsHistoryLimit caps the replayed backlog sent right after subscribe —
	// a run can accumulate thousands of events over its lifetime and the
	// client only needs enough context to render the current state.
	wsHistoryLimit = 100

	wsPingInterval = 30 * time.Second
	wsPongWait     = 60 * time.Second
)

// FlowEvents handles the duplex subscription channel: a client connects,
// sends one {type:"subscribe",flowName,runId} message, receives the recent
// event history for that run, then a live feed of every subsequent event
// until it disconnects or the server closes the socket.
// GET /api/_flows/ws (upgrade)
func (h *Handler) FlowEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	var sub WSSubscribeMessage
	if err := conn.ReadJSON(&sub); err != nil {
		h.logger.Debug("websocket subscribe read failed", "error", err)
		return
	}

	events, err := h.fabric.ReadRunEvents(r.Context(), sub.RunID, store.ReadOptions{Descending: true, Limit: wsHistoryLimit})
	if err != nil {
		h.logger.Warn("failed to read run history for websocket subscriber", "run_id", sub.RunID, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "history read failed"),
			time.Now().Add(time.Second))
		return
	}
	// Read returns newest-first for Descending; replay in persistence order.
	history := make([]EventResponse, len(events))
	for i, ev := range events {
		history[len(events)-1-i] = EventFromDomain(ev)
	}
	if err := conn.WriteJSON(WSHistoryMessage{Type: "history", Events: history}); err != nil {
		return
	}

	busSub := h.fabric.Bus().SubscribeRunID(sub.RunID)
	defer busSub.Close()

	done := make(chan struct{})
	go h.wsReadLoop(conn, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			// 1001: server restart — client reconnects with backoff.
			h.wsClose(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-done:
			return
		case ev, ok := <-busSub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(WSEventMessage{Type: "event", Event: EventFromDomain(ev)}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

// wsReadLoop drains (and discards) anything the client sends after the
// initial subscribe — keeps the connection's pong handler firing and
// detects client-initiated close.
func (h *Handler) wsReadLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) wsClose(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
