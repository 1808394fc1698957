package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReconnectMin = time.Second
	wsReconnectMax = 10 * time.Second
)

// wsSubscribeMessage — сообщение на подписку на run, отправляемое сразу
// после установки соединения.
type wsSubscribeMessage struct {
	Type     string    `json:"type"`
	FlowName string    `json:"flowName"`
	RunID    uuid.UUID `json:"runId"`
}

type wsHistoryMessage struct {
	Type   string          `json:"type"`
	Events []EventResponse `json:"events"`
}

type wsEventMessage struct {
	Type  string        `json:"type"`
	Event EventResponse `json:"event"`
}

// WatchRunEvents подключается к потоку событий run'а и вызывает onEvent для
// истории и каждого последующего живого события, пока ctx не отменён.
// Переподключается с экспоненциальным backoff (1s..10s, джиттер) при разрыве
// соединения — тем же способом, каким сервер ожидает от любого
// долгоживущего клиента (закрытие 1001/1006 подразумевает переподключение).
func (c *Client) WatchRunEvents(ctx context.Context, flowName string, runID uuid.UUID, onEvent func(EventResponse)) error {
	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}

	backoff := wsReconnectMin
	for {
		err := c.watchOnce(ctx, wsURL, flowName, runID, onEvent)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Сервер закрыл соединение штатно (1000) — подписка завершена.
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(backoff)):
		}

		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, wsURL, flowName string, runID uuid.UUID, onEvent func(EventResponse)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := conn.WriteJSON(wsSubscribeMessage{Type: "subscribe", FlowName: flowName, RunID: runID}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	for {
		var envelope struct {
			Type string `json:"type"`
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case "history":
			var msg wsHistoryMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			for _, ev := range msg.Events {
				onEvent(ev)
			}
		case "event":
			var msg wsEventMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			onEvent(msg.Event)
		}
	}
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/_flows/ws"
	return u.String(), nil
}

func jittered(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
