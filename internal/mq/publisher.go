package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/nvent/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeJobReady     MessageType = "job.ready"
	MessageTypeFlowEvent    MessageType = "flow.event"
	MessageTypeTriggerFired MessageType = "trigger.fired"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// JobReadyPayload — payload для job'а, готового к выполнению на диспетчере шага.
type JobReadyPayload struct {
	// JobID — детерминированный идентификатор "<runId>__<stepName>".
	// Диспетчер internal/handler пишет его в логи; повторную доставку
	// одного и того же job'а по нему не отсекает.
	JobID    string         `json:"job_id"`
	RunID    uuid.UUID      `json:"run_id"`
	FlowName string         `json:"flow_name"`
	StepName string         `json:"step_name"`
	WorkerID string         `json:"worker_id"`
	Queue    string         `json:"queue"`
	Input    map[string]any `json:"input,omitempty"`
	Attempt  int            `json:"attempt"`

	// Emits — имена событий, которые диспетчер публикует как emit сразу
	// после успешного завершения шага (статическая форма emit, см.
	// internal/handler).
	Emits []string `json:"emits,omitempty"`

	// StepTimeoutMs — эффективный таймаут шага в миллисекундах (0 — нет
	// таймаута). Диспетчер оборачивает вызов Handler.Run в
	// context.WithTimeout на основе этого значения.
	StepTimeoutMs int64 `json:"step_timeout_ms,omitempty"`
}

// FlowEventPayload оборачивает событие потока run'а для внешних подписчиков.
type FlowEventPayload struct {
	Event domain.Event `json:"event"`
}

// TriggerFiredPayload — payload срабатывания триггера.
type TriggerFiredPayload struct {
	TriggerName string         `json:"trigger_name"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishJobReady публикует job на очередь шага. Потребитель: диспетчер
// internal/handler, слушающий именно эту очередь (nvent.jobs.<queue>).
func (p *Publisher) PublishJobReady(ctx context.Context, payload JobReadyPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeJobReady,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, ExchangeJobs, RoutingKeyJobQueue(payload.Queue), msg)
}

// PublishFlowEvent публикует событие run'а для внешних подписчиков
// (Orchestrator'ы, слушающие flow.events.*). Не критична для
// прогресса run'а — персистентность обеспечивает Store, а не эта доставка.
func (p *Publisher) PublishFlowEvent(ctx context.Context, runID uuid.UUID, ev domain.Event) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeFlowEvent,
		Payload:   FlowEventPayload{Event: ev},
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, ExchangeEvents, RoutingKeyFlowEvents(runID.String()), msg)
}

// PublishTriggerFired публикует срабатывание триггера во внешние потоки.
func (p *Publisher) PublishTriggerFired(ctx context.Context, triggerName string, payload map[string]any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTriggerFired,
		Payload:   TriggerFiredPayload{TriggerName: triggerName, Payload: payload},
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, ExchangeEvents, RoutingKeyTriggerEvents(triggerName), msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, exchange, routingKey, msg)
}
