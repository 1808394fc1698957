package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges. ExchangeJobs и ExchangeEvents — topic-обменники: набор очередей
// шагов и имён триггеров неизвестен заранее, поэтому маршрутизация строится
// по шаблону routing key, а не по фиксированному списку привязок.
const (
	// ExchangeJobs маршрутизирует job'ы диспетчерам по имени очереди шага
	// ("jobs.<queue>").
	ExchangeJobs Exchange = "nvent.jobs"

	// ExchangeEvents рассылает события run'ов и триггеров внешним
	// потребителям ("flow.events.<runId>", "trigger.events.<name>").
	ExchangeEvents Exchange = "nvent.events"

	// ExchangeDLQ — direct обменник для job'ов, не поддавшихся парсингу.
	ExchangeDLQ Exchange = "nvent.dlq"
)

// RoutingKeyFlowEvents строит routing key для событий конкретного run'а.
func RoutingKeyFlowEvents(runID string) RoutingKey {
	return RoutingKey("flow.events." + runID)
}

// RoutingKeyTriggerEvents строит routing key для событий конкретного триггера.
func RoutingKeyTriggerEvents(triggerName string) RoutingKey {
	return RoutingKey("trigger.events." + triggerName)
}

// RoutingKeyJobQueue строит routing key job'а для заданной очереди шага.
func RoutingKeyJobQueue(queue string) RoutingKey {
	return RoutingKey("jobs." + queue)
}

// QueueDLQJobs — единственная DLQ-очередь для job'ов, не поддавшихся парсингу.
const QueueDLQJobs Queue = "nvent.dlq.jobs"

const routingKeyDLQJobs RoutingKey = "dlq"

// DeclareCoreTopology создаёт обменники jobs/events/dlq и единственную
// DLQ-очередь. Вызывается один раз при старте каждого сервиса; очереди
// отдельных шагов объявляются лениво — см. DeclareJobQueue.
func DeclareCoreTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		exchanges := []struct {
			name Exchange
			kind string
		}{
			{ExchangeJobs, "topic"},
			{ExchangeEvents, "topic"},
			{ExchangeDLQ, "direct"},
		}
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		if _, err := ch.QueueDeclare(string(QueueDLQJobs), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueDLQJobs, err)
		}
		if err := ch.QueueBind(string(QueueDLQJobs), string(routingKeyDLQJobs), string(ExchangeDLQ), false, nil); err != nil {
			return fmt.Errorf("bind dlq queue: %w", err)
		}
		return nil
	})
}

// DeclareJobQueue объявляет (идемпотентно) очередь для конкретного имени
// очереди шага и привязывает её к ExchangeJobs по соответствующему routing
// key. Queue'и, не поддавшиеся парсингу в consumer.go, уходят в DLQ через
// x-dead-letter-exchange.
func DeclareJobQueue(ctx context.Context, conn *Connection, queue string) (Queue, error) {
	name := Queue("nvent.jobs." + queue)
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(routingKeyDLQJobs),
	}
	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(string(name), true, false, false, false, dlqArgs); err != nil {
			return fmt.Errorf("declare job queue %s: %w", name, err)
		}
		if err := ch.QueueBind(string(name), string(RoutingKeyJobQueue(queue)), string(ExchangeJobs), false, nil); err != nil {
			return fmt.Errorf("bind job queue %s: %w", name, err)
		}
		return nil
	})
	return name, err
}

// DeclareEventQueue объявляет временную очередь, привязанную к заданному
// шаблону routing key на ExchangeEvents (используется Orchestrator'ом для
// приёма событий run'ов от других инстансов по шаблону flow.events.*).
func DeclareEventQueue(ctx context.Context, conn *Connection, bindingPattern string) (Queue, error) {
	var name Queue
	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return fmt.Errorf("declare event queue: %w", err)
		}
		name = Queue(q.Name)
		if err := ch.QueueBind(q.Name, bindingPattern, string(ExchangeEvents), false, nil); err != nil {
			return fmt.Errorf("bind event queue: %w", err)
		}
		return nil
	})
	return name, err
}

// InspectQueueDepth возвращает текущее число сообщений, ожидающих доставки в
// queue (уже полное имя, например результат DeclareJobQueue), через пассивное
// QueueInspect. Используется для периодического обновления gauge'а
// telemetry.Metrics.QueueDepth диспетчером internal/handler.
func InspectQueueDepth(ctx context.Context, conn *Connection, queue Queue) (int, error) {
	var count int
	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueInspect(string(queue))
		if err != nil {
			return fmt.Errorf("inspect queue %s: %w", queue, err)
		}
		count = q.Messages
		return nil
	})
	return count, err
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  nvent RabbitMQ Topology:

    nvent.jobs (topic)
    └── nvent.jobs.<queue> [binding: jobs.<queue>]
            Consumer: per-queue dispatcher (internal/handler)
            DLQ: nvent.dlq.jobs

    nvent.events (topic)
    └── <ephemeral> [binding: flow.events.<runId> | trigger.events.<name>]
            Consumer: orchestrator (binding flow.events.*)

    nvent.dlq (direct)
    └── nvent.dlq.jobs [routing: dlq]
            Manual processing
  `
}
