package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип записи в потоке событий run'а или триггера.
type EventType string

const (
	EventFlowStart    EventType = "flow.start"
	EventFlowCompleted EventType = "flow.completed"
	EventFlowFailed    EventType = "flow.failed"
	EventFlowCancel    EventType = "flow.cancel"
	EventFlowStalled   EventType = "flow.stalled"

	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepRetry     EventType = "step.retry"

	EventLog   EventType = "log"
	EventEmit  EventType = "emit"
	EventState EventType = "state"

	EventAwaitRegistered EventType = "await.registered"
	EventAwaitResolved   EventType = "await.resolved"
	EventAwaitTimeout    EventType = "await.timeout"

	EventTriggerRegistered   EventType = "trigger.registered"
	EventTriggerUpdated      EventType = "trigger.updated"
	EventTriggerFired        EventType = "trigger.fired"
	EventSubscriptionAdded   EventType = "subscription.added"
	EventSubscriptionRemoved EventType = "subscription.removed"
)

// Event — запись append-only потока, единица персистентности всей системы.
//
// Каждое структурное изменение run'а или триггера проходит через Event:
// персистится Store'ом, который присваивает монотонный ID и отметку
// времени, затем публикуется на Stream Fabric.
type Event struct {
	// ID — монотонный идентификатор внутри потока (присваивается Store'ом).
	ID int64 `json:"id"`

	// TS — время персистентности.
	TS time.Time `json:"ts"`

	// Type — тип события.
	Type EventType `json:"type"`

	// RunID — run, к которому относится событие (для потоков flow:<runId>).
	RunID uuid.UUID `json:"run_id,omitempty"`

	// FlowName — имя flow.
	FlowName string `json:"flow_name,omitempty"`

	// StepName — имя шага, если событие относится к конкретному шагу.
	StepName string `json:"step_name,omitempty"`

	// StepID — синоним StepName для событий, где шаг идентифицируется отдельно
	// от имени (зарезервировано для будущих составных идентификаторов).
	StepID string `json:"step_id,omitempty"`

	// Attempt — номер попытки выполнения (для step.started/step.retry/step.failed).
	Attempt int `json:"attempt,omitempty"`

	// Data — произвольная полезная нагрузка события.
	Data map[string]any `json:"data,omitempty"`
}

// NewEvent создаёт Event с минимально необходимыми полями; ID и TS
// проставляются при добавлении в Stream Store'ом.
func NewEvent(typ EventType, runID uuid.UUID, flowName string, data map[string]any) Event {
	if data == nil {
		data = make(map[string]any)
	}
	return Event{
		Type:     typ,
		RunID:    runID,
		FlowName: flowName,
		Data:     data,
	}
}
