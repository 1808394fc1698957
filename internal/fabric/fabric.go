package fabric

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/mq"
	"github.com/shaiso/nvent/internal/store"
)

// Fabric — точка входа для публикации событий: персистирует в Store,
// доставляет локальным подписчикам через Bus и ретранслирует во внешний
// топик RabbitMQ, если Publisher задан.
type Fabric struct {
	bus       *Bus
	store     *store.Store
	publisher *mq.Publisher
	logger    *slog.Logger
}

// New создаёт Fabric. publisher может быть nil — тогда события остаются
// только внутри процесса и персистируются, без кросс-инстансной доставки
// (подходит для однопроцессного развёртывания или тестов).
func New(st *store.Store, publisher *mq.Publisher, logger *slog.Logger) *Fabric {
	return &Fabric{
		bus:       NewBus(),
		store:     st,
		publisher: publisher,
		logger:    logger,
	}
}

// Bus возвращает внутреннюю шину для подписки.
func (f *Fabric) Bus() *Bus {
	return f.bus
}

func streamNameForRun(runID uuid.UUID) string {
	return "flow:" + runID.String()
}

// StreamNameForTrigger возвращает имя потока событий триггера.
func StreamNameForTrigger(triggerName string) string {
	return "trigger:" + triggerName
}

// PublishRunEvent персистирует и рассылает событие, относящееся к run'у.
func (f *Fabric) PublishRunEvent(ctx context.Context, ev domain.Event) (domain.Event, error) {
	seq, err := f.store.Streams.Append(ctx, streamNameForRun(ev.RunID), ev)
	if err != nil {
		return ev, fmt.Errorf("persist run event: %w", err)
	}
	ev.ID = seq

	f.bus.Publish(ev)

	if f.publisher != nil {
		if err := f.publisher.PublishFlowEvent(ctx, ev.RunID, ev); err != nil {
			f.logger.Warn("failed to relay flow event externally", "run_id", ev.RunID, "type", ev.Type, "error", err)
		}
	}
	return ev, nil
}

// PublishTriggerEvent персистирует и рассылает событие, относящееся к триггеру.
func (f *Fabric) PublishTriggerEvent(ctx context.Context, triggerName string, ev domain.Event) (domain.Event, error) {
	seq, err := f.store.Streams.Append(ctx, StreamNameForTrigger(triggerName), ev)
	if err != nil {
		return ev, fmt.Errorf("persist trigger event: %w", err)
	}
	ev.ID = seq

	f.bus.Publish(ev)

	if f.publisher != nil {
		if err := f.publisher.PublishTriggerFired(ctx, triggerName, ev.Data); err != nil {
			f.logger.Warn("failed to relay trigger event externally", "trigger", triggerName, "error", err)
		}
	}
	return ev, nil
}

// ReadRunEvents возвращает персистированную историю событий run'а.
func (f *Fabric) ReadRunEvents(ctx context.Context, runID uuid.UUID, opts store.ReadOptions) ([]domain.Event, error) {
	return f.store.Streams.Read(ctx, streamNameForRun(runID), opts)
}

// ReadTriggerEvents возвращает персистированную историю событий триггера.
func (f *Fabric) ReadTriggerEvents(ctx context.Context, triggerName string, opts store.ReadOptions) ([]domain.Event, error) {
	return f.store.Streams.Read(ctx, StreamNameForTrigger(triggerName), opts)
}

// DeleteRunEvents дропает весь поток событий run'а и возвращает число
// удалённых записей. Используется при реклайминге истории терминальных
// run'ов (internal/orchestrator.ClearHistory).
func (f *Fabric) DeleteRunEvents(ctx context.Context, runID uuid.UUID) (int64, error) {
	return f.store.Streams.Delete(ctx, streamNameForRun(runID))
}
