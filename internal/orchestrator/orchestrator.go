package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shaiso/nvent/internal/await"
	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/fabric"
	"github.com/shaiso/nvent/internal/mq"
	"github.com/shaiso/nvent/internal/store"
	"github.com/shaiso/nvent/internal/telemetry"
)

// Orchestrator реагирует на структурные события run'ов (flow.start,
// step.completed, step.failed, emit, flow.cancel), продвигая каждый run по
// его DAG: вычисляет готовность нисходящих шагов, диспетчеризует их через
// Job Broker, организует await'ы и распознаёт терминальное состояние.
//
// В отличие от предшествующей модели, run'ы не держатся в памяти целиком:
// каждый обработчик события читает актуальный FlowRun из Store.Indices и
// публикует изменения через UpdateWithRetry, так что любой инстанс
// Orchestrator'а может продолжить любой run после рестарта.
type Orchestrator struct {
	store    *store.Store
	fabric   *fabric.Fabric
	registry *Registry
	awaitMgr *await.Manager
	mqConn   *mq.Connection
	mqPub    *mq.Publisher
	logger   *slog.Logger

	sub        *fabric.Subscription
	eventsCons *mq.Consumer

	metrics *telemetry.Metrics

	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store    *store.Store
	Fabric   *fabric.Fabric
	Registry *Registry
	AwaitMgr *await.Manager

	// MQConn/MQPub — опциональны: без RabbitMQ Orchestrator работает только
	// в пределах одного процесса, полагаясь на fabric.Bus для доставки.
	MQConn *mq.Connection
	MQPub  *mq.Publisher

	// Metrics — опционально; nil отключает счётчики run'ов без дополнительных
	// проверок на стороне вызывающего кода.
	Metrics *telemetry.Metrics

	Logger *slog.Logger
}

// New создаёт Orchestrator и связывает его с Await Subsystem как
// await.RunCoordinator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:    cfg.Store,
		fabric:   cfg.Fabric,
		registry: cfg.Registry,
		awaitMgr: cfg.AwaitMgr,
		mqConn:   cfg.MQConn,
		mqPub:    cfg.MQPub,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
	if o.awaitMgr != nil {
		o.awaitMgr.SetCoordinator(o)
	}
	return o
}

// Start подписывается на структурные события: локально через fabric.Bus
// (доставка в пределах процесса) и, если передан MQConn, через очередь
// событий RabbitMQ (fan-in от других инстансов).
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.sub = o.fabric.Bus().SubscribeAll()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for ev := range o.sub.Events() {
			if err := o.HandleEvent(ctx, ev); err != nil {
				o.logger.Error("failed to handle event", "type", ev.Type, "run_id", ev.RunID, "error", err)
			}
		}
	}()

	if o.mqConn != nil {
		queueName, err := mq.DeclareEventQueue(ctx, o.mqConn, "flow.events.*")
		if err != nil {
			return fmt.Errorf("declare orchestrator event queue: %w", err)
		}
		o.eventsCons = mq.NewConsumer(o.mqConn, o.logger, mq.ConsumerConfig{
			Queue:    string(queueName),
			Handler:  o.handleMQFlowEvent,
			Prefetch: 20,
		})
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.eventsCons.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("orchestrator events consumer error", "error", err)
			}
		}()
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator и ждёт завершения фоновых горутин.
func (o *Orchestrator) Stop() {
	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.sub != nil {
		o.sub.Close()
	}
	if o.eventsCons != nil {
		o.eventsCons.Stop()
	}
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) handleMQFlowEvent(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.FlowEventPayload](&d.Message)
	if err != nil {
		return fmt.Errorf("parse flow event payload: %w", err)
	}
	return o.HandleEvent(ctx, payload.Event)
}

func (o *Orchestrator) getRun(ctx context.Context, runID string) (*domain.FlowRun, error) {
	entry, err := o.store.Indices.Get(ctx, runsIndexKey, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return entryToRun(entry)
}

func (o *Orchestrator) flowOf(run *domain.FlowRun) (*domain.AnalyzedFlow, error) {
	flow, ok := o.registry.GetFlow(run.FlowName)
	if !ok {
		return nil, ErrFlowNotRegistered
	}
	return flow, nil
}

// bumpFlowStat увеличивает числовое поле flow_stats на delta. Создаёт запись
// лениво при первом использовании имени flow.
func (o *Orchestrator) bumpFlowStat(ctx context.Context, flowName, field string, delta float64) {
	_, err := o.store.Indices.Increment(ctx, flowStatsIndexKey, flowName, field, delta)
	if errors.Is(err, store.ErrNotFound) {
		meta, merr := flowStatsToMetadata(flowStats{})
		if merr != nil {
			o.logger.Warn("failed to build empty flow stats", "flow", flowName, "error", merr)
			return
		}
		if err = o.store.Indices.Add(ctx, flowStatsIndexKey, flowName, 0, meta); err == nil {
			_, err = o.store.Indices.Increment(ctx, flowStatsIndexKey, flowName, field, delta)
		}
	}
	if err != nil {
		o.logger.Warn("failed to update flow stats", "flow", flowName, "field", field, "error", err)
	}
}
