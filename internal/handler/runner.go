package handler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/fabric"
	"github.com/shaiso/nvent/internal/mq"
)

const defaultPrefetch = 10

// Runner — диспетчер шагов: один consumer RabbitMQ на очередь, потребляет
// job.ready, исполняет Handler по workerID и публикует результат через
// Stream Fabric.
//
// В отличие от предшествующего Worker (internal/worker), Runner не опрашивает
// БД как fallback — job.ready для данной очереди всегда приходит через
// RabbitMQ, а пропущенные/зависшие run'ы реконсилирует Stall Detector
// (internal/stall), а не polling здесь.
type Runner struct {
	conn     *mq.Connection
	fabric   *fabric.Fabric
	registry *Registry
	logger   *slog.Logger
	prefetch int
	queues   []string

	consumers []*mq.Consumer
	wg        sync.WaitGroup
}

// Config — конфигурация Runner.
type Config struct {
	Conn     *mq.Connection
	Fabric   *fabric.Fabric
	Registry *Registry

	// Queues — имена очередей шагов, которые должен обслуживать этот процесс.
	// Соответствуют значению StepMeta.Queue в манифестах воркеров.
	Queues []string

	Prefetch int
	Logger   *slog.Logger
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	r := &Runner{
		conn:     cfg.Conn,
		fabric:   cfg.Fabric,
		registry: registry,
		logger:   logger,
		prefetch: prefetch,
		queues:   cfg.Queues,
	}
	return r
}

// Start объявляет очередь job'ов для каждого обслуживаемого шага и запускает
// по одному consumer'у на очередь.
func (r *Runner) Start(ctx context.Context) error {
	r.consumers = r.consumers[:0]
	for _, queue := range r.queues {
		if _, err := mq.DeclareJobQueue(ctx, r.conn, queue); err != nil {
			return err
		}
		consumer := mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
			Queue:    "nvent.jobs." + queue,
			Handler:  r.handleJobReady,
			Prefetch: r.prefetch,
		})
		r.consumers = append(r.consumers, consumer)

		r.wg.Add(1)
		go func(c *mq.Consumer, queue string) {
			defer r.wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("job consumer error", "queue", queue, "error", err)
			}
		}(consumer, queue)
	}
	r.logger.Info("handler runner started", "queues", r.queues)
	return nil
}

// Stop останавливает все consumer'ы и ждёт завершения их горутин.
func (r *Runner) Stop() {
	for _, c := range r.consumers {
		c.Stop()
	}
	r.wg.Wait()
	r.logger.Info("handler runner stopped")
}

func (r *Runner) handleJobReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobReadyPayload](&delivery.Message)
	if err != nil {
		r.logger.Error("failed to parse job.ready payload", "error", err)
		return nil // malformed message — acked and dropped, not retried
	}

	r.logger.Debug("received job.ready",
		"job_id", payload.JobID,
		"run_id", payload.RunID,
		"step", payload.StepName,
		"worker_id", payload.WorkerID,
	)

	h, err := r.registry.Get(payload.WorkerID)
	if err != nil {
		r.logger.Error("no handler registered for worker", "worker_id", payload.WorkerID, "step", payload.StepName, "error", err)
		r.publishStepFailed(ctx, payload, err.Error())
		return nil // no handler will ever appear for this delivery — don't requeue forever
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if payload.StepTimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(payload.StepTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	outputs, err := h.Run(runCtx, payload.Input)
	if err != nil {
		r.logger.Warn("step execution failed", "run_id", payload.RunID, "step", payload.StepName, "error", err)
		r.publishStepFailed(ctx, payload, err.Error())
		return nil
	}

	r.publishStepCompleted(ctx, payload, outputs)
	return nil
}

func (r *Runner) publishStepCompleted(ctx context.Context, payload mq.JobReadyPayload, outputs map[string]any) {
	ev := domain.NewEvent(domain.EventStepCompleted, payload.RunID, payload.FlowName, map[string]any{"outputs": outputs})
	ev.StepName = payload.StepName
	if _, err := r.fabric.PublishRunEvent(ctx, ev); err != nil {
		r.logger.Warn("failed to publish step.completed", "run_id", payload.RunID, "step", payload.StepName, "error", err)
	}

	for _, name := range payload.Emits {
		emitEv := domain.NewEvent(domain.EventEmit, payload.RunID, payload.FlowName, map[string]any{"name": name})
		emitEv.StepName = payload.StepName
		if _, err := r.fabric.PublishRunEvent(ctx, emitEv); err != nil {
			r.logger.Warn("failed to publish emit", "run_id", payload.RunID, "step", payload.StepName, "name", name, "error", err)
		}
	}
}

func (r *Runner) publishStepFailed(ctx context.Context, payload mq.JobReadyPayload, errMsg string) {
	ev := domain.NewEvent(domain.EventStepFailed, payload.RunID, payload.FlowName, map[string]any{"error": errMsg})
	ev.StepName = payload.StepName
	ev.Attempt = payload.Attempt
	if _, err := r.fabric.PublishRunEvent(ctx, ev); err != nil {
		r.logger.Warn("failed to publish step.failed", "run_id", payload.RunID, "step", payload.StepName, "error", err)
	}
}
