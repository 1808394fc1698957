// Package stall reconciles run state that no orchestrator instance is
// actively progressing: runs whose in-memory orchestration was lost to a
// restart, and runs whose await deadline passed without a timeout job
// firing (a missed schedule, a dropped RabbitMQ message, a crashed
// scheduler tick).
package stall

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/store"
)

const (
	runsIndexKey = "runs"

	// defaultStallTimeout применяется когда ни AnalyzedFlow, ни run.Meta не
	// задают собственный stallTimeout.
	defaultStallTimeout = 30 * time.Minute

	// defaultCheckInterval — период периодической проверки.
	defaultCheckInterval = 15 * time.Minute

	// recoveryConcurrency — ограничение на количество run'ов, проверяемых
	// одновременно во время стартового скана: сам скан не должен создавать
	// неограниченный всплеск горутин на инстансах с большой историей run'ов.
	recoveryConcurrency = 16
)

// RunMarker — зависимость, которую Detector ожидает от владельца run'ов
// (internal/orchestrator). Определена здесь, со стороны потребителя, по
// тому же принципу, что и await.RunCoordinator: разрывает цикл импорта
// stall↔orchestrator.
type RunMarker interface {
	MarkRunStalled(ctx context.Context, runID uuid.UUID, reason string) error
}

// FlowTimeouts возвращает stallTimeout зарегистрированного flow в
// миллисекундах (0 — использовать default детектора).
type FlowTimeouts interface {
	StallTimeoutMs(flowName string) (int64, bool)
}

// FlowRunCounts — живые (не терминальные, не stalled) run'ы одного flow на
// момент скана, сгруппированные по статусу.
type FlowRunCounts struct {
	Running  int
	Awaiting int
}

// FlowStatsReconciler — опциональная зависимость, которой Detector
// передаёт пересчитанные из runs-индекса счётчики running/awaiting после
// каждого скана, чтобы скорректировать дрейф flow_stats (накопленный из-за
// упавшего процесса между bumpFlowStat и публикацией события, потерянного
// MQ-сообщения и т.п.). Реализуется internal/orchestrator.Orchestrator;
// определена здесь, со стороны потребителя, по тому же принципу, что и
// RunMarker.
type FlowStatsReconciler interface {
	ReconcileFlowStats(ctx context.Context, counts map[string]FlowRunCounts) error
}

// Detector реализует четыре обязанности §4.7: восстановление при старте,
// ленивую проверку конкретного run'а, периодическую развёртку и
// реконсиляцию счётчиков flow_stats.running/awaiting против runs-индекса.
type Detector struct {
	store         *store.Store
	marker        RunMarker
	flows         FlowTimeouts
	stats         FlowStatsReconciler
	logger        *slog.Logger
	checkInterval time.Duration
}

// Config — конфигурация Detector.
type Config struct {
	Store         *store.Store
	Marker        RunMarker
	Flows         FlowTimeouts
	// Stats — опционально; nil отключает реконсиляцию flow_stats без
	// дополнительных проверок на стороне вызывающего кода.
	Stats         FlowStatsReconciler
	Logger        *slog.Logger
	CheckInterval time.Duration
}

// New создаёт Detector.
func New(cfg Config) *Detector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Detector{
		store:         cfg.Store,
		marker:        cfg.Marker,
		flows:         cfg.Flows,
		stats:         cfg.Stats,
		logger:        logger,
		checkInterval: interval,
	}
}

// Recover выполняет стартовое восстановление: сканирует все run'ы,
// зависшие в running без активных await'ов (состояние потеряно рестартом
// процесса, пока он не работал), и run'ы с просроченным await, таймаут
// которого не сработал.
func (d *Detector) Recover(ctx context.Context) error {
	return d.sweep(ctx, "server restart recovery")
}

// Run запускает периодическую развёртку до отмены ctx.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.sweep(ctx, "periodic sweep"); err != nil {
				d.logger.Error("stall sweep failed", "error", err)
			}
		}
	}
}

// IsStalled — ленивая проверка одного run'а: статус running, нет активных
// await'ов, и с момента последней активности прошло больше stallTimeout.
func (d *Detector) IsStalled(ctx context.Context, flowName string, runID uuid.UUID) (bool, error) {
	entry, err := d.store.Indices.Get(ctx, runsIndexKey, runID.String())
	if err != nil {
		return false, fmt.Errorf("get run: %w", err)
	}
	run, err := decodeRun(entry)
	if err != nil {
		return false, err
	}
	if run.Status != domain.RunStatusRunning || run.HasActiveAwaits() {
		return false, nil
	}
	timeout := d.resolveStallTimeout(flowName, run)
	return time.Since(run.LastActivityAt) > timeout, nil
}

func (d *Detector) sweep(ctx context.Context, reason string) error {
	entries, err := d.store.Indices.Read(ctx, runsIndexKey, 0)
	if err != nil {
		return fmt.Errorf("read runs index: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoveryConcurrency)

	now := time.Now()
	var scanned, marked int
	var countsMu sync.Mutex
	counts := make(map[string]FlowRunCounts)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			run, err := decodeRun(e)
			if err != nil {
				d.logger.Warn("failed to decode run entry during stall sweep", "entry_id", e.ID, "error", err)
				return nil
			}
			scanned++
			if stalledReason, ok := d.evaluate(run, now); ok {
				if err := d.marker.MarkRunStalled(gctx, run.RunID, stalledReason); err != nil {
					d.logger.Error("failed to mark run stalled", "run_id", run.RunID, "error", err)
					return nil
				}
				marked++
				return nil
			}
			switch run.Status {
			case domain.RunStatusRunning:
				countsMu.Lock()
				c := counts[run.FlowName]
				c.Running++
				counts[run.FlowName] = c
				countsMu.Unlock()
			case domain.RunStatusAwaiting:
				countsMu.Lock()
				c := counts[run.FlowName]
				c.Awaiting++
				counts[run.FlowName] = c
				countsMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if d.stats != nil {
		if err := d.stats.ReconcileFlowStats(ctx, counts); err != nil {
			d.logger.Error("failed to reconcile flow stats", "error", err)
		}
	}

	d.logger.Info("stall sweep completed", "trigger", reason, "scanned", scanned, "marked", marked)
	return nil
}

// evaluate реализует §4.7 п.1/3: возвращает причину и true, если run должен
// быть помечен stalled.
func (d *Detector) evaluate(run *domain.FlowRun, now time.Time) (string, bool) {
	if run.Status.IsTerminal() || run.Status == domain.RunStatusStalled {
		return "", false
	}

	if overdueAwait(run, now) {
		return "Await pattern timed out", true
	}

	switch run.Status {
	case domain.RunStatusRunning:
		if !run.HasActiveAwaits() && now.Sub(run.LastActivityAt) > d.resolveStallTimeout(run.FlowName, run) {
			return "Server restart — flow state lost", true
		}
	case domain.RunStatusAwaiting:
		// без просроченного await (проверено выше) run ожидает штатно.
	}
	return "", false
}

func overdueAwait(run *domain.FlowRun, now time.Time) bool {
	for _, a := range run.AwaitingSteps {
		if a.Status != domain.AwaitStatusAwaiting {
			continue
		}
		if a.TimeoutAt != nil && now.After(*a.TimeoutAt) {
			return true
		}
	}
	return false
}

func (d *Detector) resolveStallTimeout(flowName string, run *domain.FlowRun) time.Duration {
	if run.Meta.StallTimeout > 0 {
		return time.Duration(run.Meta.StallTimeout) * time.Millisecond
	}
	if d.flows != nil {
		if ms, ok := d.flows.StallTimeoutMs(flowName); ok && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultStallTimeout
}

func decodeRun(e *store.Entry) (*domain.FlowRun, error) {
	raw, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal run entry metadata: %w", err)
	}
	var r domain.FlowRun
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}
