package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/store"
)

const indexKey = "schedule_jobs"

// Handler обрабатывает срабатывание одного due job'а. Возвращаемая ошибка не
// прерывает обработку остальных job'ов тика — она только логируется, а сам
// job сохраняет свой NextDueAt и будет предпринята повторная попытка на
// следующем тике.
type Handler func(ctx context.Context, job *domain.ScheduleJob) error

// Scheduler — планировщик, обрабатывающий due job'ы на каждом Tick.
type Scheduler struct {
	store     *store.Store
	logger    *slog.Logger
	batchSize int

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Config — конфигурация Scheduler.
type Config struct {
	Store     *store.Store
	Logger    *slog.Logger
	BatchSize int // количество job'ов за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Scheduler{
		store:     cfg.Store,
		logger:    cfg.Logger,
		batchSize: batchSize,
		handlers:  make(map[string]Handler),
	}
}

// Register связывает HandlerKey с обработчиком в этом процессе. Должно
// вызываться на старте сервиса, до первого Tick — job'ы с незарегистрированным
// ключом просто остаются due и подхватываются позже.
func (s *Scheduler) Register(handlerKey string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[handlerKey] = h
}

func (s *Scheduler) handler(handlerKey string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[handlerKey]
	return h, ok
}

// Schedule персистирует job. Score в Indices хранит -NextDueAt (one_time:
// -ExecuteAt), так что Tick, читая записи в порядке убывания score, видит
// самые ранние due job'ы первыми.
func (s *Scheduler) Schedule(ctx context.Context, job *domain.ScheduleJob) error {
	meta, err := jobToMetadata(job)
	if err != nil {
		return err
	}
	return s.store.Indices.Add(ctx, indexKey, job.ID.String(), -dueScore(job), meta)
}

// Unschedule отменяет job: помечает Enabled=false, не удаляя запись, так
// что повторная отмена того же job'а безопасна.
func (s *Scheduler) Unschedule(ctx context.Context, jobID string) error {
	err := s.store.Indices.UpdateWithRetry(ctx, indexKey, jobID, func(current *store.Entry) (float64, map[string]any, error) {
		job, err := entryToJob(current)
		if err != nil {
			return 0, nil, err
		}
		job.Enabled = false
		job.UpdatedAt = time.Now()
		meta, err := jobToMetadata(job)
		return current.Score, meta, err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrJobNotFound
	}
	return err
}

// GetJob возвращает job по ID.
func (s *Scheduler) GetJob(ctx context.Context, jobID string) (*domain.ScheduleJob, error) {
	entry, err := s.store.Indices.Get(ctx, indexKey, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return entryToJob(entry)
}

// Tick выполняет один тик планировщика.
//
//  1. Находит до batchSize due job'ов (enabled=true, due относительно now).
//  2. Для каждого вызывает зарегистрированный обработчик.
//  3. Для recurring пересчитывает NextDueAt по cron-выражению; для one_time
//     отключает job после срабатывания.
//
// Ошибка одного job'а не блокирует обработку остальных.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	due, err := s.findDue(ctx, now)
	if err != nil {
		return fmt.Errorf("find due jobs: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Debug("found due jobs", "count", len(due))

	var fired, failed int
	for _, job := range due {
		if err := s.processJob(ctx, job, now); err != nil {
			s.logger.Error("failed to process job", "job_id", job.ID, "handler_key", job.HandlerKey, "error", err)
			failed++
			continue
		}
		fired++
	}

	s.logger.Info("scheduler tick completed", "due", len(due), "fired", fired, "failed", failed)
	return nil
}

func (s *Scheduler) findDue(ctx context.Context, now time.Time) ([]*domain.ScheduleJob, error) {
	// Лимита на чтение нет: фильтрация по Enabled/IsDue и срез до batchSize
	// происходят в памяти, поскольку index_entries не хранит произвольных
	// WHERE-предикатов сверх score — приемлемо при разумном числе job'ов на
	// один индекс (таймауты ожиданий и расписания, не события потока).
	entries, err := s.store.Indices.Read(ctx, indexKey, 0)
	if err != nil {
		return nil, err
	}

	jobs := make([]*domain.ScheduleJob, 0, len(entries))
	for _, e := range entries {
		job, err := entryToJob(e)
		if err != nil {
			return nil, err
		}
		if job.IsDue(now) {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return dueScore(jobs[i]) < dueScore(jobs[j]) })
	if len(jobs) > s.batchSize {
		jobs = jobs[:s.batchSize]
	}
	return jobs, nil
}

func (s *Scheduler) processJob(ctx context.Context, job *domain.ScheduleJob, now time.Time) error {
	h, ok := s.handler(job.HandlerKey)
	if !ok {
		return ErrHandlerNotRegistered
	}
	if err := h(ctx, job); err != nil {
		return fmt.Errorf("handler %s: %w", job.HandlerKey, err)
	}

	var nextDue *time.Time
	if job.IsRecurring() {
		next, err := CalculateNextDue(job, now)
		if err != nil {
			s.logger.Error("failed to calculate next due, disabling job", "job_id", job.ID, "error", err)
		} else {
			nextDue = &next
		}
	}
	job.RecordRun(nextDue)
	if job.IsRecurring() && nextDue == nil {
		job.Enabled = false
	}

	return s.store.Indices.UpdateWithRetry(ctx, indexKey, job.ID.String(), func(current *store.Entry) (float64, map[string]any, error) {
		meta, err := jobToMetadata(job)
		return -dueScore(job), meta, err
	})
}

func dueScore(job *domain.ScheduleJob) float64 {
	if job.Kind == domain.ScheduleKindOneTime && job.ExecuteAt != nil {
		return float64(job.ExecuteAt.Unix())
	}
	if job.NextDueAt != nil {
		return float64(job.NextDueAt.Unix())
	}
	return 0
}
