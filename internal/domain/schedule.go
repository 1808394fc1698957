package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleJob — job шедулера: one-shot или recurring.
//
// Used by: await timeouts/schedule-awaits (one-shot), cron triggers and
// recurring flow schedules (recurring).
//
// HandlerKey идентифицирует зарегистрированный в процессе обработчик (см.
// internal/scheduler.Register); сам job персистируется без функции —
// обработчики регистрируются заново при старте каждого инстанса.
type ScheduleJob struct {
	// ID — уникальный идентификатор job'а.
	ID uuid.UUID `json:"id"`

	// Kind — one_time или recurring.
	Kind ScheduleKind `json:"kind"`

	// HandlerKey — имя зарегистрированного обработчика.
	HandlerKey string `json:"handler_key"`

	// Payload — данные, передаваемые обработчику при срабатывании
	// (например {runId, stepName} для await-таймаутов).
	Payload map[string]any `json:"payload,omitempty"`

	// ExecuteAt — момент срабатывания для one_time job'а.
	ExecuteAt *time.Time `json:"execute_at,omitempty"`

	// CronExpr / Timezone — параметры recurring job'а.
	CronExpr string `json:"cron_expr,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// Enabled — false для отменённых (unscheduled) job'ов; они не удаляются
	// немедленно, чтобы Unschedule был идемпотентен и audit-friendly.
	Enabled bool `json:"enabled"`

	// NextDueAt — следующее время срабатывания (пересчитывается после каждого тика).
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего срабатывания.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LeaseOwner / LeaseExpiresAt — распределённая аренда для многоинстансовой координации.
	LeaseOwner     string     `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOneTimeJob создаёт одноразовый job, срабатывающий в executeAt.
func NewOneTimeJob(handlerKey string, executeAt time.Time, payload map[string]any) *ScheduleJob {
	now := time.Now()
	return &ScheduleJob{
		ID:         uuid.New(),
		Kind:       ScheduleKindOneTime,
		HandlerKey: handlerKey,
		Payload:    payload,
		ExecuteAt:  &executeAt,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewRecurringJob создаёт повторяющийся job по cron-выражению. nextDue —
// заранее вычисленное первое время срабатывания (internal/scheduler берёт на
// себя пересчёт cron-выражения, чтобы domain оставался свободным от парсеров).
func NewRecurringJob(handlerKey, cronExpr, timezone string, nextDue time.Time, payload map[string]any) *ScheduleJob {
	now := time.Now()
	return &ScheduleJob{
		ID:         uuid.New(),
		Kind:       ScheduleKindRecurring,
		HandlerKey: handlerKey,
		Payload:    payload,
		CronExpr:   cronExpr,
		Timezone:   timezone,
		NextDueAt:  &nextDue,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsRecurring возвращает true, если job повторяющийся.
func (j *ScheduleJob) IsRecurring() bool {
	return j.Kind == ScheduleKindRecurring
}

// IsDue проверяет, пора ли сработать.
func (j *ScheduleJob) IsDue(now time.Time) bool {
	if !j.Enabled {
		return false
	}
	if j.Kind == ScheduleKindOneTime {
		return j.ExecuteAt != nil && !now.Before(*j.ExecuteAt)
	}
	return j.NextDueAt != nil && !now.Before(*j.NextDueAt)
}

// RecordRun фиксирует срабатывание и (для recurring) новое время следующего запуска.
func (j *ScheduleJob) RecordRun(nextDue *time.Time) {
	now := time.Now()
	j.LastRunAt = &now
	j.UpdatedAt = now
	if j.Kind == ScheduleKindRecurring {
		j.NextDueAt = nextDue
	} else {
		j.Enabled = false
	}
}

// LeaseValid возвращает true, если аренда ещё не истекла.
func (j *ScheduleJob) LeaseValid(now time.Time) bool {
	return j.LeaseExpiresAt != nil && now.Before(*j.LeaseExpiresAt)
}
