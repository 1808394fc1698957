package domain

import (
	"time"

	"github.com/google/uuid"
)

// FlowRun — экземпляр выполнения flow.
//
// FlowRun создаётся когда:
// - Пользователь запускает flow вручную (через API/CLI)
// - Scheduler создаёт run по расписанию
// - Срабатывает триггер, на который flow подписан в режиме auto
//
// Состояние run целиком выражается через события его потока (см. Event) и
// зеркалируется сюда в виде индекса для быстрого доступа без полного replay.
type FlowRun struct {
	// RunID — глобально уникальный идентификатор run.
	RunID uuid.UUID `json:"run_id"`

	// FlowName — имя flow, которому принадлежит run.
	FlowName string `json:"flow_name"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Input — входные данные, переданные при запуске.
	Input map[string]any `json:"input,omitempty"`

	// StartedAt — время старта run.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время перехода в терминальный статус. Nil, пока run активен.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// LastActivityAt — время последнего структурного события (используется Stall Detector'ом).
	LastActivityAt time.Time `json:"last_activity_at"`

	// StepCount — оценка количества шагов (нижняя граница maxLevel+1); задаётся при старте run'а и по ходу run не пересчитывается.
	StepCount int `json:"step_count"`

	// CompletedSteps — количество успешно завершённых шагов (монотонный счётчик).
	CompletedSteps int `json:"completed_steps"`

	// EmittedEvents — множество токенов (имён emit), опубликованных за время run.
	EmittedEvents map[string]bool `json:"emitted_events,omitempty"`

	// StepStatuses — статус каждого шага, которого коснулся run: dispatched,
	// completed или failed. Используется step-ready evaluation для проверки
	// "s ∈ completedSteps" формы токена step:<s> и для предотвращения
	// повторного enqueue уже диспетчеризованного шага.
	StepStatuses map[string]StepRunStatus `json:"step_statuses,omitempty"`

	// AwaitingSteps — активные и исторические await-записи по имени шага.
	AwaitingSteps map[string]*AwaitEntry `json:"awaiting_steps,omitempty"`

	// Meta — вспомогательные метаданные run.
	Meta RunMeta `json:"meta,omitempty"`

	// Error — сообщение об ошибке, если run завершился с failed.
	Error string `json:"error,omitempty"`
}

// RunMeta — вспомогательные метаданные run.
type RunMeta struct {
	TriggerName  string `json:"trigger_name,omitempty"`
	TriggerType  string `json:"trigger_type,omitempty"`
	StallTimeout int64  `json:"stall_timeout,omitempty"`
}

// AwaitEntry — запись о зарегистрированном await внутри run.
type AwaitEntry struct {
	AwaitType     AwaitKind     `json:"await_type"`
	Position      AwaitPosition `json:"position"`
	RegisteredAt  time.Time     `json:"registered_at"`
	TimeoutAt     *time.Time    `json:"timeout_at,omitempty"`
	Status        AwaitStatus   `json:"status"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
	TimeoutAction TimeoutAction `json:"timeout_action,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
}

// NewFlowRun создаёт новый run в статусе running.
func NewFlowRun(runID uuid.UUID, flowName string, input map[string]any, stepCount int) *FlowRun {
	now := time.Now()
	return &FlowRun{
		RunID:          runID,
		FlowName:       flowName,
		Status:         RunStatusRunning,
		Input:          input,
		StartedAt:      now,
		LastActivityAt: now,
		StepCount:      stepCount,
		EmittedEvents:  make(map[string]bool),
		StepStatuses:   make(map[string]StepRunStatus),
		AwaitingSteps:  make(map[string]*AwaitEntry),
	}
}

// CompletedStepSet возвращает множество имён шагов в статусе completed —
// используется step-ready evaluation'ом при разрешении токена step:<s>.
func (r *FlowRun) CompletedStepSet() map[string]bool {
	set := make(map[string]bool, len(r.StepStatuses))
	for name, status := range r.StepStatuses {
		if status == StepRunStatusCompleted {
			set[name] = true
		}
	}
	return set
}

// IsStepDispatched возвращает true, если шаг уже поставлен в очередь,
// выполняется либо завершён — предотвращает повторный enqueue одного и
// того же шага при многократной evaluate-downstream.
func (r *FlowRun) IsStepDispatched(stepName string) bool {
	status, ok := r.StepStatuses[stepName]
	return ok && status != ""
}

// IsFinished возвращает true, если run завершён (в любом терминальном статусе).
func (r *FlowRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает продолжительность run. Возвращает 0, если run ещё не завершён.
func (r *FlowRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Touch обновляет LastActivityAt (вызывается при каждом структурном событии).
func (r *FlowRun) Touch() {
	r.LastActivityAt = time.Now()
}

// MarkCompleted переводит run в статус completed.
func (r *FlowRun) MarkCompleted() {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.CompletedAt = &now
}

// MarkFailed переводит run в статус failed с сообщением об ошибке.
func (r *FlowRun) MarkFailed(errMsg string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.CompletedAt = &now
	r.Error = errMsg
}

// MarkCanceled переводит run в статус canceled.
func (r *FlowRun) MarkCanceled() {
	now := time.Now()
	r.Status = RunStatusCanceled
	r.CompletedAt = &now
}

// MarkStalled переводит run в статус stalled (не терминальный, но конечный для
// автоматического восстановления — требует явного restart пользователем).
func (r *FlowRun) MarkStalled() {
	r.Status = RunStatusStalled
}

// HasActiveAwaits возвращает true, если есть хотя бы один await в статусе awaiting.
func (r *FlowRun) HasActiveAwaits() bool {
	for _, a := range r.AwaitingSteps {
		if a.Status == AwaitStatusAwaiting {
			return true
		}
	}
	return false
}
