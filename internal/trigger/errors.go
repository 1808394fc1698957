package trigger

import "errors"

var (
	// ErrTriggerNotFound — триггер с данным именем не зарегистрирован.
	ErrTriggerNotFound = errors.New("trigger: not found")

	// ErrTriggerConflict — имя уже занято триггером другого type/scope.
	// Совпадающий (name, type, scope) не считается конфликтом — см.
	// RegisterTrigger.
	ErrTriggerConflict = errors.New("trigger: name registered with different type/scope")

	// ErrTriggerRetired — операция недопустима для retired триггера.
	ErrTriggerRetired = errors.New("trigger: retired")

	// ErrInvalidSchedule — триггер типа schedule зарегистрирован без
	// валидного cron_expr.
	ErrInvalidSchedule = errors.New("trigger: invalid schedule config")
)
