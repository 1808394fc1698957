package orchestrator

import "errors"

var (
	// ErrFlowNotRegistered — имя flow не зарегистрировано в Registry.
	ErrFlowNotRegistered = errors.New("orchestrator: flow not registered")

	// ErrRunNotFound — run с данным ID не найден в индексе.
	ErrRunNotFound = errors.New("orchestrator: run not found")

	// ErrStepNotFound — имя шага не найдено в AnalyzedFlow.
	ErrStepNotFound = errors.New("orchestrator: step not found")

	// ErrRunTerminal — операция недопустима для run'а в терминальном статусе.
	ErrRunTerminal = errors.New("orchestrator: run already in a terminal state")
)
