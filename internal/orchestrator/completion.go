package orchestrator

import "github.com/shaiso/nvent/internal/domain"

// CompletionState — итог анализа потока событий run'а: какие шаги завершены
// или провалены, и терминален ли run целиком.
type CompletionState struct {
	Completed map[string]bool
	Failed    map[string]bool

	// Terminal — true, если каждый шаг flow (включая entry) присутствует в
	// Completed ∪ Failed.
	Terminal bool

	// TerminalStatus имеет смысл только если Terminal == true: Failed — если
	// хотя бы один шаг провалился, иначе Completed.
	TerminalStatus domain.RunStatus
}

// AnalyzeCompletion разбирает персистентный список событий run'а и решает,
// достиг ли run терминального состояния. Чистая функция: не обращается к
// Store, не публикует события — вызывающий код (progressRun в dispatch.go) сам решает,
// нужно ли публиковать flow.completed/flow.failed, и обязан сам проверить,
// что такое событие ещё не было опубликовано прежде (invariant "не более
// одного терминального события на run" живёт в IO-коде, не здесь).
func AnalyzeCompletion(flow *domain.AnalyzedFlow, events []domain.Event) CompletionState {
	completed := make(map[string]bool)
	failed := make(map[string]bool)

	for _, e := range events {
		switch e.Type {
		case domain.EventStepCompleted:
			if e.StepName != "" {
				completed[e.StepName] = true
			}
		case domain.EventStepFailed:
			if e.StepName != "" {
				failed[e.StepName] = true
			}
		}
	}

	total := 1 + len(flow.Steps) // entry + все обычные шаги
	done := 0
	if completed[flow.Entry.Step] || failed[flow.Entry.Step] {
		done++
	}
	anyFailed := failed[flow.Entry.Step]
	for name := range flow.Steps {
		if completed[name] || failed[name] {
			done++
		}
		if failed[name] {
			anyFailed = true
		}
	}

	state := CompletionState{Completed: completed, Failed: failed}
	if done >= total {
		state.Terminal = true
		if anyFailed {
			state.TerminalStatus = domain.RunStatusFailed
		} else {
			state.TerminalStatus = domain.RunStatusCompleted
		}
	}
	return state
}

// HasTerminalEvent сообщает, публиковалось ли уже терминальное событие для
// run'а — используется вызывающим кодом после AnalyzeCompletion, чтобы
// не опубликовать flow.completed/flow.failed повторно.
func HasTerminalEvent(events []domain.Event) bool {
	for _, e := range events {
		switch e.Type {
		case domain.EventFlowCompleted, domain.EventFlowFailed, domain.EventFlowCancel, domain.EventFlowStalled:
			return true
		}
	}
	return false
}
