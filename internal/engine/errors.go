package engine

import "errors"

// Ошибки анализа манифестов воркеров.
var (
	// ErrNoManifests — для flow не передано ни одного манифеста.
	ErrNoManifests = errors.New("flow has no worker manifests")

	// ErrNoEntry — среди манифестов flow нет role=entry.
	ErrNoEntry = errors.New("flow has no entry step")

	// ErrMultipleEntries — для flow заявлено больше одного entry.
	ErrMultipleEntries = errors.New("flow has multiple entry steps")

	// ErrEmptyStepName — манифест шага без имени.
	ErrEmptyStepName = errors.New("step manifest has empty name")

	// ErrDuplicateStepName — несколько манифестов с одинаковым именем шага.
	ErrDuplicateStepName = errors.New("duplicate step name")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации манифеста с контекстом.
type ValidationError struct {
	StepName string
	Field    string
	Message  string
	Err      error
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepName != "" {
		return "step " + e.StepName + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepName, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepName: stepName,
		Field:    field,
		Message:  message,
		Err:      err,
	}
}
