package handler

import (
	"context"
	"encoding/json"

	"github.com/shaiso/nvent/internal/engine"
)

// WorkerIDTransform — workerID встроенного воркера трансформации.
const WorkerIDTransform = "builtin.transform"

const keyMappings = "mappings"

// TransformHandler применяет Go-шаблоны (тот же движок рендеринга, что
// использует Await Subsystem для webhook-путей) к входным данным run'а,
// производя новые именованные значения.
//
// Ожидаемый ключ input: mappings (map[string]string) — имя выходного поля
// → шаблон, рендерящийся относительно {{ .Inputs.* }}.
//
// Outputs: по одному полю на mapping; строковый результат рендеринга
// пытается распарситься как JSON (число, bool, объект, массив), иначе
// остаётся строкой.
type TransformHandler struct{}

// NewTransformHandler создаёт TransformHandler.
func NewTransformHandler() *TransformHandler { return &TransformHandler{} }

// Run рендерит каждый mapping и возвращает результаты как outputs.
func (h *TransformHandler) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	mappings := parseMappings(input)
	if len(mappings) == 0 {
		return map[string]any{}, nil
	}

	tmplCtx := engine.NewContext(input)
	outputs := make(map[string]any, len(mappings))
	for key, tmpl := range mappings {
		rendered, err := engine.Render(tmpl, tmplCtx)
		if err != nil {
			return nil, err
		}
		outputs[key] = parseTransformValue(rendered)
	}
	return outputs, nil
}

func parseMappings(input map[string]any) map[string]string {
	raw := input[keyMappings]
	if raw == nil {
		return nil
	}
	switch m := raw.(type) {
	case map[string]string:
		return m
	case map[string]any:
		result := make(map[string]string, len(m))
		for key, val := range m {
			if s, ok := val.(string); ok {
				result[key] = s
			}
		}
		return result
	default:
		return nil
	}
}

// parseTransformValue пытается распарсить отрендеренную строку как JSON;
// при неудаче возвращает строку как есть.
func parseTransformValue(value string) any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(value), &obj); err == nil {
		return obj
	}
	var arr []any
	if err := json.Unmarshal([]byte(value), &arr); err == nil {
		return arr
	}
	var num json.Number
	if err := json.Unmarshal([]byte(value), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
	}
	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}
	return value
}
