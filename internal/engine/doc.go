// Package engine предоставляет Registry/Analyzer — построение
// per-flow DAG и уровней из манифестов воркеров — и рендеринг Go templates
// для await/trigger-конфигурации.
//
// # Обзор
//
// ## Анализ (analyzer.go)
//
// BuildAnalyzedFlow принимает манифесты воркеров одного flow (каждый
// описывает один шаг: его очередь, worker ID, токены subscribes/emits,
// await-конфигурацию) и строит domain.AnalyzedFlow:
//
//	flow, err := engine.BuildAnalyzedFlow("order-fulfillment", manifests)
//	if errors.Is(err, engine.ErrNoEntry) {
//	    // среди манифестов не нашлось role=entry
//	}
//
// Каждый токен подписки разрешается к излучающему шагу по одной из четырёх
// форм, в порядке совпадения префикса:
//
//	step:<name>    — прямая ссылка на шаг по имени
//	queue:<name>   — любой шаг, объявленный на этой очереди
//	worker:<id>    — любой шаг с этим worker ID
//	<name>         — bare-форма: любой шаг, объявивший <name> в своих emits
//
// Шаг без разрешённых зависимостей неявно зависит от entry (level 1).
// Уровни считаются DFS-обходом с множеством "visiting": шаг, по которому
// обнаружен цикл, получает level 0 и помечается Suspect, чтобы не морить
// голодом остальной граф.
//
// Анализ чист и детерминирован: одинаковый набор манифестов всегда даёт
// одинаковый AnalyzedFlow (манифесты сортируются по имени шага перед
// обработкой).
//
// ## Templates (template.go)
//
// Context хранит данные для рендеринга шаблонов:
//
//	ctx := engine.NewContext(run.Input)
//	ctx.AddStepResult("fetch", outputs, "SUCCEEDED")
//
// Render выполняет Go template — используется Await Subsystem для
// интерполяции webhook-путей ожидания значениями входа run (результаты
// шагов в этот контекст не добавляются) и встроенным builtin.transform:
//
//	path, err := engine.Render("/orders/{{ .Inputs.orderId }}/approve", ctx)
//
// # Файлы пакета
//
//   - errors.go    — ошибки анализа и рендеринга
//   - analyzer.go  — разрешение токенов, построение DAG и уровней
//   - template.go  — рендеринг Go templates
package engine
