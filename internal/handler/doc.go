// Package handler выполняет отдельные шаги flow.
//
// # Обзор
//
// Handler — минимальный контракт шага: принять уже готовые входные данные
// run'а и вернуть outputs или ошибку. В отличие от предшествующей модели
// (internal/worker + internal/steps), где каждый тип шага был зашит в
// реестр исполнителей по строковому "типу" и конфигурация рендерилась из
// StepDef шаблонизатором движка, здесь воркеры — произвольный
// пользовательский Go-код, зарегистрированный по workerID; система не
// навязывает DSL для описания шага.
//
// # Ключевые компоненты
//
// ## Handler
//
//	type Handler interface {
//	    Run(ctx context.Context, input map[string]any) (map[string]any, error)
//	}
//
// ## Registry
//
// Реестр Handler'ов по workerID, аналог предшествующего steps.Registry, но
// ключ — произвольный идентификатор воркера из манифеста, а не фиксированный
// "тип" шага.
//
//	reg := handler.NewRegistry()
//	reg.Register("send-email", myEmailHandler)
//
// DefaultRegistry дополнительно регистрирует встроенные воркеры
// (builtin.http, builtin.delay, builtin.transform) — готовые к использованию
// реализации для наиболее частых случаев, перенесённые в эту модель из
// прежних HTTPExecutor/DelayExecutor/TransformExecutor и HTTPStep/DelayStep/
// TransformStep.
//
// ## Runner
//
// Runner — диспетчер шагов: по одному consumer'у RabbitMQ на очередь шага
// (см. internal/mq.DeclareJobQueue), разбирает job.ready, ищет Handler по
// workerID, выполняет его с таймаутом из stepTimeoutMs и публикует
// step.completed/step.failed через Stream Fabric. При успехе дополнительно
// публикует emit для каждого имени из StepMeta.Emits шага — так статически
// объявленные emits реализуют форму подписки "голое <name>" без отдельного
// API вызова emit() внутри Handler.Run.
//
// Runner не дедуплицирует повторную доставку job'а: детерминированный
// JobID (<runId>__<stepName>) попадает только в логи, а повторно
// доставленный job снова выполняет Handler и снова публикует
// step.completed/step.failed.
package handler
