// Package orchestrator управляет исполнением runs: решает, когда шаг
// становится готовым к запуску, диспетчеризует его через Job Broker,
// обрабатывает завершение шагов и await'ы, и распознаёт терминальное
// состояние run'а.
//
// # Архитектура
//
// Orchestrator реагирует на структурные события (step.completed, step.failed,
// emit, flow.cancel), поступающие с двух путей — как и в исходной схеме
// диспетчеризации:
//
//	┌───────────────────── Orchestrator ─────────────────────┐
//	│                                                         │
//	│  Входы:                                                │
//	│    fabric.Bus (in-process) ──► HandleEvent ──┐         │
//	│    mq events consumer      ──► HandleEvent ──┤         │
//	│                                               ▼         │
//	│                                    onStepCompleted      │
//	│                                    onStepFailed         │
//	│                                    onEmit                │
//	│                                               │         │
//	│                                               ▼         │
//	│                                  progressRun             │
//	│                                  AnalyzeCompletion       │
//	│                                                         │
//	└─────────────────────────────────────────────────────────┘
//
// Run'ы не кэшируются в памяти целиком (в отличие от предшествующей модели):
// каждое событие читает актуальный FlowRun из Store.Indices, версионированно
// обновляет его через UpdateWithRetry и снова пишет. Это делает любой
// инстанс Orchestrator'а равноправным обработчиком любого run'а — владение
// определяется только тем, кто принял flow.start, но мутации опосредуются
// Store, так что после рестарта любой инстанс может продолжить run.
//
// Await Subsystem (internal/await) подключается через интерфейс
// await.RunCoordinator, который Orchestrator реализует и регистрирует
// сеттером при старте — это разрывает цикл импорта await↔orchestrator.
//
// Чистые функции StepReady и AnalyzeCompletion (readiness.go, completion.go)
// не обращаются к Store напрямую и полностью детерминированы — это позволяет
// тестировать step-ready evaluation и анализ завершения run'а без БД,
// аналогично internal/engine.Analyzer.
package orchestrator
