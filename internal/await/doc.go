// Package await реализует Await Subsystem: регистрацию, разрешение и
// таймаут четырёх вариантов ожидания шага — webhook, event, schedule, time —
// за единым контрактом.
//
// # Контракт
//
// Любой вариант await проходит один и тот же жизненный цикл:
//
//  1. RegisterAwait вычисляет timeoutMs (webhook/event по умолчанию 24 ч,
//     time берёт delay из конфигурации, schedule — интервал до следующего
//     cron-срабатывания), публикует await.registered и сохраняет запись
//     через RunCoordinator.
//  2. Резолвер организуется по варианту: webhook пассивно ждёт HTTP-вызов
//     по сгенерированному пути; event подписывается на шину через
//     internal/fabric.Bus с опциональной проверкой filterKey; schedule и
//     time планируют one-shot job через internal/scheduler.
//  3. Таймаут планируется как ещё один one-shot job на timeoutAt; по его
//     срабатыванию публикуется await.timeout, и RunCoordinator применяет
//     timeoutAction (fail/continue/retry).
//  4. Resolve публикует await.resolved, отменяет job таймаута и сообщает
//     RunCoordinator — тот решает, разрешены ли все awaits run'а, и что
//     делать дальше (enqueue для position=before, downstream dispatch для
//     position=after).
//
// Manager не хранит состояние run'а сам — это ответственность Orchestrator'а
// (он реализует RunCoordinator и передаётся Manager'у сеттером, чтобы
// избежать цикла импорта await↔orchestrator). Manager отвечает только за
// механику ожидания: таймеры, подписки на события, вычисление cron-сроков.
//
// При рестарте процесса event-подписки теряются вместе с Bus (он
// исключительно in-process); Manager не пересоздаёт их для await'ов типа
// event, зарегистрированных до рестарта.
package await
