// Package scheduler реализует одноразовые и повторяющиеся job'ы,
// используемые Await Subsystem (таймауты ожиданий, delay-шаги) и триггерами
// типа schedule.
//
// Структура:
//   - scheduler.go — Scheduler (Register, Schedule, Unschedule, Tick)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Leader Election вынесен за пределы пакета: main.go вызывающего сервиса
// захватывает pg_try_advisory_lock поверх того же пула соединений, что и
// internal/store, и вызывает Tick() только будучи текущим лидером —
// Scheduler сам по себе не знает о кластере и безопасен для конкурентного
// создания на нескольких инстансах.
//
// Job'ы персистируются без сериализации функции: HandlerKey идентифицирует
// обработчик, зарегистрированный в процессе через Register. При рестарте
// каждый сервис заново регистрирует свой набор обработчиков при старте —
// job'ы, ожидающие эти ключи, подхватываются без отдельной миграции данных.
package scheduler
