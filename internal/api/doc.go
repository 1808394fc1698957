// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (Fabric, Registry, Orchestrator, Await Manager, Trigger Runtime)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, recovery)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — Data Transfer Objects (request/response)
//   - flow_info_handler.go  — листинг зарегистрированных flow, структура одного flow
//   - flow_handler.go       — запуск/листинг/отмена/рестарт run'ов, очистка истории
//   - webhook_handler.go    — разрешение webhook-await
//   - trigger_handler.go    — регистрация/листинг/срабатывание триггеров
//   - websocket.go          — /api/_flows/ws дуплексная подписка на события run'а
//
// API предоставляет внешний интерфейс поверх Orchestrator, Trigger Runtime и
// Await Subsystem — не владеет состоянием напрямую, только диспетчеризует в
// эти пакеты и транслирует domain-ошибки в HTTP-ответы.
package api
