// Package cli реализует инструмент командной строки nvent.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с HTTP/WebSocket API.
// Работает через net/http и gorilla/websocket, не импортирует внутренние
// пакеты системы — только их внешнее API-представление, продублированное в
// client.go, чтобы CLI оставался развёртываемым независимо от сервера.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Инкапсулирует все HTTP-запросы, парсинг ответов
// (конверты data/list/error) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns("onboarding", 0, 50)
//
// ## WatchRunEvents
//
// Подписывается на /api/_flows/ws и стримит события одного run'а —
// сперва историю (до 100 последних персистентных событий), затем live-поток.
// При разрыве соединения переподключается с экспоненциальным backoff
// (1s..10s, джиттер), пока не отменён переданный context.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: nvent flow runs onboarding --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - flow: list, show, start, runs, cancel, restart, clear-history, watch
//   - trigger: list, register, fire
//   - webhook: resolve
//
// Каждая группа создаётся через фабричную функцию (NewFlowCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
