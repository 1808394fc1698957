// Package trigger реализует Trigger Runtime: именованные точки входа
// (event/webhook/schedule/manual), подписки flow↔trigger, и fire-семантику.
//
// Состояние триггера живёт в internal/store.Indices под ключом "triggers",
// одна запись на имя триггера, версионированная для оптимистичной
// конкурентности апдейтов (subscribe/unsubscribe/retire гоняются через
// Indices.UpdateWithRetry). Крупные payload'ы срабатывания (сверх
// payloadThreshold, по умолчанию 10 KiB) выносятся в internal/store.KV под
// сгенерированной ссылкой — событие в потоке хранит только
// {__payloadRef, __size}; оригинальная версия процесса ограничивалась этим
// же разбиением по размеру в teacher-репозитории для больших outputs шагов,
// здесь применена к триггерам.
package trigger
