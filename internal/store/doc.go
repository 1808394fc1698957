// Package store реализует персистентный слой системы: Streams, Indices и KV
// поверх Postgres (через jackc/pgx/v5 + pgxpool), как единственный источник
// истины для состояния run'ов, триггеров и job'ов шедулера.
//
// # Обзор
//
// Store — не репозиторий по сущностям (flow/run/task, как в предыдущей
// итерации этого кода), а три универсальные коллекции:
//
//   - Streams — упорядоченные append-only последовательности событий,
//     адресуемые именем потока ("flow:<runId>", "trigger:<name>").
//   - Indices — отсортированные коллекции с версионированным апдейтом и
//     атомарным инкрементом, адресуемые ключом индекса + ID записи
//     ("runs" → runId, "triggers" → triggerName).
//   - KV — мелкое эфемерное состояние с опциональным TTL (ссылки на большие
//     payload триггеров).
//
// # Конкурентность
//
// Update отклоняет запись с несовпадающей версией (оптимистичная
// конкурентность). UpdateWithRetry делает это терпимым к короткой гонке:
// минимум 3 попытки с экспоненциальной паузой (10/20/40 мс), затем
// возвращает ErrContendedWrite. Increment атомарен на уровне одного SQL
// выражения — используется для всех монотонных счётчиков, чтобы не
// провоцировать retry storms под конкурентным fan-out.
//
// # Именование
//
// Единственный tenancy-флаг — префикс (по умолчанию "nvent", переопределяется
// переменной окружения STORE_PREFIX), добавляемый ко всем именам потоков и
// ключам индексов.
package store
