// Package mq предоставляет интеграцию с RabbitMQ.
//
// Включает:
//   - connection.go — управление подключением с auto-reconnect
//   - publisher.go  — публикация сообщений в exchange
//   - consumer.go   — потребление сообщений из очередей
//   - topology.go   — декларация exchanges и очередей шагов/триггеров
//
// В отличие от фиксированного набора очередей предыдущей версии, топология
// здесь строится вокруг двух topic-обменников: jobs (маршрутизация по имени
// очереди шага, известной только во время анализа flow) и events (fan-out
// событий run'ов и триггеров во внешние потребители, зеркалирующий то, что
// Stream Fabric уже делает внутри процесса). Очереди шагов объявляются лениво
// — при первом Start диспетчера для этой очереди, а не единым списком на
// старте сервиса, потому что набор очередей определяется манифестами
// воркеров, а не статическим списком в коде.
package mq
