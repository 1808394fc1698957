// Package fabric реализует Stream Fabric — шину публикации/подписки внутри
// процесса, дополненную внешними топиками на RabbitMQ (internal/mq) для
// кросс-инстансной доставки.
//
// Диспетчеры (Orchestrator, Await Subsystem) подписываются
// на шину по run'у или по типу события; публикация события в Bus не требует
// знания, кто слушает — в духе того, как internal/mq.Consumer не знает, кто
// публикует. Персистентность не входит в ответственность Bus — это делает
// internal/store.Streams; Bus — только механизм доставки "здесь и сейчас".
//
// Переполнение канала подписчика не блокирует публикующего: лишние события
// отбрасываются (drop-oldest), а не накапливаются в памяти безгранично —
// подписчики, которым нужна полная история, обязаны читать её из Store.
package fabric
