package fabric

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/nvent/internal/domain"
)

// subscriberBuffer — размер буфера канала одного подписчика. При
// переполнении новое событие вытесняет самое старое непрочитанное —
// подписчику важнее увидеть свежее состояние, чем полную историю.
const subscriberBuffer = 64

// Subscription — живая подписка на Bus; Close отписывает и закрывает канал.
type Subscription struct {
	ch     chan domain.Event
	bus    *Bus
	id     uint64
	runID  uuid.UUID
	evType domain.EventType
	global bool
}

// Events возвращает канал, в который публикуются подходящие события.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Close отписывает подписчика от Bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus — шина pub/sub в рамках одного процесса.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	byRun     map[uuid.UUID]map[uint64]*Subscription
	byType    map[domain.EventType]map[uint64]*Subscription
	global    map[uint64]*Subscription
}

// NewBus создаёт пустую шину.
func NewBus() *Bus {
	return &Bus{
		byRun:  make(map[uuid.UUID]map[uint64]*Subscription),
		byType: make(map[domain.EventType]map[uint64]*Subscription),
		global: make(map[uint64]*Subscription),
	}
}

// SubscribeRunID подписывается на все события конкретного run'а (используется
// WebSocket-соединениями, следящими за одним run'ом, и Await Subsystem).
func (b *Bus) SubscribeRunID(runID uuid.UUID) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{ch: make(chan domain.Event, subscriberBuffer), bus: b, id: b.nextID, runID: runID}
	if b.byRun[runID] == nil {
		b.byRun[runID] = make(map[uint64]*Subscription)
	}
	b.byRun[runID][sub.id] = sub
	return sub
}

// OnType подписывается на события определённого типа вне зависимости от run'а
// (используется Await Subsystem для event-await'ов, ожидающих произвольное
// имя события).
func (b *Bus) OnType(evType domain.EventType) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{ch: make(chan domain.Event, subscriberBuffer), bus: b, id: b.nextID, evType: evType}
	if b.byType[evType] == nil {
		b.byType[evType] = make(map[uint64]*Subscription)
	}
	b.byType[evType][sub.id] = sub
	return sub
}

// SubscribeAll подписывается на все события шины (используется мостом
// внешних топиков, ретранслирующим всё наружу через internal/mq).
func (b *Bus) SubscribeAll() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{ch: make(chan domain.Event, subscriberBuffer), bus: b, id: b.nextID, global: true}
	b.global[sub.id] = sub
	return sub
}

// Publish доставляет событие всем подходящим подписчикам. Не блокируется —
// при полном буфере подписчика старое событие вытесняется новым.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if ev.RunID != uuid.Nil {
		for _, sub := range b.byRun[ev.RunID] {
			deliver(sub.ch, ev)
		}
	}
	for _, sub := range b.byType[ev.Type] {
		deliver(sub.ch, ev)
	}
	for _, sub := range b.global {
		deliver(sub.ch, ev)
	}
}

func deliver(ch chan domain.Event, ev domain.Event) {
	select {
	case ch <- ev:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case sub.global:
		delete(b.global, sub.id)
	case sub.evType != "":
		delete(b.byType[sub.evType], sub.id)
	default:
		delete(b.byRun[sub.runID], sub.id)
	}
	close(sub.ch)
}
