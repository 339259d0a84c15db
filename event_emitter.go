package librealtime

import (
	"sync"
)

type callback[T any] func(T)

type listener[V any] struct {
	id uint64
	fn callback[V]
}

// EventEmitterCallback maps events of type K to callbacks receiving a V.
type EventEmitterCallback[K comparable, V any] struct {
	listeners map[K][]listener[V]
	nextID    uint64
	closed    bool
	lock      sync.RWMutex
}

// NewEventEmitter creates a new EventEmitterCallback and returns a pointer to it.
func NewEventEmitter[K comparable, V any]() *EventEmitterCallback[K, V] {
	return &EventEmitterCallback[K, V]{
		listeners: make(map[K][]listener[V]),
	}
}

// On registers a new listener for the given event. The returned function removes it.
func (e *EventEmitterCallback[K, V]) On(event K, fn callback[V]) (off func()) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.closed {
		return func() {}
	}

	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], listener[V]{id: id, fn: fn})

	return func() { e.remove(event, id) }
}

func (e *EventEmitterCallback[K, V]) remove(event K, id uint64) {
	e.lock.Lock()
	defer e.lock.Unlock()

	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit calls every listener registered for the given event synchronously, in
// registration order. Listeners run without the emitter lock held, so they may
// register or remove listeners themselves.
func (e *EventEmitterCallback[K, V]) Emit(event K, data V) {
	e.lock.RLock()
	ls := e.listeners[event]
	e.lock.RUnlock()

	for _, l := range ls {
		l.fn(data)
	}
}

// Close removes all listeners; later registrations are ignored.
func (e *EventEmitterCallback[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.closed = true
	e.listeners = make(map[K][]listener[V])
}
