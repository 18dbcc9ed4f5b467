package events

import "sync"

// Emitter fans values out to registered subscribers.
// A replay emitter additionally retains the most recent value and hands it to
// late subscribers at registration time, so subscribing after the fact does
// not lose the event.
type Emitter[T any] struct {
	mu     sync.Mutex
	subs   map[int]func(T)
	nextID int
	replay bool
	last   T
	seen   bool
}

func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{subs: make(map[int]func(T))}
}

func NewReplayEmitter[T any]() *Emitter[T] {
	e := NewEmitter[T]()
	e.replay = true
	return e
}

// Subscribe registers cb and returns a func that removes it again.
// On a replay emitter cb is invoked immediately with the retained value, if any.
func (e *Emitter[T]) Subscribe(cb func(T)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = cb
	replayNow := e.replay && e.seen
	last := e.last
	e.mu.Unlock()

	if replayNow {
		cb(last)
	}
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit delivers v to every current subscriber, synchronously, on the caller's
// goroutine. Subscribers registered during delivery do not receive v.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	if e.replay {
		e.last = v
		e.seen = true
	}
	cbs := make([]func(T), 0, len(e.subs))
	for _, cb := range e.subs {
		cbs = append(cbs, cb)
	}
	e.mu.Unlock()

	for _, cb := range cbs {
		cb(v)
	}
}

// Reset drops the retained replay value and all subscribers.
func (e *Emitter[T]) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = make(map[int]func(T))
	var zero T
	e.last = zero
	e.seen = false
}
