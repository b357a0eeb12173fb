package rtnet

import (
	"sync"
)

// Listeners is a per-instance registry of event listeners. Engines embed one
// per listener interface instead of exposing process-wide hooks.
type Listeners[T any] struct {
	mu    sync.RWMutex
	seq   uint64
	items []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id uint64
	l  T
}

// Add registers l and returns a func that removes it again.
func (ls *Listeners[T]) Add(l T) (remove func()) {
	ls.mu.Lock()
	ls.seq++
	id := ls.seq
	ls.items = append(ls.items, listenerEntry[T]{id: id, l: l})
	ls.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { ls.remove(id) })
	}
}

func (ls *Listeners[T]) remove(id uint64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for i, e := range ls.items {
		if e.id == id {
			// copy-on-write so a running Each keeps its snapshot intact.
			next := make([]listenerEntry[T], 0, len(ls.items)-1)
			next = append(next, ls.items[:i]...)
			ls.items = append(next, ls.items[i+1:]...)
			return
		}
	}
}

// Each calls fn for every registered listener in registration order.
// Listeners may register or unregister from inside fn.
func (ls *Listeners[T]) Each(fn func(T)) {
	ls.mu.RLock()
	snapshot := ls.items
	ls.mu.RUnlock()

	for _, e := range snapshot {
		fn(e.l)
	}
}

// Len returns the number of registered listeners.
func (ls *Listeners[T]) Len() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	return len(ls.items)
}
