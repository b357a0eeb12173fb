package rtnet

import (
	"sync"
)

// IDAllocator issues connection identifiers. Released identifiers are
// handed out again, oldest first, before the counter advances. Zero is
// never issued: it marks a connection that has not been assigned an id.
type IDAllocator struct {
	mu       sync.Mutex
	next     uint32              // next never-issued id.
	recycled *Queue[uint32]      // released ids in release order.
	released map[uint32]struct{} // guards against double release.
}

// NewIDAllocator creates an allocator whose first id is 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{
		next:     1,
		recycled: NewQueue[uint32](16),
		released: make(map[uint32]struct{}),
	}
}

// Allocate returns an id that is not held by anyone else.
func (a *IDAllocator) Allocate() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.recycled.Pop(); ok {
		delete(a.released, id)
		return id
	}

	id := a.next
	a.next++

	return id
}

// Release makes id available again. Releasing zero, an id that was never
// issued, or an id that is already released has no effect.
func (a *IDAllocator) Release(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == 0 || id >= a.next {
		return
	}
	if _, dup := a.released[id]; dup {
		return
	}
	a.released[id] = struct{}{}
	a.recycled.Push(id)
}

// Recycled returns the number of ids waiting for reuse.
func (a *IDAllocator) Recycled() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.recycled.Len()
}
