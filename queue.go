package rtnet

// nextPow2Uint64 returns the smallest power of two >= v with a minimum of 1.
func nextPow2Uint64(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// Queue is a FIFO ring buffer that doubles its capacity when full.
// It is not safe for concurrent use; owners serialize access with their own lock.
type Queue[T any] struct {
	buf  []T    // underlying buffer array.
	mask uint64 // mask for index wrapping.
	head uint64 // next position to read from.
	tail uint64 // next position to write to.
}

// NewQueue creates a new Queue with initial capacity rounded up to a power of two.
func NewQueue[T any](size uint64) *Queue[T] {
	cap := nextPow2Uint64(size)
	return &Queue[T]{
		buf:  make([]T, cap),
		mask: cap - 1,
	}
}

// Push appends an item, growing the buffer when it is full.
func (q *Queue[T]) Push(item T) {
	if q.tail-q.head == uint64(len(q.buf)) {
		q.grow()
	}
	q.buf[q.tail&q.mask] = item
	q.tail++
}

// Peek returns the head item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	if q.tail == q.head {
		return zero, false
	}
	return q.buf[q.head&q.mask], true
}

// Pop removes and returns the head item. It returns false if the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.tail == q.head {
		return zero, false
	}
	idx := q.head & q.mask
	item := q.buf[idx]
	q.buf[idx] = zero // drop the reference so pooled buffers can be collected.
	q.head++
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return int(q.tail - q.head)
}

// Cap returns the current capacity of the buffer.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Drain pops every item, handing each to fn in FIFO order.
func (q *Queue[T]) Drain(fn func(T)) {
	for {
		item, ok := q.Pop()
		if !ok {
			return
		}
		if fn != nil {
			fn(item)
		}
	}
}

func (q *Queue[T]) grow() {
	n := q.Len()
	next := make([]T, len(q.buf)*2)
	for i := 0; i < n; i++ {
		next[i] = q.buf[(q.head+uint64(i))&q.mask]
	}
	q.buf = next
	q.mask = uint64(len(next)) - 1
	q.head = 0
	q.tail = uint64(n)
}
