package rtnet

import (
	"net"
	"sync"
	"sync/atomic"
)

// CompletionFunc handles a finished operation. It returns true when the
// owner should issue the next operation on the same context.
type CompletionFunc func(op *OpContext) bool

// OpContext bundles the resources behind one asynchronous socket operation:
// the buffer slot, the remote endpoint slot, the result and a completion hook.
// A context is loaned to exactly one in-flight operation at a time.
type OpContext struct {
	Buffer []byte   // data slot for the operation.
	Remote net.Addr // remote endpoint for datagram operations.
	N      int      // bytes transferred by the last operation.
	Err    error    // error returned by the last operation.

	completed CompletionFunc
}

// OnComplete attaches the completion hook.
func (op *OpContext) OnComplete(fn CompletionFunc) {
	op.completed = fn
}

// Complete records the result of an operation and runs the completion hook.
// Without a hook the context is considered detached and the owner stops.
func (op *OpContext) Complete(n int, err error) bool {
	op.N = n
	op.Err = err
	if op.completed == nil {
		return false
	}
	return op.completed(op)
}

func (op *OpContext) scrub() {
	op.Buffer = nil
	op.Remote = nil
	op.N = 0
	op.Err = nil
	op.completed = nil
}

// OpContextPool recycles OpContext values so steady-state I/O does not
// allocate per operation. The pool has no upper bound.
type OpContextPool struct {
	mu      sync.Mutex
	idle    *Queue[*OpContext]
	created atomic.Uint64
}

// NewOpContextPool creates an empty pool.
func NewOpContextPool() *OpContextPool {
	return &OpContextPool{
		idle: NewQueue[*OpContext](16),
	}
}

// Acquire returns an idle context, or a fresh one when the pool is empty.
func (p *OpContextPool) Acquire() *OpContext {
	p.mu.Lock()
	op, ok := p.idle.Pop()
	p.mu.Unlock()

	if ok {
		return op
	}

	p.created.Add(1)

	return &OpContext{}
}

// Release scrubs the context and returns it to the pool.
func (p *OpContextPool) Release(op *OpContext) {
	if op == nil {
		return
	}
	op.scrub()

	p.mu.Lock()
	p.idle.Push(op)
	p.mu.Unlock()
}

// Idle returns the number of contexts waiting in the pool.
func (p *OpContextPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.idle.Len()
}

// Created returns how many contexts the pool has allocated in total.
func (p *OpContextPool) Created() uint64 {
	return p.created.Load()
}
